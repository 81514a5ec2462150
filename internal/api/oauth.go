package api

import "net/http"

func (h *handler) oauthLogin(args []string, w http.ResponseWriter, r *http.Request) {
	h.OAuth.LoginStart(w, r)
}

func (h *handler) oauthCallback(args []string, w http.ResponseWriter, r *http.Request) {
	h.OAuth.Callback(r.Context(), w, r)
	http.Redirect(w, r, "/", http.StatusFound)
}
