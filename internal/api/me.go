package api

import (
	"net/http"

	"github.com/cratehost/cratehost/internal/apierr"
)

// me reports the caller's own identity, used by the web UI right after
// login and by scripts that only hold a token and want to know who it
// belongs to.
func (h *handler) me(args []string, w http.ResponseWriter, r *http.Request) {
	u := h.principal.User
	if u == nil {
		panic(apierr.Unauthorizedf("no authenticated user"))
	}
	respondOK(w, meResponse{Email: u.Email, Login: u.Login, Roles: u.Roles})
}

type meResponse struct {
	Email string `json:"email"`
	Login string `json:"login"`
	Roles string `json:"roles"`
}
