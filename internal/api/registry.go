package api

import "net/http"

// getConfig serves the sparse-index root config.json, always open: cargo
// fetches it before it has any credential to present.
func (h *handler) getConfig(args []string, w http.ResponseWriter, r *http.Request) {
	h.Index.ServeSparse(w, r)
}

// getSparseIndex serves one sharded index file. Per spec.md §4.3, reading
// the index at all requires an authenticated principal, unlike config.json.
func (h *handler) getSparseIndex(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireReadIndex()
	h.Index.ServeSparse(w, r)
}

func (h *handler) getInfoRefs(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireReadIndex()
	h.Index.ServeInfoRefs(w, r)
}

func (h *handler) postUploadPack(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireReadIndex()
	h.Index.ServeUploadPack(w, r)
}
