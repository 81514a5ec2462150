package api

import (
	"net/http"
	"strconv"

	"github.com/cratehost/cratehost/internal/apierr"
)

func (h *handler) adminTokensList(args []string, w http.ResponseWriter, r *http.Request) {
	uid := h.principalUserID()
	var tokens any
	var err error
	if h.requireAdminOrSelf() {
		tokens, err = h.DB.Tokens().ListGlobal(r.Context())
	} else {
		tokens, err = h.DB.Tokens().ListForUser(r.Context(), uid)
	}
	apierr.Check(err, "listing tokens")
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// requireAdminOrSelf reports whether the current principal is an admin
// (to whom adminTokensList shows the global tokens); anyone else is shown
// only their own tokens, which adminTokensList does directly rather than
// panicking.
func (h *handler) requireAdminOrSelf() bool {
	if h.principal.User == nil || !h.principal.User.IsAdmin() {
		return false
	}
	return true
}

type createTokenRequest struct {
	Name     string `json:"name"`
	UserID   int64  `json:"user_id"`
	CanWrite bool   `json:"can_write"`
	CanAdmin bool   `json:"can_admin"`
}

type createTokenResponse struct {
	Token string `json:"token"`
}

// adminTokensCreate implements POST /api/v1/admin/tokens. A user may
// create a token for themselves; only an admin may set user_id to someone
// else or grant CanAdmin.
func (h *handler) adminTokensCreate(args []string, w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	decodeJSON(r, &req)

	isAdmin := h.requireAdminOrSelf()
	userID := req.UserID
	if userID == 0 {
		userID = h.principalUserID()
	}
	if userID != h.principalUserID() && !isAdmin {
		panic(apierr.Forbiddenf("cannot create a token for another user"))
	}
	if req.CanAdmin && !isAdmin {
		panic(apierr.Forbiddenf("only an admin may grant can_admin"))
	}

	secret, err := h.Auth.Tokens.CreateToken(r.Context(), userID, req.Name, req.CanWrite, req.CanAdmin)
	apierr.Check(err, "creating token")
	respondCreated(w, createTokenResponse{Token: secret})
}

func (h *handler) adminTokensRevoke(args []string, w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(args[0], 10, 64)
	tok, err := h.DB.Tokens().Get(r.Context(), id)
	if err != nil {
		panic(apierr.NotFoundf("token %d not found", id))
	}
	if tok.UserID != h.principalUserID() && !h.requireAdminOrSelf() {
		panic(apierr.Forbiddenf("cannot revoke another user's token"))
	}
	apierr.Check(h.DB.Tokens().Revoke(r.Context(), id), "revoking token")
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}
