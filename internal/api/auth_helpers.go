package api

import (
	"context"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/auth"
)

func (h *handler) requireReadIndex() {
	if !auth.MayReadIndex(h.principal) {
		panic(apierr.Unauthorizedf("reading the index requires authentication"))
	}
}

func (h *handler) requireAdmin() {
	if !auth.MayAdmin(h.principal) {
		panic(apierr.Forbiddenf("admin access required"))
	}
}

func (h *handler) principalUserID() int64 {
	switch {
	case h.principal.User != nil:
		return h.principal.User.ID
	case h.principal.Token != nil:
		return h.principal.Token.UserID
	default:
		return 0
	}
}

// isOwner reports whether the current principal owns pkg, treating a
// not-yet-existing package as ownerless.
func (h *handler) isOwner(ctx context.Context, pkg string) bool {
	ok, err := h.DB.Packages().IsOwner(ctx, pkg, h.principalUserID())
	if err != nil && err != bstore.ErrAbsent {
		apierr.Raise(err)
	}
	return ok
}
