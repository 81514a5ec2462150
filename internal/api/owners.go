package api

import (
	"net/http"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/db"
)

type ownerView struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type ownersResponse struct {
	Users []ownerView `json:"users"`
}

func (h *handler) listOwners(args []string, w http.ResponseWriter, r *http.Request) {
	owners, err := h.DB.Packages().Owners(r.Context(), args[0])
	apierr.Check(err, "listing owners of %s", args[0])

	out := ownersResponse{}
	for _, o := range owners {
		u, err := h.DB.Users().Get(r.Context(), o.UserID)
		apierr.Check(err, "loading owner %d", o.UserID)
		out.Users = append(out.Users, ownerView{ID: u.ID, Login: u.Login, Name: u.DisplayName})
	}
	respondJSON(w, http.StatusOK, out)
}

type ownersRequest struct {
	Users []string `json:"users"`
}

type msgResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// addOwners implements PUT /api/v1/crates/{name}/owners, spec.md §4.3:
// logins (not ids) are accepted on the wire, matching cargo's own client.
func (h *handler) addOwners(args []string, w http.ResponseWriter, r *http.Request) {
	pkg := args[0]
	if !auth.MayManageOwners(h.principal, h.isOwner(r.Context(), pkg)) {
		panic(apierr.Forbiddenf("not permitted to manage owners of %s", pkg))
	}
	var req ownersRequest
	decodeJSON(r, &req)

	for _, login := range req.Users {
		u, err := h.DB.Users().GetByLogin(r.Context(), login)
		if err == bstore.ErrAbsent {
			panic(apierr.NotFoundf("no such user %q", login))
		}
		apierr.Check(err, "looking up user %q", login)
		err = h.DB.Write(r.Context(), func(tx *bstore.Tx) error {
			return h.DB.Packages().AddOwnerTx(tx, pkg, u.ID)
		})
		if err == db.ErrOwnerAlreadyPresent {
			panic(apierr.Conflictf(apierr.CodeOwnerPresent, "%s is already an owner of %s", login, pkg))
		}
		apierr.Check(err, "adding owner %q to %s", login, pkg)
	}
	respondJSON(w, http.StatusOK, msgResponse{OK: true, Msg: "owners added"})
}

func (h *handler) removeOwners(args []string, w http.ResponseWriter, r *http.Request) {
	pkg := args[0]
	if !auth.MayManageOwners(h.principal, h.isOwner(r.Context(), pkg)) {
		panic(apierr.Forbiddenf("not permitted to manage owners of %s", pkg))
	}
	var req ownersRequest
	decodeJSON(r, &req)

	for _, login := range req.Users {
		u, err := h.DB.Users().GetByLogin(r.Context(), login)
		if err == bstore.ErrAbsent {
			panic(apierr.NotFoundf("no such user %q", login))
		}
		apierr.Check(err, "looking up user %q", login)
		if err := h.DB.Packages().RemoveOwner(r.Context(), pkg, u.ID); err != nil {
			if db.IsLastOwnerErr(err) {
				panic(apierr.Conflictf(apierr.CodeOwnerPresent, "cannot remove the last owner of %s", pkg))
			}
			apierr.Check(err, "removing owner %q from %s", login, pkg)
		}
	}
	respondJSON(w, http.StatusOK, msgResponse{OK: true, Msg: "owners removed"})
}
