package db

import (
	"context"
	"strings"

	"github.com/mjl-/bstore"
)

// Users is the typed repository for DBUser rows.
type Users struct{ db *DB }

func (d *DB) Users() Users { return Users{d} }

// UpsertFromOAuth creates or updates the user identified by email, called
// from the OAuth callback (C3). The very first user ever created is
// implicitly made admin, per spec.md §3.
func (u Users) UpsertFromOAuth(ctx context.Context, email, login, displayName string) (DBUser, error) {
	var result DBUser
	err := u.db.Write(ctx, func(tx *bstore.Tx) error {
		existing, err := bstore.QueryTx[DBUser](tx).FilterNonzero(DBUser{Email: email}).Get()
		if err == nil {
			existing.Login = login
			existing.DisplayName = displayName
			if uerr := tx.Update(&existing); uerr != nil {
				return uerr
			}
			result = existing
			return nil
		}
		if err != bstore.ErrAbsent {
			return err
		}

		anyExisting, err := bstore.QueryTx[DBUser](tx).Exists()
		if err != nil {
			return err
		}
		roles := ""
		if !anyExisting {
			roles = "admin"
		}
		nu := DBUser{Email: email, Login: login, DisplayName: displayName, Roles: roles, Active: true}
		if err := tx.Insert(&nu); err != nil {
			return err
		}
		result = nu
		return nil
	})
	return result, err
}

func (u Users) Get(ctx context.Context, id int64) (DBUser, error) {
	usr := DBUser{ID: id}
	err := u.db.bdb.Get(ctx, &usr)
	return usr, err
}

func (u Users) GetByLogin(ctx context.Context, login string) (DBUser, error) {
	return bstore.QueryDB[DBUser](ctx, u.db.bdb).FilterNonzero(DBUser{Login: login}).Get()
}

func (u Users) Deactivate(ctx context.Context, id int64) error {
	return u.db.Write(ctx, func(tx *bstore.Tx) error {
		usr := DBUser{ID: id}
		if err := tx.Get(&usr); err != nil {
			return err
		}
		usr.Active = false
		return tx.Update(&usr)
	})
}

// HasRole reports whether the user's comma-separated role set contains role.
func HasRole(roles, role string) bool {
	for _, r := range strings.Split(roles, ",") {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

func (u DBUser) IsAdmin() bool { return HasRole(u.Roles, "admin") }
