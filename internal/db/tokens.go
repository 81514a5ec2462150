package db

import (
	"context"
	"time"

	"github.com/mjl-/bstore"
)

// Tokens is the typed repository for DBToken rows.
type Tokens struct{ db *DB }

func (d *DB) Tokens() Tokens { return Tokens{d} }

func (t Tokens) Create(ctx context.Context, tok DBToken) (DBToken, error) {
	err := t.db.Write(ctx, func(tx *bstore.Tx) error {
		return tx.Insert(&tok)
	})
	return tok, err
}

func (t Tokens) Get(ctx context.Context, id int64) (DBToken, error) {
	tok := DBToken{ID: id}
	err := t.db.bdb.Get(ctx, &tok)
	return tok, err
}

// ListForUser returns every token owned by userID (user tokens only).
func (t Tokens) ListForUser(ctx context.Context, userID int64) ([]DBToken, error) {
	return bstore.QueryDB[DBToken](ctx, t.db.bdb).FilterNonzero(DBToken{UserID: userID}).SortDesc("Created").List()
}

// ListGlobal returns every global (read-only) token, UserID == 0.
func (t Tokens) ListGlobal(ctx context.Context) ([]DBToken, error) {
	return bstore.QueryDB[DBToken](ctx, t.db.bdb).FilterEqual("UserID", int64(0)).List()
}

func (t Tokens) Revoke(ctx context.Context, id int64) error {
	return t.db.Write(ctx, func(tx *bstore.Tx) error {
		_, err := bstore.QueryTx[DBToken](tx).FilterNonzero(DBToken{ID: id}).Delete()
		return err
	})
}

// TouchLastUsed is a best-effort, non-transactional update, mirroring the
// teacher's "not everything needs to be in the critical path" posture for
// incidental bookkeeping writes.
func (t Tokens) TouchLastUsed(ctx context.Context, id int64) {
	_ = t.db.Write(ctx, func(tx *bstore.Tx) error {
		tok := DBToken{ID: id}
		if err := tx.Get(&tok); err != nil {
			return err
		}
		tok.LastUsed = time.Now()
		return tx.Update(&tok)
	})
}

// CandidatesByPrefix returns every token whose stored Prefix matches,
// used to resolve a bearer secret sent without an accompanying login
// (spec.md §4.3: "resolves... by token-name-prefix" for global tokens) down
// to a small candidate set before the expensive argon2 digest comparison.
func (t Tokens) CandidatesByPrefix(ctx context.Context, prefix string) ([]DBToken, error) {
	return bstore.QueryDB[DBToken](ctx, t.db.bdb).FilterNonzero(DBToken{Prefix: prefix}).List()
}
