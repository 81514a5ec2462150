package db

import (
	"context"

	"github.com/mjl-/bstore"
)

// Orphans is the typed repository for DBOrphan rows: the admin-visible
// ledger of residual inconsistencies a pipeline's best-effort compensation
// could not fully resolve (spec.md §7).
type Orphans struct{ db *DB }

func (d *DB) Orphans() Orphans { return Orphans{d} }

func (o Orphans) Record(ctx context.Context, kind, key, note string) {
	_ = o.db.Write(ctx, func(tx *bstore.Tx) error {
		return tx.Insert(&DBOrphan{Kind: kind, Key: key, Note: note})
	})
}

func (o Orphans) List(ctx context.Context) ([]DBOrphan, error) {
	return bstore.QueryDB[DBOrphan](ctx, o.db.bdb).SortDesc("DetectedAt").List()
}
