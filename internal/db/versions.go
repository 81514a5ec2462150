package db

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/mjl-/bstore"
)

// Versions is the typed repository for DBPackageVersion and
// DBPackageVersionDocs rows.
type Versions struct{ db *DB }

func (d *DB) Versions() Versions { return Versions{d} }

func (v Versions) Get(ctx context.Context, pkg, version string) (DBPackageVersion, error) {
	return bstore.QueryDB[DBPackageVersion](ctx, v.db.bdb).FilterNonzero(DBPackageVersion{Package: pkg, Version: version}).Get()
}

func (v Versions) List(ctx context.Context, pkg string) ([]DBPackageVersion, error) {
	return bstore.QueryDB[DBPackageVersion](ctx, v.db.bdb).FilterNonzero(DBPackageVersion{Package: pkg}).SortAsc("UploadedAt").List()
}

// InsertTx inserts a new version row inside an existing transaction, as a
// step of the publication pipeline.
func (v Versions) InsertTx(tx *bstore.Tx, pv DBPackageVersion) (DBPackageVersion, error) {
	err := tx.Insert(&pv)
	return pv, err
}

func (v Versions) SetYanked(ctx context.Context, pkg, version string, yanked bool) error {
	return v.db.Write(ctx, func(tx *bstore.Tx) error {
		pv, err := bstore.QueryTx[DBPackageVersion](tx).FilterNonzero(DBPackageVersion{Package: pkg, Version: version}).Get()
		if err != nil {
			return err
		}
		pv.Yanked = yanked
		return tx.Update(&pv)
	})
}

const histogramDays = 365

// RecordDownload increments the version's lifetime counter and rotates the
// packed per-day histogram described in spec.md §6.4: 365 little-endian
// uint32 bins, one per day, rotated in place on each increment so bin 0
// always represents "today".
func (v Versions) RecordDownload(ctx context.Context, pkg, version string, now time.Time) error {
	return v.db.Write(ctx, func(tx *bstore.Tx) error {
		pv, err := bstore.QueryTx[DBPackageVersion](tx).FilterNonzero(DBPackageVersion{Package: pkg, Version: version}).Get()
		if err != nil {
			return err
		}
		pv.Downloads++
		pv.Histogram = rotateHistogram(pv.Histogram, pv.HistogramEpoch, now)
		bumpBin(pv.Histogram, 0)
		pv.HistogramEpoch = truncateToDay(now)
		return tx.Update(&pv)
	})
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rotateHistogram shifts bins forward by the number of days elapsed since
// epoch, dropping bins older than histogramDays and zero-filling newly
// exposed recent bins. A nil/short slice is treated as all-zero.
func rotateHistogram(hist []byte, epoch, now time.Time) []byte {
	want := histogramDays * 4
	if len(hist) != want {
		hist = make([]byte, want)
	}
	if epoch.IsZero() {
		return hist
	}
	days := int(truncateToDay(now).Sub(truncateToDay(epoch)).Hours() / 24)
	if days <= 0 {
		return hist
	}
	if days >= histogramDays {
		return make([]byte, want)
	}
	shifted := make([]byte, want)
	copy(shifted[days*4:], hist[:want-days*4])
	return shifted
}

func bumpBin(hist []byte, bin int) {
	off := bin * 4
	v := binary.LittleEndian.Uint32(hist[off : off+4])
	binary.LittleEndian.PutUint32(hist[off:off+4], v+1)
}

// HistogramBins decodes the packed histogram into per-day counts, bin 0 is
// today.
func HistogramBins(hist []byte) []uint32 {
	out := make([]uint32, histogramDays)
	if len(hist) != histogramDays*4 {
		return out
	}
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(hist[i*4 : i*4+4])
	}
	return out
}

func (v Versions) RefreshDepsCache(ctx context.Context, pkg, version string, hasOutdated, hasCVEs bool, checked time.Time) error {
	return v.db.Write(ctx, func(tx *bstore.Tx) error {
		pv, err := bstore.QueryTx[DBPackageVersion](tx).FilterNonzero(DBPackageVersion{Package: pkg, Version: version}).Get()
		if err != nil {
			return err
		}
		pv.DepsHasOutdated = hasOutdated
		pv.DepsHasCVEs = hasCVEs
		pv.DepsLastCheck = checked
		return tx.Update(&pv)
	})
}

// StaleForAnalysis returns non-yanked versions whose DepsLastCheck is older
// than staleAfter. Callers filter further for "latest within major" (see
// internal/depanalyzer).
func (v Versions) StaleForAnalysis(ctx context.Context, staleAfter time.Time) ([]DBPackageVersion, error) {
	var out []DBPackageVersion
	err := bstore.QueryDB[DBPackageVersion](ctx, v.db.bdb).FilterEqual("Yanked", false).ForEach(func(pv DBPackageVersion) error {
		if pv.DepsLastCheck.Before(staleAfter) {
			out = append(out, pv)
		}
		return nil
	})
	return out, err
}

// Delete removes a version row, used by admin deletion (cascades to docs
// rows are the caller's responsibility, mirroring the teacher's explicit
// multi-step cleanup in manifestDelete rather than DB-level cascade).
func (v Versions) Delete(ctx context.Context, pkg, version string) error {
	return v.db.Write(ctx, func(tx *bstore.Tx) error {
		_, err := bstore.QueryTx[DBPackageVersion](tx).FilterNonzero(DBPackageVersion{Package: pkg, Version: version}).Delete()
		return err
	})
}

// --- docs ---

func (v Versions) InsertDocsRowTx(tx *bstore.Tx, pkg, version, target string) error {
	return tx.Insert(&DBPackageVersionDocs{Package: pkg, Version: version, Target: target})
}

func (v Versions) MarkDocsResult(ctx context.Context, pkg, version, target string, present bool) error {
	return v.db.Write(ctx, func(tx *bstore.Tx) error {
		row, err := bstore.QueryTx[DBPackageVersionDocs](tx).FilterNonzero(DBPackageVersionDocs{Package: pkg, Version: version, Target: target}).Get()
		if err != nil {
			return err
		}
		row.IsAttempted = true
		row.IsPresent = present
		return tx.Update(&row)
	})
}

func (v Versions) DocsRows(ctx context.Context, pkg, version string) ([]DBPackageVersionDocs, error) {
	return bstore.QueryDB[DBPackageVersionDocs](ctx, v.db.bdb).FilterNonzero(DBPackageVersionDocs{Package: pkg, Version: version}).List()
}
