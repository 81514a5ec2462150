package db

import (
	"context"
	"testing"
	"time"

	"github.com/mjl-/bstore"
)

func seedVersion(t *testing.T, d *DB, pkg, version string) {
	t.Helper()
	ctx := context.Background()
	u, err := d.Users().UpsertFromOAuth(ctx, pkg+"@example.com", pkg+"-owner", "Owner")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}
	if err := d.Write(ctx, func(tx *bstore.Tx) error {
		if _, err := d.Packages().EnsureTx(tx, pkg, nil, nil, nil); err != nil {
			return err
		}
		_, err := d.Versions().InsertTx(tx, DBPackageVersion{
			Package:        pkg,
			Version:        version,
			UploadedAt:     time.Now(),
			UploadedBy:     u.ID,
			ChecksumSHA256: "deadbeef",
		})
		return err
	}); err != nil {
		t.Fatalf("seedVersion(%s, %s): %v", pkg, version, err)
	}
}

func TestVersionsSetYanked(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedVersion(t, d, "foo", "1.0.0")

	if err := d.Versions().SetYanked(ctx, "foo", "1.0.0", true); err != nil {
		t.Fatalf("SetYanked: %v", err)
	}
	pv, err := d.Versions().Get(ctx, "foo", "1.0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !pv.Yanked {
		t.Fatalf("Yanked = false, want true")
	}

	if err := d.Versions().SetYanked(ctx, "foo", "1.0.0", false); err != nil {
		t.Fatalf("SetYanked(false): %v", err)
	}
	pv, err = d.Versions().Get(ctx, "foo", "1.0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pv.Yanked {
		t.Fatalf("Yanked = true, want false")
	}
}

func TestRecordDownloadIncrementsCountAndTodayBin(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedVersion(t, d, "foo", "1.0.0")

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := d.Versions().RecordDownload(ctx, "foo", "1.0.0", now); err != nil {
			t.Fatalf("RecordDownload: %v", err)
		}
	}

	pv, err := d.Versions().Get(ctx, "foo", "1.0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pv.Downloads != 3 {
		t.Fatalf("Downloads = %d, want 3", pv.Downloads)
	}
	bins := HistogramBins(pv.Histogram)
	if bins[0] != 3 {
		t.Fatalf("bins[0] = %d, want 3", bins[0])
	}
	for i, b := range bins[1:] {
		if b != 0 {
			t.Fatalf("bins[%d] = %d, want 0", i+1, b)
		}
	}
}

func TestRecordDownloadRotatesHistogramAcrossDays(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedVersion(t, d, "foo", "1.0.0")

	day0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := d.Versions().RecordDownload(ctx, "foo", "1.0.0", day0); err != nil {
		t.Fatalf("RecordDownload day0: %v", err)
	}

	day2 := day0.AddDate(0, 0, 2)
	if err := d.Versions().RecordDownload(ctx, "foo", "1.0.0", day2); err != nil {
		t.Fatalf("RecordDownload day2: %v", err)
	}

	pv, err := d.Versions().Get(ctx, "foo", "1.0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	bins := HistogramBins(pv.Histogram)
	if bins[0] != 1 {
		t.Fatalf("bins[0] (today) = %d, want 1", bins[0])
	}
	if bins[2] != 1 {
		t.Fatalf("bins[2] (day0, shifted by 2) = %d, want 1", bins[2])
	}
}

func TestRecordDownloadRotationBeyondWindowZeroesHistogram(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedVersion(t, d, "foo", "1.0.0")

	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := d.Versions().RecordDownload(ctx, "foo", "1.0.0", day0); err != nil {
		t.Fatalf("RecordDownload day0: %v", err)
	}

	farFuture := day0.AddDate(2, 0, 0)
	if err := d.Versions().RecordDownload(ctx, "foo", "1.0.0", farFuture); err != nil {
		t.Fatalf("RecordDownload farFuture: %v", err)
	}

	pv, err := d.Versions().Get(ctx, "foo", "1.0.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	bins := HistogramBins(pv.Histogram)
	if bins[0] != 1 {
		t.Fatalf("bins[0] = %d, want 1", bins[0])
	}
	for i := 1; i < len(bins); i++ {
		if bins[i] != 0 {
			t.Fatalf("bins[%d] = %d, want 0 after window rolled over", i, bins[i])
		}
	}
}

func TestStaleForAnalysisSkipsYanked(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedVersion(t, d, "foo", "1.0.0")
	seedVersion(t, d, "foo", "1.1.0")

	if err := d.Versions().SetYanked(ctx, "foo", "1.1.0", true); err != nil {
		t.Fatalf("SetYanked: %v", err)
	}

	stale, err := d.Versions().StaleForAnalysis(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("StaleForAnalysis: %v", err)
	}
	if len(stale) != 1 || stale[0].Version != "1.0.0" {
		t.Fatalf("StaleForAnalysis = %+v, want only 1.0.0", stale)
	}
}

func TestDocsRowLifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	seedVersion(t, d, "foo", "1.0.0")

	if err := d.Write(ctx, func(tx *bstore.Tx) error {
		return d.Versions().InsertDocsRowTx(tx, "foo", "1.0.0", "x86_64-unknown-linux-gnu")
	}); err != nil {
		t.Fatalf("InsertDocsRowTx: %v", err)
	}

	if err := d.Versions().MarkDocsResult(ctx, "foo", "1.0.0", "x86_64-unknown-linux-gnu", true); err != nil {
		t.Fatalf("MarkDocsResult: %v", err)
	}

	rows, err := d.Versions().DocsRows(ctx, "foo", "1.0.0")
	if err != nil {
		t.Fatalf("DocsRows: %v", err)
	}
	if len(rows) != 1 || !rows[0].IsAttempted || !rows[0].IsPresent {
		t.Fatalf("DocsRows = %+v, want one attempted+present row", rows)
	}
}
