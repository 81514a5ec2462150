package docjob

import (
	"archive/tar"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/blobstore"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/sse"
	"github.com/cratehost/cratehost/internal/worker"
)

func newTestService(t *testing.T) (*Service, *db.DB, db.DBDocGenJob) {
	t.Helper()
	ctx := context.Background()

	d, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	blobs, err := blobstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}

	// DBDocGenJob.Package and DBPackageVersionDocs.Package reference DBPackage.
	if err := d.Write(ctx, func(tx *bstore.Tx) error {
		_, err := d.Packages().EnsureTx(tx, "widget", nil, nil, nil)
		return err
	}); err != nil {
		t.Fatalf("seeding package: %v", err)
	}

	job, err := d.Jobs().Create(ctx, db.DBDocGenJob{
		Package:     "widget",
		Version:     "0.1.0",
		Target:      "x86_64-unknown-linux-gnu",
		TriggerKind: db.TriggerPublish,
	})
	if err != nil {
		t.Fatalf("Jobs().Create: %v", err)
	}

	if err := d.Write(ctx, func(tx *bstore.Tx) error {
		return d.Versions().InsertDocsRowTx(tx, job.Package, job.Version, job.Target)
	}); err != nil {
		t.Fatalf("InsertDocsRowTx: %v", err)
	}

	return &Service{DB: d, Blobs: blobs, SSE: sse.NewHub()}, d, job
}

func makeSiteArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("<html></html>")
	if err := tw.WriteHeader(&tar.Header{Name: "index.html", Size: int64(len(content)), Mode: 0644}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func TestFinishedSuccessStoresArchiveAndMarksPresent(t *testing.T) {
	ctx := context.Background()
	svc, d, job := newTestService(t)

	svc.Finished(ctx, job.ID, worker.OutcomeSuccess, makeSiteArchive(t), false)

	got, err := d.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Jobs().Get: %v", err)
	}
	if got.State != db.JobSucceeded {
		t.Fatalf("job state = %q, want succeeded", got.State)
	}

	rows, err := d.Versions().DocsRows(ctx, job.Package, job.Version)
	if err != nil {
		t.Fatalf("DocsRows: %v", err)
	}
	if len(rows) != 1 || !rows[0].IsPresent || !rows[0].IsAttempted {
		t.Fatalf("docs row = %+v, want attempted+present", rows)
	}

	exists, err := svc.Blobs.Exists(ctx, blobstore.DocsKey(job.Package, job.Version, job.Target, "index.html"))
	if err != nil || !exists {
		t.Fatalf("blob exists = %v, %v, want true, nil", exists, err)
	}
}

func TestFinishedFailureMarksNotPresent(t *testing.T) {
	ctx := context.Background()
	svc, d, job := newTestService(t)

	svc.Finished(ctx, job.ID, worker.OutcomeFailure, nil, false)

	got, err := d.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Jobs().Get: %v", err)
	}
	if got.State != db.JobFailed {
		t.Fatalf("job state = %q, want failed", got.State)
	}

	rows, err := d.Versions().DocsRows(ctx, job.Package, job.Version)
	if err != nil {
		t.Fatalf("DocsRows: %v", err)
	}
	if len(rows) != 1 || rows[0].IsPresent || !rows[0].IsAttempted {
		t.Fatalf("docs row = %+v, want attempted, not present", rows)
	}
}

func TestFinishedHonorsCancelRequested(t *testing.T) {
	ctx := context.Background()
	svc, d, job := newTestService(t)

	if _, err := d.Jobs().Transition(ctx, job.ID, func(j *db.DBDocGenJob) {
		j.CancelRequested = true
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	svc.Finished(ctx, job.ID, worker.OutcomeSuccess, makeSiteArchive(t), false)

	got, err := d.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Jobs().Get: %v", err)
	}
	if got.State != db.JobCancelled {
		t.Fatalf("job state = %q, want cancelled", got.State)
	}
}

func TestLogChunkAppendsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	svc, d, job := newTestService(t)

	ch, unsub := svc.SSE.For(job.ID).Subscribe()
	defer unsub()

	svc.LogChunk(ctx, job.ID, "building...\n")

	ev := <-ch
	if ev.Chunk != "building...\n" {
		t.Fatalf("broadcast chunk = %q", ev.Chunk)
	}

	got, err := d.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Jobs().Get: %v", err)
	}
	if got.Output != "building...\n" {
		t.Fatalf("persisted output = %q", got.Output)
	}
}
