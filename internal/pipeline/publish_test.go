package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/blobstore"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/index"
)

func makeCrateTarball(t *testing.T, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	toml := []byte("[package]\nname = \"" + name + "\"\nversion = \"" + version + "\"\n")
	if err := tw.WriteHeader(&tar.Header{Name: name + "-" + version + "/Cargo.toml", Size: int64(len(toml)), Mode: 0644}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(toml); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	readme := []byte("# " + name)
	if err := tw.WriteHeader(&tar.Header{Name: name + "-" + version + "/README.md", Size: int64(len(readme)), Mode: 0644}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(readme); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func makePublishBody(t *testing.T, manifest any, tarball []byte) *bytes.Buffer {
	t.Helper()
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(manifestJSON)))
	buf.Write(lenBuf[:])
	buf.Write(manifestJSON)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(tarball)))
	buf.Write(lenBuf[:])
	buf.Write(tarball)
	return &buf
}

func newTestPublisher(t *testing.T) (*Publisher, int64) {
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

	idx, err := index.Open(ctx, index.Config{
		Location:         t.TempDir(),
		PublicConfigJSON: []byte(`{}`),
		UserName:         "registry",
		UserEmail:        "registry@localhost",
	})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}

	u, err := d.Users().UpsertFromOAuth(ctx, "a@example.com", "alice", "Alice")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}

	return &Publisher{
		DB:              d,
		Blobs:           blobs,
		Index:           idx,
		BodyLimit:       10 * 1024 * 1024,
		KnownRegistries: map[string]bool{"local": true},
	}, u.ID
}

func TestPublishNewCrate(t *testing.T) {
	ctx := context.Background()
	p, userID := newTestPublisher(t)
	principal := auth.Principal{User: &db.DBUser{ID: userID, Roles: ""}}

	tarball := makeCrateTarball(t, "widget", "0.1.0")
	manifest := map[string]any{
		"name":        "widget",
		"vers":        "0.1.0",
		"deps":        []any{},
		"description": "a widget crate",
	}
	body := makePublishBody(t, manifest, tarball)

	res := p.Publish(ctx, principal, userID, body)
	if res.Package.Name != "widget" {
		t.Fatalf("Package.Name = %q, want widget", res.Package.Name)
	}
	if res.Version.Version != "0.1.0" {
		t.Fatalf("Version.Version = %q, want 0.1.0", res.Version.Version)
	}

	entries, err := p.Index.Get("widget")
	if err != nil {
		t.Fatalf("Index.Get: %v", err)
	}
	if len(entries) != 1 || entries[0].Vers != "0.1.0" {
		t.Fatalf("index entries = %+v, want one 0.1.0 entry", entries)
	}

	exists, err := p.Blobs.Exists(ctx, blobstore.CrateKey("widget", "0.1.0"))
	if err != nil || !exists {
		t.Fatalf("blob exists = %v, %v, want true, nil", exists, err)
	}

	jobs, err := p.DB.Jobs().ListQueued(ctx)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
}

func TestPublishIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	p, userID := newTestPublisher(t)
	principal := auth.Principal{User: &db.DBUser{ID: userID, Roles: ""}}

	tarball := makeCrateTarball(t, "widget", "0.1.0")
	manifest := map[string]any{"name": "widget", "vers": "0.1.0", "deps": []any{}}

	first := p.Publish(ctx, principal, userID, makePublishBody(t, manifest, tarball))
	second := p.Publish(ctx, principal, userID, makePublishBody(t, manifest, tarball))

	if first.Version.ID != second.Version.ID {
		t.Fatalf("replay returned a different version row: %d vs %d", first.Version.ID, second.Version.ID)
	}

	jobs, err := p.DB.Jobs().ListQueued(ctx)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d after replay, want 1 (no duplicate enqueue)", len(jobs))
	}
}

func TestPublishRejectsVersionExistsWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	p, userID := newTestPublisher(t)
	principal := auth.Principal{User: &db.DBUser{ID: userID, Roles: ""}}

	tarball := makeCrateTarball(t, "widget", "0.1.0")
	manifest := map[string]any{"name": "widget", "vers": "0.1.0", "deps": []any{}}
	p.Publish(ctx, principal, userID, makePublishBody(t, manifest, tarball))

	differentTarball := makeCrateTarball(t, "widget", "0.1.0")
	differentTarball = append(differentTarball, 0) // perturb checksum

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Publish with changed content at same version: want panic (VersionExists)")
		}
	}()
	p.Publish(ctx, principal, userID, makePublishBody(t, manifest, differentTarball))
}

func TestPublishRejectsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPublisher(t)

	tarball := makeCrateTarball(t, "widget", "0.1.0")
	manifest := map[string]any{"name": "widget", "vers": "0.1.0", "deps": []any{}}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("Publish with anonymous principal: want panic (Unauthenticated)")
		}
	}()
	p.Publish(ctx, auth.Principal{}, 0, makePublishBody(t, manifest, tarball))
}
