package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/blobstore"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/index"
	"github.com/cratehost/cratehost/internal/pipeline"
)

// testEnv wires up a full Server the way cmd/registryd does, minus the
// worker/analyzer/notifier goroutines, for handler-level HTTP tests.
type testEnv struct {
	srv     *Server
	db      *db.DB
	tokens  *auth.Tokens
	adminID int64
}

func newTestEnv(t *testing.T) *testEnv {
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
		PublicConfigJSON: []byte(`{"dl":"http://x/download","api":"http://x"}`),
		UserName:         "registry",
		UserEmail:        "registry@localhost",
	})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}

	sessions, err := auth.NewSessions(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	tokens := auth.NewTokens(d.Tokens(), d.Users())
	kernel := &auth.Kernel{Sessions: sessions, Tokens: tokens, Users: d.Users()}

	admin, err := d.Users().UpsertFromOAuth(ctx, "admin@example.com", "admin", "Admin")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}

	publisher := &pipeline.Publisher{
		DB:              d,
		Blobs:           blobs,
		Index:           idx,
		BodyLimit:       10 * 1024 * 1024,
		KnownRegistries: map[string]bool{"local": true},
	}

	srv := &Server{
		DB:        d,
		Index:     idx,
		Publisher: publisher,
		Auth:      kernel,
	}

	return &testEnv{srv: srv, db: d, tokens: tokens, adminID: admin.ID}
}

func (e *testEnv) bearerToken(t *testing.T, userID int64, canWrite, canAdmin bool) string {
	t.Helper()
	secret, err := e.tokens.CreateToken(context.Background(), userID, "test", canWrite, canAdmin)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return secret
}

func TestGetConfigIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.PublicMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/config.json")
	if err != nil {
		t.Fatalf("GET /config.json: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGetSparseIndexRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.PublicMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/wi/dg/widget")
	if err != nil {
		t.Fatalf("GET /wi/dg/widget: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDownloadNotFound(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t, env.adminID, true, false)
	ts := httptest.NewServer(env.srv.AuthMux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/crates/widget/0.1.0/download", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET download: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSearchEmptyReturnsEmptyList(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t, env.adminID, false, false)
	ts := httptest.NewServer(env.srv.AuthMux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/crates?q=widget", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestOwnersRequiresAdminCapability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.db.Write(ctx, func(tx *bstore.Tx) error {
		if _, err := env.db.Packages().EnsureTx(tx, "widget", nil, nil, nil); err != nil {
			return err
		}
		return env.db.Packages().AddOwnerTx(tx, "widget", env.adminID)
	}); err != nil {
		t.Fatalf("seeding package: %v", err)
	}

	otherUser, err := env.db.Users().UpsertFromOAuth(ctx, "bob@example.com", "bob", "Bob")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}
	token := env.bearerToken(t, otherUser.ID, true, false)

	ts := httptest.NewServer(env.srv.AuthMux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/crates/widget/owners", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Body = nil
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT owners: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
