package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cratehost/cratehost/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestTokensCreateAndVerifyBearer(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	tk := NewTokens(d.Tokens(), d.Users())

	secret, err := tk.CreateToken(ctx, 0, "ci", false, false)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	tok, err := tk.VerifyBearer(ctx, secret)
	if err != nil {
		t.Fatalf("VerifyBearer: %v", err)
	}
	if tok.Name != "ci" {
		t.Fatalf("Name = %q, want ci", tok.Name)
	}

	if _, err := tk.VerifyBearer(ctx, secret+"x"); err == nil {
		t.Fatal("VerifyBearer with wrong secret: want error")
	}
}

func TestTokensVerifyBasic(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	u, err := d.Users().UpsertFromOAuth(ctx, "a@example.com", "alice", "Alice")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}

	tk := NewTokens(d.Tokens(), d.Users())
	secret, err := tk.CreateToken(ctx, u.ID, "laptop", true, false)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	tok, err := tk.VerifyBasic(ctx, "alice", secret)
	if err != nil {
		t.Fatalf("VerifyBasic: %v", err)
	}
	if !tok.CanWrite {
		t.Fatal("CanWrite = false, want true")
	}

	if _, err := tk.VerifyBasic(ctx, "bob", secret); err == nil {
		t.Fatal("VerifyBasic with wrong login: want error")
	}
}
