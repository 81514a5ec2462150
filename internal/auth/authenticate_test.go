package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestKernel(t *testing.T) (*Kernel, *Tokens, int64) {
	t.Helper()
	d := openTestDB(t)
	u, err := d.Users().UpsertFromOAuth(context.Background(), "a@example.com", "alice", "Alice")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}
	sessions, err := NewSessions(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	tk := NewTokens(d.Tokens(), d.Users())
	return &Kernel{Sessions: sessions, Tokens: tk, Users: d.Users()}, tk, u.ID
}

func TestAuthenticateAnonymousWithNoCredential(t *testing.T) {
	k, _, _ := newTestKernel(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	p := k.Authenticate(w, r)
	if p.User != nil || p.Token != nil {
		t.Fatalf("Authenticate with no credential = %+v, want anonymous", p)
	}
}

func TestAuthenticateBearerToken(t *testing.T) {
	k, tk, userID := newTestKernel(t)
	secret, err := tk.CreateToken(context.Background(), userID, "ci", true, false)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+secret)
	w := httptest.NewRecorder()

	p := k.Authenticate(w, r)
	if p.Token == nil || p.User == nil || p.User.ID != userID {
		t.Fatalf("Authenticate bearer = %+v, want resolved user %d", p, userID)
	}
}

func TestAuthenticateBasicAuth(t *testing.T) {
	k, tk, userID := newTestKernel(t)
	secret, err := tk.CreateToken(context.Background(), userID, "laptop", true, false)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("alice", secret)
	w := httptest.NewRecorder()

	p := k.Authenticate(w, r)
	if p.User == nil || p.User.ID != userID {
		t.Fatalf("Authenticate basic = %+v, want resolved user %d", p, userID)
	}
}

func TestAuthenticateRejectsGarbageBearer(t *testing.T) {
	k, _, _ := newTestKernel(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-real-token")
	w := httptest.NewRecorder()

	p := k.Authenticate(w, r)
	if p.User != nil || p.Token != nil {
		t.Fatalf("Authenticate with bad bearer = %+v, want anonymous", p)
	}
}

func TestAuthenticateSessionCookie(t *testing.T) {
	k, _, userID := newTestKernel(t)

	issueResp := httptest.NewRecorder()
	if err := k.Sessions.Issue(issueResp, userID); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range issueResp.Result().Cookies() {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()

	p := k.Authenticate(w, r)
	if p.User == nil || p.User.ID != userID {
		t.Fatalf("Authenticate session cookie = %+v, want resolved user %d", p, userID)
	}
}
