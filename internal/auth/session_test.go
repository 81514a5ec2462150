package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionsIssueAndRead(t *testing.T) {
	secret := make([]byte, 32)
	s, err := NewSessions(secret)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := s.Issue(rec, 42); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	rec2 := httptest.NewRecorder()
	id, ok := s.UserID(rec2, req)
	if !ok || id != 42 {
		t.Fatalf("UserID = %v, %v, want 42, true", id, ok)
	}
}

func TestSessionsExpired(t *testing.T) {
	secret := make([]byte, 32)
	s, err := NewSessions(secret)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := s.issueAt(rec, 7, time.Now().Add(-31*24*time.Hour)); err != nil {
		t.Fatalf("issueAt: %v", err)
	}
	req := httptest.NewRequest("GET", "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec2 := httptest.NewRecorder()
	if _, ok := s.UserID(rec2, req); ok {
		t.Fatal("UserID on expired session: want false")
	}
}

func TestSessionsRejectsTamperedCookie(t *testing.T) {
	secret := make([]byte, 32)
	s, err := NewSessions(secret)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := s.Issue(rec, 1); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cookies := rec.Result().Cookies()
	cookies[0].Value = cookies[0].Value + "x"

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookies[0])
	rec2 := httptest.NewRecorder()
	if _, ok := s.UserID(rec2, req); ok {
		t.Fatal("UserID on tampered cookie: want false")
	}
}
