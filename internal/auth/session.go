// Package auth is the authentication/authorization kernel: OAuth2 login,
// AEAD-sealed session cookies, bearer/basic token verification and the
// role predicates the rest of the API consults. The cookie and token
// digest primitives generalize the teacher's single HMAC-SHA256 password
// check (registry.go's Basic-auth block, main.go's adduser) to the
// memory-hard/AEAD primitives this design calls for.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

func encodeCookie(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func decodeCookie(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

const (
	cookieName  = "regsess"
	sessionTTL  = 30 * 24 * time.Hour
	reissueHalf = sessionTTL / 2
)

// Sessions seals and opens session cookies with an AEAD keyed by the
// operator-configured cookie secret, in place of the teacher's JSON
// cookie (vex carries no cookie at all; this is grounded on its HMAC
// primitive, upgraded to authenticated encryption so the cookie also
// hides the UserID rather than merely signing it).
type Sessions struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

func NewSessions(secret []byte) (*Sessions, error) {
	aead, err := chacha20poly1305.New(secret[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, err
	}
	return &Sessions{aead: aead}, nil
}

type sessionPayload struct {
	UserID   int64
	IssuedAt int64
}

func encodePayload(p sessionPayload) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.UserID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.IssuedAt))
	return buf
}

func decodePayload(buf []byte) (sessionPayload, error) {
	if len(buf) != 16 {
		return sessionPayload{}, errors.New("bad session payload length")
	}
	return sessionPayload{
		UserID:   int64(binary.BigEndian.Uint64(buf[0:8])),
		IssuedAt: int64(binary.BigEndian.Uint64(buf[8:16])),
	}, nil
}

// Issue sets a fresh session cookie for userID on w.
func (s *Sessions) Issue(w http.ResponseWriter, userID int64) error {
	return s.issueAt(w, userID, time.Now())
}

func (s *Sessions) issueAt(w http.ResponseWriter, userID int64, now time.Time) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	plain := encodePayload(sessionPayload{UserID: userID, IssuedAt: now.Unix()})
	sealed := s.aead.Seal(nil, nonce, plain, nil)
	value := append(nonce, sealed...)
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encodeCookie(value),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

// UserID returns the authenticated user id carried in r's session cookie,
// transparently sliding the TTL forward (re-issuing the cookie) once the
// session has passed the halfway point of its remaining life.
func (s *Sessions) UserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return s.userIDAt(w, r, time.Now())
}

func (s *Sessions) userIDAt(w http.ResponseWriter, r *http.Request, now time.Time) (int64, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return 0, false
	}
	raw, err := decodeCookie(c.Value)
	if err != nil || len(raw) < s.aead.NonceSize() {
		return 0, false
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return 0, false
	}
	p, err := decodePayload(plain)
	if err != nil {
		return 0, false
	}
	issued := time.Unix(p.IssuedAt, 0)
	if now.Sub(issued) > sessionTTL {
		return 0, false
	}
	if now.Sub(issued) > reissueHalf {
		_ = s.issueAt(w, p.UserID, now)
	}
	return p.UserID, true
}

// Clear removes the session cookie, used by logout.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: cookieName, Path: "/", MaxAge: -1})
}
