package auth

import (
	"net/http"
	"strings"

	"github.com/cratehost/cratehost/internal/db"
)

// Kernel bundles the three credential sources a request can carry, so
// internal/api's handlers have one call to make instead of three.
type Kernel struct {
	Sessions *Sessions
	Tokens   *Tokens
	Users    db.Users
}

// Authenticate resolves r's Principal from, in order: a session cookie
// (browser/HTML surface), an HTTP Basic Authorization header (cargo login
// and `cargo` itself for some registries), or a Bearer Authorization
// header (cargo's normal per-request token). An unrecognized or absent
// credential resolves to the anonymous Principal{} rather than an error —
// callers decide whether anonymous access is permitted via the C3
// predicates.
func (k *Kernel) Authenticate(w http.ResponseWriter, r *http.Request) Principal {
	if uid, ok := k.Sessions.UserID(w, r); ok {
		if u, err := k.Users.Get(r.Context(), uid); err == nil {
			return Principal{User: &u}
		}
	}

	h := strings.TrimSpace(r.Header.Get("Authorization"))
	switch {
	case strings.HasPrefix(h, "Bearer "):
		secret := strings.TrimPrefix(h, "Bearer ")
		tok, err := k.Tokens.VerifyBearer(r.Context(), secret)
		if err != nil {
			return Principal{}
		}
		return principalForToken(r, k, tok)
	case strings.HasPrefix(h, "Basic "):
		login, secret, ok := r.BasicAuth()
		if !ok {
			return Principal{}
		}
		tok, err := k.Tokens.VerifyBasic(r.Context(), login, secret)
		if err != nil {
			return Principal{}
		}
		return principalForToken(r, k, tok)
	}
	return Principal{}
}

func principalForToken(r *http.Request, k *Kernel, tok db.DBToken) Principal {
	p := Principal{Token: &tok}
	if tok.UserID != 0 {
		if u, err := k.Users.Get(r.Context(), tok.UserID); err == nil {
			p.User = &u
		}
	}
	return p
}
