package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"

	"github.com/cratehost/cratehost/internal/db"
)

// Tokens verifies and issues bearer/basic tokens. Digests are argon2id over
// (salt, secret), upgraded from the teacher's hmac.New(sha256.New, salt)
// check per the memory-hard requirement; the compare itself keeps the
// teacher's constant-time discipline (hmac.Equal there, subtle's
// ConstantTimeCompare here).
type Tokens struct {
	repo  db.Tokens
	users db.Users
}

func NewTokens(repo db.Tokens, users db.Users) *Tokens { return &Tokens{repo, users} }

const prefixLen = 8

// argon2Params match the RFC-recommended interactive profile; token
// verification runs once per request so the cost must stay bounded.
var argon2Params = struct {
	time, memory uint32
	threads      uint8
	keyLen       uint32
}{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32}

func digestOf(salt, secret []byte) []byte {
	return argon2.IDKey(secret, salt, argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
}

var ErrInvalidToken = errors.New("invalid or unknown token")

// CreateToken inserts a new DBToken and returns the plaintext bearer string
// the caller must display exactly once; it is never recoverable afterward.
func (t *Tokens) CreateToken(ctx context.Context, userID int64, name string, canWrite, canAdmin bool) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	_, err := t.repo.Create(ctx, db.DBToken{
		UserID:   userID,
		Name:     name,
		Prefix:   encoded[:prefixLen],
		Salt:     salt,
		Digest:   digestOf(salt, secret),
		CanWrite: canWrite,
		CanAdmin: canAdmin,
	})
	if err != nil {
		return "", err
	}
	return encoded, nil
}

// VerifyBearer resolves a bearer secret sent without a login, as Cargo does
// for `Authorization: Bearer <secret>` (spec.md §4.3): candidates are
// narrowed by the secret's stored prefix before the constant-time digest
// compare.
func (t *Tokens) VerifyBearer(ctx context.Context, secret string) (db.DBToken, error) {
	if len(secret) < prefixLen {
		return db.DBToken{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		return db.DBToken{}, ErrInvalidToken
	}
	candidates, err := t.repo.CandidatesByPrefix(ctx, secret[:prefixLen])
	if err != nil {
		return db.DBToken{}, err
	}
	for _, cand := range candidates {
		if subtle.ConstantTimeCompare(cand.Digest, digestOf(cand.Salt, raw)) == 1 {
			t.repo.TouchLastUsed(ctx, cand.ID)
			return cand, nil
		}
	}
	return db.DBToken{}, ErrInvalidToken
}

// VerifyBasic resolves Authorization: Basic login:secret by looking up the
// user by login, then checking secret's digest against that user's tokens
// (a small set, where VerifyBearer must first narrow the whole token table
// by stored prefix).
func (t *Tokens) VerifyBasic(ctx context.Context, login, secret string) (db.DBToken, error) {
	u, err := t.users.GetByLogin(ctx, login)
	if err != nil {
		return db.DBToken{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil {
		return db.DBToken{}, ErrInvalidToken
	}
	candidates, err := t.repo.ListForUser(ctx, u.ID)
	if err != nil {
		return db.DBToken{}, err
	}
	for _, cand := range candidates {
		if subtle.ConstantTimeCompare(cand.Digest, digestOf(cand.Salt, raw)) == 1 {
			t.repo.TouchLastUsed(ctx, cand.ID)
			return cand, nil
		}
	}
	return db.DBToken{}, ErrInvalidToken
}
