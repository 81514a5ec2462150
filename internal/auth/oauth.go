package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/config"
	"github.com/cratehost/cratehost/internal/db"
)

const stateCookieName = "regoauthstate"

// OAuth drives the authorization-code login flow. The state-cookie HMAC is
// the same primitive as the teacher's password check (hmac.New(sha256.New,
// salt)), generalized here from "verify a password" to "verify this
// callback belongs to the login attempt we started."
type OAuth struct {
	conf          oauth2.Config
	stateKey      []byte
	userinfoURL   string
	emailPath     string
	namePath      string
	sessions      *Sessions
	users         db.Users
}

func New(cfg config.Config, stateKey []byte, sessions *Sessions, users db.Users) *OAuth {
	return &OAuth{
		conf: oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuth.AuthURL,
				TokenURL: cfg.OAuth.TokenURL,
			},
			Scopes: []string{"openid", "email", "profile"},
		},
		stateKey:    stateKey,
		userinfoURL: cfg.OAuth.UserinfoURL,
		emailPath:   cfg.OAuth.EmailJSONPath,
		namePath:    cfg.OAuth.NameJSONPath,
		sessions:    sessions,
		users:       users,
	}
}

func (o *OAuth) signState(nonce []byte) []byte {
	hm := hmac.New(sha256.New, o.stateKey)
	hm.Write(nonce)
	return hm.Sum(nil)
}

// LoginStart redirects the browser to the provider's authorization
// endpoint, leaving behind a state cookie to be validated on callback.
func (o *OAuth) LoginStart(w http.ResponseWriter, r *http.Request) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		panic(apierr.Internalf("generating oauth state: %v", err))
	}
	sig := o.signState(nonce)
	state := base64.RawURLEncoding.EncodeToString(append(nonce, sig...))
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, o.conf.AuthCodeURL(state), http.StatusFound)
}

// Callback validates the state cookie, exchanges the code, fetches
// userinfo and upserts the local DBUser, then issues a session.
func (o *OAuth) Callback(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		panic(apierr.Unauthorizedf("missing oauth state cookie"))
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})

	if r.URL.Query().Get("state") != c.Value {
		panic(apierr.Unauthorizedf("oauth state mismatch"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil || len(raw) != 16+sha256.Size {
		panic(apierr.Unauthorizedf("malformed oauth state"))
	}
	nonce, sig := raw[:16], raw[16:]
	if !hmac.Equal(sig, o.signState(nonce)) {
		panic(apierr.Unauthorizedf("oauth state signature mismatch"))
	}

	code := r.URL.Query().Get("code")
	tok, err := o.conf.Exchange(ctx, code)
	apierr.Check(err, "exchanging oauth code")

	email, name := o.fetchUserinfo(ctx, tok)
	login := strings.SplitN(email, "@", 2)[0]
	u, err := o.users.UpsertFromOAuth(ctx, email, login, name)
	apierr.Check(err, "upserting oauth user")

	apierr.Check(o.sessions.Issue(w, u.ID), "issuing session")
}

func (o *OAuth) fetchUserinfo(ctx context.Context, tok *oauth2.Token) (email, name string) {
	client := o.conf.Client(ctx, tok)
	resp, err := client.Get(o.userinfoURL)
	apierr.Check(err, "fetching userinfo")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		panic(apierr.UpstreamUnavailablef("userinfo endpoint returned %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	apierr.Check(err, "reading userinfo body")

	var doc any
	apierr.Check(json.Unmarshal(body, &doc), "decoding userinfo json")
	email = jsonPath(doc, o.emailPath)
	name = jsonPath(doc, o.namePath)
	if email == "" {
		panic(apierr.Unauthorizedf("userinfo response has no usable email"))
	}
	return email, name
}

// jsonPath walks a dot-separated path ("profile.email") through a decoded
// JSON document, returning "" if any segment is absent or not a string at
// the end of the walk.
func jsonPath(doc any, path string) string {
	if path == "" {
		return ""
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[seg]
		if !ok {
			return ""
		}
	}
	s, _ := cur.(string)
	return s
}

