package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/metrics"
)

// route is one entry of the path table, shaped exactly like the teacher's
// registryPath: a name (used as the metrics op label), a regexp whose
// capture groups become args, and one handler func per HTTP method the
// path supports.
type route struct {
	Name                                string
	Regexp                              *regexp.Regexp
	listener                            listener
	Head, Get, Post, Put, Patch, Delete func(h *handler, args []string, w http.ResponseWriter, r *http.Request)
}

// listener marks which of the three configured addresses a route is
// reachable on, mirroring config.Web's PublicAddr/AuthAddr/AdminAddr split.
// PublicMux and AuthMux share this one table and one Server; each skips
// the routes whose listener bitmask lacks its own listener.
type listener int

const (
	publicListener listener = 1 << iota
	authListener
	adminListener
)

var routes = []route{
	{Name: "config", listener: publicListener | authListener,
		Regexp: regexp.MustCompile(`^/config\.json$`),
		Get:    (*handler).getConfig},

	{Name: "sparseIndex", listener: publicListener | authListener,
		Regexp: regexp.MustCompile(`^/(1/[0-9a-z_-]{1,2}|3/[0-9a-z_-]/[0-9a-z_-]{3}|[0-9a-z_-]{2}/[0-9a-z_-]{2}/[0-9a-z_-]{4,})$`),
		Get:    (*handler).getSparseIndex},

	{Name: "gitInfoRefs", listener: publicListener | authListener,
		Regexp: regexp.MustCompile(`^/info/refs$`),
		Get:    (*handler).getInfoRefs},

	{Name: "gitUploadPack", listener: publicListener | authListener,
		Regexp: regexp.MustCompile(`^/git-upload-pack$`),
		Post:   (*handler).postUploadPack},

	{Name: "me", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/me$`),
		Get:    (*handler).me},

	{Name: "publish", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/crates/new$`),
		Put:    (*handler).publish},

	{Name: "search", listener: publicListener | authListener,
		Regexp: regexp.MustCompile(`^/api/v1/crates$`),
		Get:    (*handler).search},

	{Name: "download", listener: publicListener | authListener,
		Regexp: regexp.MustCompile(`^/api/v1/crates/([0-9a-zA-Z_-]+)/([0-9A-Za-z.+-]+)/download$`),
		Get:    (*handler).download},

	{Name: "yank", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/crates/([0-9a-zA-Z_-]+)/([0-9A-Za-z.+-]+)/yank$`),
		Delete: (*handler).yank},

	{Name: "unyank", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/crates/([0-9a-zA-Z_-]+)/([0-9A-Za-z.+-]+)/unyank$`),
		Put:    (*handler).unyank},

	{Name: "owners", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/crates/([0-9a-zA-Z_-]+)/owners$`),
		Get:    (*handler).listOwners,
		Put:    (*handler).addOwners,
		Delete: (*handler).removeOwners},

	{Name: "adminWorkers", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/workers$`),
		Get:    (*handler).adminWorkers},

	{Name: "adminWorkerConnect", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/workers/connect$`),
		Get:    (*handler).adminWorkerConnect},

	{Name: "adminJobs", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/jobs/docgen$`),
		Get:    (*handler).adminJobsList,
		Post:   (*handler).adminJobsCreate},

	{Name: "adminJob", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/jobs/docgen/(\d+)$`),
		Get:    (*handler).adminJobGet,
		Delete: (*handler).adminJobCancel},

	{Name: "adminJobCancel", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/jobs/docgen/(\d+)/cancel$`),
		Post:   (*handler).adminJobCancel},

	{Name: "adminJobLog", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/jobs/docgen/(\d+)/log$`),
		Get:    (*handler).adminJobLog},

	{Name: "adminOrphans", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/orphans$`),
		Get:    (*handler).adminOrphans},

	{Name: "adminTokens", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/tokens$`),
		Get:    (*handler).adminTokensList,
		Post:   (*handler).adminTokensCreate},

	{Name: "adminToken", listener: authListener,
		Regexp: regexp.MustCompile(`^/api/v1/admin/tokens/(\d+)$`),
		Delete: (*handler).adminTokensRevoke},

	{Name: "oauthLogin", listener: authListener,
		Regexp: regexp.MustCompile(`^/login$`),
		Get:    (*handler).oauthLogin},

	{Name: "oauthCallback", listener: authListener,
		Regexp: regexp.MustCompile(`^/login/callback$`),
		Get:    (*handler).oauthCallback},
}

// handler bundles a Server with the listener it is being dispatched for
// (so the same route table can both serve and reject a method depending on
// which of the three addresses received the request), and the resolved
// Principal for this one request.
type handler struct {
	*Server
	listener  listener
	principal auth.Principal
}

// PublicMux serves the read-only routes reachable without write access:
// config.json, the sparse/git index protocols, download and search.
func (s *Server) PublicMux() http.Handler {
	return &muxHandler{Server: s, listener: publicListener}
}

// AuthMux serves every route, including publish/yank/owners, admin, and
// OAuth login — everything that needs a resolved Principal.
func (s *Server) AuthMux() http.Handler {
	return &muxHandler{Server: s, listener: authListener}
}

type muxHandler struct {
	*Server
	listener listener
}

func (m *muxHandler) ServeHTTP(xw http.ResponseWriter, r *http.Request) {
	server := "public"
	if m.listener == authListener {
		server = "auth"
	} else if m.listener == adminListener {
		server = "admin"
	}

	lw := &metrics.LoggingWriter{W: xw, Start: time.Now(), R: r, Op: "(api)"}
	defer recoverAndRespond(server, lw)

	h := &handler{Server: m.Server, listener: m.listener}
	if m.listener != adminListener {
		h.principal = m.Auth.Authenticate(lw, r)
	}

	for _, rt := range routes {
		if rt.listener&m.listener == 0 {
			continue
		}
		args := rt.Regexp.FindStringSubmatch(r.URL.Path)
		if args == nil {
			continue
		}
		lw.Op = rt.Name

		var fn func(h *handler, args []string, w http.ResponseWriter, r *http.Request)
		switch r.Method {
		case http.MethodHead:
			fn = rt.Head
		case http.MethodGet:
			fn = rt.Get
		case http.MethodPost:
			fn = rt.Post
		case http.MethodPut:
			fn = rt.Put
		case http.MethodPatch:
			fn = rt.Patch
		case http.MethodDelete:
			fn = rt.Delete
		}
		if fn == nil {
			xerrorf(http.StatusMethodNotAllowed, "method %s not supported on %s", r.Method, rt.Name)
		}
		fn(h, args[1:], lw, r)
		return
	}
	xerrorf(http.StatusNotFound, "no route for %s", r.URL.Path)
}
