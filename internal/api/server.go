package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/depanalyzer"
	"github.com/cratehost/cratehost/internal/index"
	"github.com/cratehost/cratehost/internal/pipeline"
	"github.com/cratehost/cratehost/internal/sse"
	"github.com/cratehost/cratehost/internal/worker"
)

// Server holds every component C10 delegates to. One Server backs all
// three listeners (public, authenticated, admin); which routes are
// reachable on which listener is decided by each route's listener bitmask
// in router.go, checked by the mux serving that listener.
type Server struct {
	DB        *db.DB
	Index     *index.Store
	Publisher *pipeline.Publisher
	Auth      *auth.Kernel
	OAuth     *auth.OAuth
	Workers   *worker.Registry
	Analyzer  *depanalyzer.Analyzer
	SSE       *sse.Hub

	PublicURI string
	NowFunc   func() time.Time
}

func (s *Server) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now()
}

// MetricsHandler serves the admin listener: Prometheus scraping only, kept
// off the other two listeners entirely rather than gated by a route, since
// it carries no principal-scoped data to authorize.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.Handler()
}
