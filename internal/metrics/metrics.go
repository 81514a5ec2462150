// Package metrics holds the process-wide prometheus vectors and the
// logging response writer that feeds them, grown from the teacher's
// main.go (metricPanic/metricRequest) and writer.go (loggingWriter)
// verbatim, generalized from "vex" to this registry's operation names.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Panic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_panic_total",
		Help: "Number of unhandled panics, by server.",
	},
	[]string{"server"},
)

var Request = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "registry_request_duration_seconds",
		Help:    "HTTP requests with operation, response code, and duration until response status code is written, in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 30, 120},
	},
	[]string{"method", "op", "code"},
)

// Debug gates verbose per-request logging, set by cmd/registryd from a
// flag, mirroring the teacher's package-level debugFlag.
var Debug bool

// LoggingWriter wraps an http.ResponseWriter, recording the status code
// and timing into Request when the header is first written.
type LoggingWriter struct {
	W     http.ResponseWriter
	Start time.Time
	R     *http.Request

	Op string // set by the router once a route matches.

	StatusCode int
	Size       int64
	WriteErr   error
}

func (w *LoggingWriter) Header() http.Header { return w.W.Header() }

func (w *LoggingWriter) setStatusCode(statusCode int) {
	if w.StatusCode != 0 {
		return
	}
	if Debug {
		log.Printf("http response %s %s: %d", w.R.Method, w.Op, statusCode)
	}
	method := strings.ToLower(w.R.Method)
	switch method {
	case "head", "get", "post", "put", "patch", "delete":
	default:
		method = "(other)"
	}
	w.StatusCode = statusCode
	Request.WithLabelValues(method, w.Op, fmt.Sprintf("%d", w.StatusCode)).Observe(float64(time.Since(w.Start)) / float64(time.Second))
}

func (w *LoggingWriter) Write(buf []byte) (int, error) {
	if w.Size == 0 {
		w.setStatusCode(http.StatusOK)
	}
	n, err := w.W.Write(buf)
	if n > 0 {
		w.Size += int64(n)
	}
	if err != nil && w.WriteErr == nil {
		w.WriteErr = err
	}
	return n, err
}

func (w *LoggingWriter) WriteHeader(statusCode int) {
	w.setStatusCode(statusCode)
	w.W.WriteHeader(statusCode)
}

// Flush lets handlers streaming a response (SSE, git-smart) push through
// the wrapper, if the underlying writer supports it.
func (w *LoggingWriter) Flush() {
	if f, ok := w.W.(http.Flusher); ok {
		f.Flush()
	}
}
