// Package api is the public API surface (component C10): a
// registryPath-table router shaped exactly like the teacher's
// registryPaths/htmlPaths (Name, Regexp, per-method handler fields), the
// same panic/recover-at-ServeHTTP-top convention, generalized to also
// recognize a typed *apierr.Error and map it through apierr.Status/Code
// into the Cargo {ok,data}/{errors:[...]} envelope instead of the
// teacher's registry.Errors type.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/metrics"
)

// httpErr and serverErr are panicked by handlers exactly as the teacher's
// xerrorf/xcheckf do, for errors that have no apierr.Kind of their own
// (malformed routing, a method genuinely unsupported on a path).
type httpErr struct{ code int }

type serverErr struct{ err error }

func xerrorf(code int, format string, args ...any) {
	log.Printf("%s", fmt.Sprintf(format, args...))
	panic(httpErr{code})
}

// envelope is the Cargo-convention success response.
type envelope struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type errEnvelope struct {
	Errors []errDetail `json:"errors"`
}

type errDetail struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshaling response: %v", err)
		http.Error(w, "500 - internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(buf)
}

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func respondCreated(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusCreated, envelope{OK: true, Data: data})
}

func respondAPIErr(w http.ResponseWriter, e *apierr.Error) {
	if e.Status() == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cargo"`)
	}
	respondJSON(w, e.Status(), errEnvelope{Errors: []errDetail{{Detail: e.Message, Code: string(e.Code)}}})
}

// recoverAndRespond is deferred at the top of every ServeHTTP, mirroring
// the teacher's registry.ServeHTTP/htmlPaths defer block: a panic of a
// known error type becomes a clean response, anything else is an
// unhandled panic that is logged, counted, and re-raised.
func recoverAndRespond(server string, w http.ResponseWriter) {
	x := recover()
	if x == nil {
		return
	}
	switch e := x.(type) {
	case httpErr:
		log.Printf("http error: %d", e.code)
		http.Error(w, fmt.Sprintf("%d - %s", e.code, http.StatusText(e.code)), e.code)
	case serverErr:
		log.Printf("server error: %v", e.err)
		http.Error(w, fmt.Sprintf("500 - internal server error - %s", e.err), http.StatusInternalServerError)
	case *apierr.Error:
		if metrics.Debug {
			log.Printf("api error: %#v", e)
		}
		respondAPIErr(w, e)
	default:
		metrics.Panic.WithLabelValues(server).Inc()
		panic(x)
	}
}
