package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/db"
)

// adminJobLog implements GET /api/v1/admin/jobs/docgen/{id}/log, spec.md
// §4.7's SSE log stream. A client resuming with Last-Event-ID is first
// replayed the tail of the job's persisted Output it missed (each
// persisted line numbered by its position, matching internal/sse's Event
// numbering scheme), then subscribed to internal/sse.Hub for anything
// published from this point on, mirroring the teacher's writer.go
// discipline of a single place logs are appended that also feeds any live
// observer.
func (h *handler) adminJobLog(args []string, w http.ResponseWriter, r *http.Request) {
	h.requireAdmin()
	id, _ := strconv.ParseInt(args[0], 10, 64)
	job, err := h.DB.Jobs().Get(r.Context(), id)
	if err != nil {
		panic(apierr.NotFoundf("job %d not found", id))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	lastSeq := 0
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastSeq, _ = strconv.Atoi(v)
	}

	lines := splitLogLines(job.Output)
	for i, line := range lines {
		seq := i + 1
		if seq <= lastSeq {
			continue
		}
		writeSSELine(w, seq, line)
	}
	if flusher != nil {
		flusher.Flush()
	}

	if isTerminal(job.State) {
		return
	}

	ch, unsubscribe := h.SSE.For(id).Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSELine(w, len(lines)+ev.Seq, ev.Chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeSSELine(w http.ResponseWriter, seq int, chunk string) {
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", seq, chunk)
}

func splitLogLines(output string) []string {
	if output == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(output); i++ {
		if output[i] == '\n' {
			lines = append(lines, output[start:i])
			start = i + 1
		}
	}
	if start < len(output) {
		lines = append(lines, output[start:])
	}
	return lines
}

func isTerminal(s db.JobState) bool {
	switch s {
	case db.JobSucceeded, db.JobFailed, db.JobCancelled:
		return true
	default:
		return false
	}
}
