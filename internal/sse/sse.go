// Package sse fans out log lines to any number of subscribed
// server-sent-event streams for one doc-gen job, generalizing the
// teacher's loggingWriter discipline ("every write touches a shared
// observable") from one Prometheus metric to N subscriber channels.
package sse

import "sync"

// Event is one log chunk, numbered so a reconnecting client can resume
// after Last-Event-ID without missing or repeating a chunk.
type Event struct {
	Seq   int
	Chunk string
}

// Broadcaster fans out Events published for a single job to every current
// subscriber. It holds no history beyond the next sequence number —
// resuming after a reconnect is served from the job's persisted Output
// (internal/db), not from this type.
type Broadcaster struct {
	mu   sync.Mutex
	seq  int
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[chan Event]struct{}{}}
}

// Publish sends chunk to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the writer (a slow
// SSE client must not stall log persistence).
func (b *Broadcaster) Publish(chunk string) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev := Event{Seq: b.seq, Chunk: chunk}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe registers a new listener, returning its channel and an
// unsubscribe function the caller must defer.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// Hub owns one Broadcaster per job, created on first use and dropped by Drop
// once the job reaches a terminal state, whether or not subscribers remain.
type Hub struct {
	mu    sync.Mutex
	byJob map[int64]*Broadcaster
}

func NewHub() *Hub {
	return &Hub{byJob: map[int64]*Broadcaster{}}
}

// For returns the Broadcaster for jobID, creating one if none exists yet.
// A client resuming with Last-Event-ID is served its backlog from the
// job's persisted Output (internal/db) before subscribing here for events
// published from this point on — reconciling the two numbering schemes is
// the HTTP handler's job (component C10), not this package's.
func (h *Hub) For(jobID int64) *Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.byJob[jobID]
	if !ok {
		b = NewBroadcaster()
		h.byJob[jobID] = b
	}
	return b
}

// Drop removes jobID's broadcaster, called once a job reaches a terminal
// state; any still-subscribed streams simply stop receiving further events
// and should close themselves once they observe the terminal state in the
// persisted job row.
func (h *Hub) Drop(jobID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byJob, jobID)
}
