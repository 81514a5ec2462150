// Package worker implements the worker registry and dispatch loop
// (component C6): a pool of persistently-connected build workers, a
// priority queue of queued documentation jobs, and the single goroutine
// that matches the two. It does not itself interpret job outcomes — that is
// component C7's job — beyond the bookkeeping (Assigned/Running state,
// requeue-on-loss) that belongs to dispatch itself; everything else is
// delegated to an injected Sink.
package worker

import (
	"container/heap"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/db"
)

// heartbeatWindow is how long a worker may go without a Heartbeat message
// before it is declared Lost (spec.md §4.6 step 4).
const heartbeatWindow = 30 * time.Second

// Descriptor is what a worker registers with on connect: its identity,
// toolchain, and what it is able to build.
type Descriptor struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	HostTriple       string   `json:"host_triple"`
	StableVersion    string   `json:"stable_version"`
	NightlyVersion   string   `json:"nightly_version"`
	InstalledTargets []string `json:"installed_targets"`
	Capabilities     []string `json:"capabilities"`
}

// Sink receives the job-lifecycle messages a worker sends over its channel.
// Dispatch itself only cares that a worker becomes free again; interpreting
// Accepted/LogChunk/Finished (persisting output, streaming archives into
// blob storage, fanning out to SSE subscribers) is component C7's concern.
type Sink interface {
	Accepted(ctx context.Context, jobID int64)
	LogChunk(ctx context.Context, jobID int64, chunk string)
	Finished(ctx context.Context, jobID int64, outcome string, archive []byte, archiveCompressed bool)
}

type workerState struct {
	Descriptor    Descriptor
	conn          *websocket.Conn
	send          chan frame
	busy          bool
	jobID         int64
	lastHeartbeat time.Time
}

// Registry owns the Workers map and Queue, both guarded by one mutex held
// only for constant-time updates (spec.md §5), and runs the single
// dispatch-loop goroutine that drains the queue.
type Registry struct {
	db            *db.DB
	sink          Sink
	highWaterMark int

	mu      sync.Mutex
	workers map[string]*workerState
	queue   *jobQueue

	wake chan struct{}
}

// NewRegistry constructs a Registry. Call Start to begin dispatching.
func NewRegistry(d *db.DB, sink Sink, highWaterMark int) *Registry {
	return &Registry{
		db:            d,
		sink:          sink,
		highWaterMark: highWaterMark,
		workers:       map[string]*workerState{},
		queue:         &jobQueue{},
		wake:          make(chan struct{}, 1),
	}
}

// Start loads any jobs left Queued from a previous process (so a restart
// resumes correctly, per spec.md §9) and begins the dispatch and
// heartbeat-checking loops.
func (r *Registry) Start(ctx context.Context) error {
	queued, err := r.db.Jobs().ListQueued(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, j := range queued {
		heap.Push(r.queue, fromJob(j))
	}
	r.mu.Unlock()

	go r.dispatchLoop(ctx)
	go r.heartbeatLoop(ctx)
	r.notifyWake()
	return nil
}

func fromJob(j db.DBDocGenJob) *queuedJob {
	return &queuedJob{
		JobID:        j.ID,
		Package:      j.Package,
		Version:      j.Version,
		Target:       j.Target,
		UseNative:    j.UseNative,
		Capabilities: j.Capabilities,
		Priority:     j.Priority,
		QueuedAt:     j.QueuedAt,
		PrevWorker:   j.AssignedWorker,
	}
}

// Enqueue adds a job to the dispatch queue. Publish- and analyzer-triggered
// enqueues are rejected with QueueFull once the queue passes the configured
// high-water mark; user-triggered regenerations always enqueue (spec.md
// §4.6 "Backpressure").
func (r *Registry) Enqueue(ctx context.Context, job db.DBDocGenJob, userTriggered bool) error {
	r.mu.Lock()
	full := !userTriggered && r.highWaterMark > 0 && r.queue.Len() >= r.highWaterMark
	if !full {
		heap.Push(r.queue, fromJob(job))
	}
	r.mu.Unlock()
	if full {
		return apierr.QueueFullf("doc-gen queue is at capacity (%d jobs)", r.highWaterMark)
	}
	r.notifyWake()
	return nil
}

// Cancel implements POST /api/v1/admin/jobs/docgen/{id}/cancel (and DELETE
// /api/v1/admin/jobs/docgen/{id}): an immediate cancellation if the
// job is still Queued, otherwise a CancelJob message to whichever worker
// holds it (the job itself transitions to Cancelled only once that worker's
// next Finished message arrives, per spec.md §4.7).
func (r *Registry) Cancel(ctx context.Context, jobID int64) error {
	r.mu.Lock()
	for _, ws := range r.workers {
		if ws.busy && ws.jobID == jobID {
			select {
			case ws.send <- frame{Type: msgCancelJob, JobID: jobID}:
			default:
			}
			r.mu.Unlock()
			_, err := r.db.Jobs().Transition(ctx, jobID, func(j *db.DBDocGenJob) {
				j.CancelRequested = true
			})
			return err
		}
	}
	removed := r.queue.removeByJobID(jobID)
	r.mu.Unlock()
	if !removed {
		return nil
	}
	_, err := r.db.Jobs().Transition(ctx, jobID, func(j *db.DBDocGenJob) {
		j.State = db.JobCancelled
	})
	return err
}

// Workers returns a snapshot of connected worker descriptors and busy
// state, for GET /api/v1/admin/workers.
func (r *Registry) Workers() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkerStatus, 0, len(r.workers))
	for _, ws := range r.workers {
		out = append(out, WorkerStatus{
			Descriptor:    ws.Descriptor,
			Busy:          ws.busy,
			JobID:         ws.jobID,
			LastHeartbeat: ws.lastHeartbeat,
		})
	}
	return out
}

// WorkerStatus is the admin-facing view of one connected worker.
type WorkerStatus struct {
	Descriptor    Descriptor
	Busy          bool
	JobID         int64
	LastHeartbeat time.Time
}

func (r *Registry) notifyWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Workers authenticate with a bearer token before this upgrade runs
	// (internal/auth, C3); origin checking buys nothing extra here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Connect upgrades req to a WebSocket and registers desc as a new worker,
// mirroring the teacher's newUpload: allocate the connection's state under
// the registry's lock, then hand off to a pair of goroutines (here, a read
// pump and a write pump instead of a single inactivity timer).
func (r *Registry) Connect(w http.ResponseWriter, req *http.Request, desc Descriptor) error {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return err
	}
	ws := &workerState{
		Descriptor:    desc,
		conn:          conn,
		send:          make(chan frame, 8),
		lastHeartbeat: time.Now(),
	}

	r.mu.Lock()
	if old, ok := r.workers[desc.ID]; ok {
		close(old.send)
		old.conn.Close()
	}
	r.workers[desc.ID] = ws
	r.mu.Unlock()

	go r.writePump(ws)
	go r.readPump(ws)

	r.notifyWake()
	return nil
}
