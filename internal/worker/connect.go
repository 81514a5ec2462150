package worker

import (
	"container/heap"
	"context"
	"log"
	"time"

	"github.com/cratehost/cratehost/internal/db"
)

func (r *Registry) writePump(ws *workerState) {
	for f := range ws.send {
		if err := ws.conn.WriteJSON(f); err != nil {
			log.Printf("worker %s: write: %v", ws.Descriptor.ID, err)
			return
		}
	}
}

func (r *Registry) readPump(ws *workerState) {
	defer r.disconnect(ws)
	for {
		var f frame
		if err := ws.conn.ReadJSON(&f); err != nil {
			return
		}

		r.mu.Lock()
		ws.lastHeartbeat = time.Now()
		r.mu.Unlock()

		ctx := context.Background()
		switch f.Type {
		case msgHeartbeat:
			// lastHeartbeat touch above is enough.

		case msgAccepted:
			if _, err := r.db.Jobs().Transition(ctx, f.JobID, func(j *db.DBDocGenJob) {
				j.State = db.JobRunning
				j.StartedAt = time.Now()
			}); err != nil {
				log.Printf("worker %s: transitioning job %d to running: %v", ws.Descriptor.ID, f.JobID, err)
			}
			if r.sink != nil {
				r.sink.Accepted(ctx, f.JobID)
			}

		case msgLogChunk:
			if r.sink != nil {
				r.sink.LogChunk(ctx, f.JobID, f.Chunk)
			}

		case msgFinished:
			r.mu.Lock()
			ws.busy = false
			ws.jobID = 0
			r.mu.Unlock()
			if r.sink != nil {
				r.sink.Finished(ctx, f.JobID, f.Outcome, f.Archive, f.ArchiveCompressed)
			}
			r.notifyWake()
		}
	}
}

// disconnect removes ws from the registry and, if it was mid-job, requeues
// that job for another worker.
func (r *Registry) disconnect(ws *workerState) {
	r.mu.Lock()
	if current, ok := r.workers[ws.Descriptor.ID]; ok && current == ws {
		delete(r.workers, ws.Descriptor.ID)
	}
	jobID, busy := ws.jobID, ws.busy
	close(ws.send)
	r.mu.Unlock()

	ws.conn.Close()

	if busy {
		r.requeueOrFail(context.Background(), jobID, ws.Descriptor.ID)
	}
}

func (r *Registry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHeartbeats()
		}
	}
}

// checkHeartbeats implements spec.md §4.6 step 4: a worker silent for more
// than heartbeatWindow is Lost, and its current job (if any) is requeued.
func (r *Registry) checkHeartbeats() {
	now := time.Now()
	var lost []*workerState

	r.mu.Lock()
	for id, ws := range r.workers {
		if now.Sub(ws.lastHeartbeat) > heartbeatWindow {
			lost = append(lost, ws)
			delete(r.workers, id)
		}
	}
	r.mu.Unlock()

	for _, ws := range lost {
		close(ws.send)
		ws.conn.Close()
		if ws.busy {
			r.requeueOrFail(context.Background(), ws.jobID, ws.Descriptor.ID)
		}
	}
}

// requeueOrFail re-queues a job that lost its assigned worker, or fails it
// with NoViableWorker once attempts reach 3 (spec.md §4.6 step 4).
func (r *Registry) requeueOrFail(ctx context.Context, jobID int64, lostWorker string) {
	job, err := r.db.Jobs().Get(ctx, jobID)
	if err != nil {
		log.Printf("worker: loading job %d to requeue: %v", jobID, err)
		return
	}

	attempts := job.Attempts + 1
	if attempts >= 3 {
		if _, err := r.db.Jobs().Transition(ctx, jobID, func(j *db.DBDocGenJob) {
			j.State = db.JobFailed
			j.Attempts = attempts
			j.FailureReason = "NoViableWorker"
		}); err != nil {
			log.Printf("worker: failing job %d: %v", jobID, err)
		}
		return
	}

	updated, err := r.db.Jobs().Transition(ctx, jobID, func(j *db.DBDocGenJob) {
		j.State = db.JobQueued
		j.Attempts = attempts
	})
	if err != nil {
		log.Printf("worker: requeueing job %d: %v", jobID, err)
		return
	}

	r.mu.Lock()
	qj := fromJob(updated)
	qj.PrevWorker = lostWorker
	heap.Push(r.queue, qj)
	r.mu.Unlock()

	r.notifyWake()
}
