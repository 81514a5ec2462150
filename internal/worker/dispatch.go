package worker

import (
	"context"
	"log"

	"github.com/cratehost/cratehost/internal/db"
)

// dispatchLoop is the single cooperative task that drains the queue (spec.md
// §5: "the dispatch loop is the sole task that drains the queue"). It wakes
// on any state change signalled through r.wake: a new enqueue, a worker
// connecting, or a worker becoming free again.
func (r *Registry) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
		r.tryDispatch(ctx)
	}
}

// tryDispatch implements spec.md §4.6 steps 2-3: for each available worker,
// find the first queued job it can run and assign it.
func (r *Registry) tryDispatch(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ws := range r.workers {
		if ws.busy {
			continue
		}
		desc := ws.Descriptor
		qj := r.queue.popMatching(func(j *queuedJob) bool { return matches(j, desc) })
		if qj == nil {
			continue
		}

		job, err := r.db.Jobs().Transition(ctx, qj.JobID, func(j *db.DBDocGenJob) {
			j.State = db.JobAssigned
			j.AssignedWorker = desc.ID
		})
		if err != nil {
			log.Printf("worker: assigning job %d to %s: %v", qj.JobID, desc.ID, err)
			// The job row is the source of truth; drop it from the
			// in-memory queue rather than spin on a row that may no
			// longer exist.
			continue
		}

		ws.busy = true
		ws.jobID = job.ID

		select {
		case ws.send <- frame{
			Type:         msgExecuteJob,
			JobID:        job.ID,
			Package:      job.Package,
			Version:      job.Version,
			Target:       job.Target,
			UseNative:    job.UseNative,
			Capabilities: job.Capabilities,
		}:
		default:
			log.Printf("worker: send buffer full for %s, job %d will stall until reconnect", desc.ID, job.ID)
		}
	}
}

// matches implements spec.md §4.6 step 2's selection rule: the job's target
// must be one the worker has installed (or, for a non-native build, match
// the worker's host triple), the job's required capabilities must be a
// subset of the worker's, and the job must not have been assigned to this
// same worker last time (to spread retries across workers).
func matches(j *queuedJob, d Descriptor) bool {
	if j.PrevWorker == d.ID {
		return false
	}
	targetOK := containsStr(d.InstalledTargets, j.Target) || (!j.UseNative && j.Target == d.HostTriple)
	if !targetOK {
		return false
	}
	return subsetOf(j.Capabilities, d.Capabilities)
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func subsetOf(want, have []string) bool {
	for _, w := range want {
		if !containsStr(have, w) {
			return false
		}
	}
	return true
}
