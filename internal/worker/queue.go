package worker

import (
	"container/heap"
	"time"
)

// queuedJob is one entry in the dispatch queue, enough to match it against a
// worker's descriptor without touching the database again.
type queuedJob struct {
	JobID        int64
	Package      string
	Version      string
	Target       string
	UseNative    bool
	Capabilities []string
	Priority     int
	QueuedAt     time.Time
	PrevWorker   string // worker-id this job was last assigned to, to spread retries.
}

// jobQueue orders queuedJob by (priority desc, queuedAt asc), per spec.md
// §4.6, implemented as a container/heap the same way the dispatch loop is
// the queue's sole drainer (the registry's mutex is held for every push/pop,
// constant-time, mirroring the teacher's uploadsLock discipline).
type jobQueue []*queuedJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].QueuedAt.Before(q[j].QueuedAt)
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(*queuedJob)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// popMatching pops entries in priority order until pred matches one,
// returning it and restoring every skipped entry; it never disturbs entries
// it did not need to look at. Mirrors spec.md §4.6 step 2's "scan the queue,
// pick the first job whose target/capabilities fit; if none, skip".
func (q *jobQueue) popMatching(pred func(*queuedJob) bool) *queuedJob {
	var skipped []*queuedJob
	var found *queuedJob
	for q.Len() > 0 {
		item := heap.Pop(q).(*queuedJob)
		if pred(item) {
			found = item
			break
		}
		skipped = append(skipped, item)
	}
	for _, s := range skipped {
		heap.Push(q, s)
	}
	return found
}

// removeByJobID removes the (at most one) queued entry for jobID, reporting
// whether it found one.
func (q *jobQueue) removeByJobID(jobID int64) bool {
	for i, item := range *q {
		if item.JobID == jobID {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}
