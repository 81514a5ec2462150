package worker

import (
	"container/heap"
	"testing"
	"time"
)

func TestJobQueueOrdersByPriorityThenAge(t *testing.T) {
	q := &jobQueue{}
	now := time.Now()
	heap.Push(q, &queuedJob{JobID: 1, Priority: 0, QueuedAt: now})
	heap.Push(q, &queuedJob{JobID: 2, Priority: 2, QueuedAt: now.Add(time.Second)})
	heap.Push(q, &queuedJob{JobID: 3, Priority: 2, QueuedAt: now})
	heap.Push(q, &queuedJob{JobID: 4, Priority: 1, QueuedAt: now})

	var order []int64
	for q.Len() > 0 {
		order = append(order, heap.Pop(q).(*queuedJob).JobID)
	}

	want := []int64{3, 2, 4, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPopMatchingSkipsNonMatchingAndRestoresThem(t *testing.T) {
	q := &jobQueue{}
	now := time.Now()
	heap.Push(q, &queuedJob{JobID: 1, Target: "wasm32-unknown-unknown", Priority: 2, QueuedAt: now})
	heap.Push(q, &queuedJob{JobID: 2, Target: "x86_64-unknown-linux-gnu", Priority: 1, QueuedAt: now})

	found := q.popMatching(func(j *queuedJob) bool { return j.Target == "x86_64-unknown-linux-gnu" })
	if found == nil || found.JobID != 2 {
		t.Fatalf("popMatching = %+v, want job 2", found)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len after popMatching = %d, want 1 (skipped job restored)", q.Len())
	}
	remaining := heap.Pop(q).(*queuedJob)
	if remaining.JobID != 1 {
		t.Fatalf("remaining job = %d, want 1", remaining.JobID)
	}
}

func TestPopMatchingReturnsNilWhenNoneMatch(t *testing.T) {
	q := &jobQueue{}
	heap.Push(q, &queuedJob{JobID: 1, Target: "wasm32-unknown-unknown"})
	found := q.popMatching(func(j *queuedJob) bool { return j.Target == "nonexistent" })
	if found != nil {
		t.Fatalf("popMatching = %+v, want nil", found)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1 (untouched)", q.Len())
	}
}

func TestRemoveByJobID(t *testing.T) {
	q := &jobQueue{}
	heap.Push(q, &queuedJob{JobID: 1})
	heap.Push(q, &queuedJob{JobID: 2})

	if !q.removeByJobID(1) {
		t.Fatal("removeByJobID(1) = false, want true")
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	if q.removeByJobID(99) {
		t.Fatal("removeByJobID(99) = true, want false")
	}
}

func TestMatchesTargetAndCapabilities(t *testing.T) {
	d := Descriptor{
		ID:               "w1",
		HostTriple:       "x86_64-unknown-linux-gnu",
		InstalledTargets: []string{"wasm32-unknown-unknown"},
		Capabilities:     []string{"linux", "protoc"},
	}

	cases := []struct {
		name string
		job  queuedJob
		want bool
	}{
		{"installed target", queuedJob{Target: "wasm32-unknown-unknown", Capabilities: []string{"linux"}}, true},
		{"native fallback to host", queuedJob{Target: "x86_64-unknown-linux-gnu", UseNative: false, Capabilities: nil}, true},
		{"uninstalled non-native target", queuedJob{Target: "aarch64-apple-darwin", UseNative: false}, false},
		{"missing capability", queuedJob{Target: "wasm32-unknown-unknown", Capabilities: []string{"gpu"}}, false},
		{"same worker as previous attempt", queuedJob{Target: "wasm32-unknown-unknown", PrevWorker: "w1"}, false},
	}
	for _, c := range cases {
		if got := matches(&c.job, d); got != c.want {
			t.Errorf("%s: matches = %v, want %v", c.name, got, c.want)
		}
	}
}
