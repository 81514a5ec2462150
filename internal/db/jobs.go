package db

import (
	"context"
	"time"

	"github.com/mjl-/bstore"
)

// Jobs is the typed repository for DBDocGenJob rows.
type Jobs struct{ db *DB }

func (d *DB) Jobs() Jobs { return Jobs{d} }

func (j Jobs) Create(ctx context.Context, job DBDocGenJob) (DBDocGenJob, error) {
	job.State = JobQueued
	job.LastUpdate = time.Now()
	err := j.db.Write(ctx, func(tx *bstore.Tx) error {
		return tx.Insert(&job)
	})
	return job, err
}

func (j Jobs) Get(ctx context.Context, id int64) (DBDocGenJob, error) {
	job := DBDocGenJob{ID: id}
	err := j.db.bdb.Get(ctx, &job)
	return job, err
}

// ListQueued returns every job still in the Queued state, used to rebuild
// the in-memory dispatch queue after a process restart.
func (j Jobs) ListQueued(ctx context.Context) ([]DBDocGenJob, error) {
	return bstore.QueryDB[DBDocGenJob](ctx, j.db.bdb).FilterNonzero(DBDocGenJob{State: JobQueued}).SortAsc("QueuedAt").List()
}

// ListAssignedTo returns jobs assigned to a worker, used to re-queue work
// when a worker is declared Lost.
func (j Jobs) ListAssignedTo(ctx context.Context, workerID string) ([]DBDocGenJob, error) {
	return bstore.QueryDB[DBDocGenJob](ctx, j.db.bdb).FilterNonzero(DBDocGenJob{AssignedWorker: workerID}).List()
}

func (j Jobs) ListAll(ctx context.Context) ([]DBDocGenJob, error) {
	return bstore.QueryDB[DBDocGenJob](ctx, j.db.bdb).SortDesc("QueuedAt").List()
}

// Transition applies fn to the job's row inside a transaction and persists
// it, so every state change is durable before the in-memory dispatcher acts
// on it further (spec.md §9: "persisted after each transition").
func (j Jobs) Transition(ctx context.Context, id int64, fn func(job *DBDocGenJob)) (DBDocGenJob, error) {
	var out DBDocGenJob
	err := j.db.Write(ctx, func(tx *bstore.Tx) error {
		job := DBDocGenJob{ID: id}
		if err := tx.Get(&job); err != nil {
			return err
		}
		fn(&job)
		job.LastUpdate = time.Now()
		if err := tx.Update(&job); err != nil {
			return err
		}
		out = job
		return nil
	})
	return out, err
}

func (j Jobs) AppendLog(ctx context.Context, id int64, chunk string) (DBDocGenJob, error) {
	return j.Transition(ctx, id, func(job *DBDocGenJob) {
		job.Output += chunk
	})
}
