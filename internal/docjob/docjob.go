// Package docjob implements component C7: the documentation job lifecycle
// that sits on top of C6's worker channel. It persists every transition and
// log line to DBDocGenJob (so a process restart resumes correctly, per
// spec.md §9), streams a finished job's rendered-site archive into C1, and
// fans out log output to subscribed SSE listeners via internal/sse.
package docjob

import (
	"context"
	"log"
	"time"

	"github.com/cratehost/cratehost/internal/blobstore"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/sse"
	"github.com/cratehost/cratehost/internal/worker"
)

// Service implements worker.Sink, translating worker-channel messages into
// persisted state changes and SSE events.
type Service struct {
	DB    *db.DB
	Blobs blobstore.Store
	SSE   *sse.Hub
}

var _ worker.Sink = (*Service)(nil)

// Accepted handles a worker's Accepted(job_id) message. The Assigned ->
// Running transition and startedOn stamp are already persisted by the
// worker package (it owns job-state bookkeeping up to and including
// dispatch); nothing further is required here.
func (s *Service) Accepted(ctx context.Context, jobID int64) {}

// LogChunk appends chunk to the job's persisted output and publishes it to
// any live SSE subscribers, mirroring the teacher's writer.go discipline of
// routing every write through one place that also notifies observers.
func (s *Service) LogChunk(ctx context.Context, jobID int64, chunk string) {
	if _, err := s.DB.Jobs().AppendLog(ctx, jobID, chunk); err != nil {
		log.Printf("docjob: appending log for job %d: %v", jobID, err)
	}
	s.SSE.For(jobID).Publish(chunk)
}

// Finished handles a worker's Finished(job_id, outcome, doc_archive?)
// message: on success the archive is unpacked into C1 under
// docs/{name}/{version}/{target}/…, the PackageVersionDocs row is updated,
// and the job is transitioned to its terminal state (spec.md §4.7). A
// pending cancellation (set by worker.Registry.Cancel while the job was
// Assigned/Running) always wins over the worker-reported outcome.
func (s *Service) Finished(ctx context.Context, jobID int64, outcome string, archive []byte, archiveCompressed bool) {
	defer s.SSE.Drop(jobID)

	job, err := s.DB.Jobs().Get(ctx, jobID)
	if err != nil {
		log.Printf("docjob: loading finished job %d: %v", jobID, err)
		return
	}

	if job.CancelRequested {
		if _, err := s.DB.Jobs().Transition(ctx, jobID, func(j *db.DBDocGenJob) {
			j.State = db.JobCancelled
			j.FinishedAt = time.Now()
		}); err != nil {
			log.Printf("docjob: cancelling job %d: %v", jobID, err)
		}
		return
	}

	present := outcome == worker.OutcomeSuccess
	if present {
		if err := unpackSite(ctx, s.Blobs, job.Package, job.Version, job.Target, archive, archiveCompressed); err != nil {
			log.Printf("docjob: unpacking archive for job %d: %v", jobID, err)
			present = false
		}
	}

	if err := s.DB.Versions().MarkDocsResult(ctx, job.Package, job.Version, job.Target, present); err != nil {
		log.Printf("docjob: marking docs result for job %d: %v", jobID, err)
	}

	state := db.JobSucceeded
	failureReason := ""
	if !present {
		state = db.JobFailed
		if outcome != worker.OutcomeSuccess {
			failureReason = "worker reported failure"
		} else {
			failureReason = "archive could not be unpacked"
		}
	}

	if _, err := s.DB.Jobs().Transition(ctx, jobID, func(j *db.DBDocGenJob) {
		j.State = state
		j.FailureReason = failureReason
		j.FinishedAt = time.Now()
	}); err != nil {
		log.Printf("docjob: finishing job %d: %v", jobID, err)
	}
}
