package jobhost

import (
	"context"
	"time"
)

// Store is the shared persistence port for hosted jobs. Every mutation that
// claims or keeps ownership of a job is guarded so that concurrent replicas
// polling the same store cannot run the same job twice: Claim is fenced by
// the record version, Heartbeat and Complete by the owning worker. Guarded
// mutations report a miss as (false, nil); an error always means the store
// itself failed.
type Store interface {
	// Enqueue inserts a new queued job and returns its id.
	Enqueue(ctx context.Context, queue uint8, progress []byte) (int64, error)

	// Get returns one job by id, or ErrNotFound.
	Get(ctx context.Context, jobID int64) (Job, error)

	// ListQueued returns up to limit queued jobs of one queue, oldest first.
	ListQueued(ctx context.Context, queue uint8, limit int) ([]Job, error)

	// Claim moves a queued job to running on behalf of worker, counting one
	// more attempt. The write applies only while the job is still queued at
	// expectedVersion.
	Claim(ctx context.Context, jobID, expectedVersion int64, worker string, now time.Time) (bool, error)

	// Heartbeat refreshes the liveness timestamp of a running job owned by
	// worker. A non-nil progress replaces the stored progress blob in the
	// same write; nil leaves it untouched.
	Heartbeat(ctx context.Context, jobID int64, worker string, at time.Time, progress []byte) (bool, error)

	// Complete moves a running job owned by worker to a terminal status. The
	// liveness timestamp is set to now so retention measures age from the
	// moment the job finished. A non-nil progress replaces the stored blob.
	Complete(ctx context.Context, jobID int64, worker string, status Status, now time.Time, progress []byte) (bool, error)

	// ReclaimStalled sweeps running jobs of one queue whose liveness
	// timestamp is older than cutoff: jobs that still have attempts left go
	// back to queued, jobs at or past maxAttempts are marked failed. Both
	// counts are returned.
	ReclaimStalled(ctx context.Context, queue uint8, cutoff time.Time, maxAttempts int) (requeued, failed int64, err error)

	// CountByStatus returns the current number of jobs per queue and status.
	CountByStatus(ctx context.Context) ([]QueueCount, error)

	// DeleteFinishedBefore removes terminal jobs whose liveness timestamp is
	// older than cutoff and returns how many rows went away.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
