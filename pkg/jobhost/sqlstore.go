package jobhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/store"
)

// SQLStore persists jobs in the relational coordination store. Claim fencing
// rides on plain guarded UPDATEs, so the statements work unchanged on both
// supported dialects; only Enqueue branches, because the generated id comes
// back through RETURNING on postgres and LAST_INSERT_ID on mysql.
type SQLStore struct {
	q       store.Querier
	dialect store.Dialect
	log     logger.Logger

	enqueue           string
	get               string
	listQueued        string
	claim             string
	heartbeat         string
	heartbeatProgress string
	complete          string
	completeProgress  string
	requeueStalled    string
	failStalled       string
	countByStatus     string
	deleteFinished    string
}

// NewSQLStore builds a job store over the given querier.
func NewSQLStore(q store.Querier, d store.Dialect, log logger.Logger) (*SQLStore, error) {
	if q == nil {
		return nil, jobhostError(ErrInvalidArgument, "querier is required")
	}
	if log == nil {
		return nil, jobhostError(ErrInvalidArgument, "logger is required")
	}
	enqueue := d.Rebind("INSERT INTO " + store.JobsTable +
		" (queue, status, heartbeat_at, progress) VALUES (?, ?, ?, ?)")
	if d != store.DialectMySQL {
		enqueue += " RETURNING id"
	}
	s := &SQLStore{
		q:       q,
		dialect: d,
		log:     log,
		enqueue: enqueue,
		get: d.Rebind("SELECT id, queue, status, worker, heartbeat_at, progress, attempts, version FROM " +
			store.JobsTable + " WHERE id = ?"),
		listQueued: d.Rebind("SELECT id, queue, status, worker, heartbeat_at, progress, attempts, version FROM " +
			store.JobsTable + " WHERE queue = ? AND status = ? ORDER BY id LIMIT ?"),
		claim: d.Rebind("UPDATE " + store.JobsTable +
			" SET status = ?, worker = ?, heartbeat_at = ?, attempts = attempts + 1, version = version + 1" +
			" WHERE id = ? AND status = ? AND version = ?"),
		heartbeat: d.Rebind("UPDATE " + store.JobsTable +
			" SET heartbeat_at = ?, version = version + 1" +
			" WHERE id = ? AND status = ? AND worker = ?"),
		heartbeatProgress: d.Rebind("UPDATE " + store.JobsTable +
			" SET heartbeat_at = ?, progress = ?, version = version + 1" +
			" WHERE id = ? AND status = ? AND worker = ?"),
		complete: d.Rebind("UPDATE " + store.JobsTable +
			" SET status = ?, heartbeat_at = ?, version = version + 1" +
			" WHERE id = ? AND status = ? AND worker = ?"),
		completeProgress: d.Rebind("UPDATE " + store.JobsTable +
			" SET status = ?, heartbeat_at = ?, progress = ?, version = version + 1" +
			" WHERE id = ? AND status = ? AND worker = ?"),
		requeueStalled: d.Rebind("UPDATE " + store.JobsTable +
			" SET status = ?, worker = '', version = version + 1" +
			" WHERE queue = ? AND status = ? AND heartbeat_at < ? AND attempts < ?"),
		failStalled: d.Rebind("UPDATE " + store.JobsTable +
			" SET status = ?, worker = '', heartbeat_at = ?, version = version + 1" +
			" WHERE queue = ? AND status = ? AND heartbeat_at < ? AND attempts >= ?"),
		countByStatus: "SELECT queue, status, COUNT(*) FROM " + store.JobsTable +
			" GROUP BY queue, status ORDER BY queue, status",
		deleteFinished: d.Rebind("DELETE FROM " + store.JobsTable +
			" WHERE status IN (?, ?, ?) AND heartbeat_at < ?"),
	}
	return s, nil
}

// Enqueue inserts a queued job. The liveness timestamp starts at the enqueue
// time so a row is never without one.
func (s *SQLStore) Enqueue(ctx context.Context, queue uint8, progress []byte) (int64, error) {
	now := time.Now().UTC()
	if s.dialect == store.DialectMySQL {
		result, err := s.q.ExecContext(ctx, s.enqueue, queue, StatusQueued, now, progress)
		if err != nil {
			return 0, fmt.Errorf("enqueue job on queue %d: %w", queue, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("enqueue job on queue %d: %w", queue, err)
		}
		return id, nil
	}
	var id int64
	err := s.q.QueryRowContext(ctx, s.enqueue, queue, StatusQueued, now, progress).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job on queue %d: %w", queue, err)
	}
	return id, nil
}

// Get returns one job by id.
func (s *SQLStore) Get(ctx context.Context, jobID int64) (Job, error) {
	job, err := scanJob(s.q.QueryRowContext(ctx, s.get, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, jobhostError(ErrNotFound, fmt.Sprintf("job %d", jobID))
	}
	if err != nil {
		return Job{}, fmt.Errorf("read job %d: %w", jobID, err)
	}
	return job, nil
}

// ListQueued returns up to limit queued jobs of one queue, oldest first.
func (s *SQLStore) ListQueued(ctx context.Context, queue uint8, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, s.listQueued, queue, StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs on queue %d: %w", queue, err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list queued jobs on queue %d: %w", queue, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queued jobs on queue %d: %w", queue, err)
	}
	return jobs, nil
}

// Claim moves a queued job to running under the version guard.
func (s *SQLStore) Claim(ctx context.Context, jobID, expectedVersion int64, worker string, now time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, s.claim,
		StatusRunning, worker, now.UTC(), jobID, StatusQueued, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("claim job %d: %w", jobID, err)
	}
	return oneRowApplied(result, "claim job", jobID)
}

// Heartbeat refreshes liveness of a running job under the owner guard.
func (s *SQLStore) Heartbeat(ctx context.Context, jobID int64, worker string, at time.Time, progress []byte) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if progress == nil {
		result, err = s.q.ExecContext(ctx, s.heartbeat, at.UTC(), jobID, StatusRunning, worker)
	} else {
		result, err = s.q.ExecContext(ctx, s.heartbeatProgress, at.UTC(), progress, jobID, StatusRunning, worker)
	}
	if err != nil {
		return false, fmt.Errorf("heartbeat job %d: %w", jobID, err)
	}
	return oneRowApplied(result, "heartbeat job", jobID)
}

// Complete moves a running job owned by worker to a terminal status. The
// liveness timestamp is rewritten so retention measures from completion.
func (s *SQLStore) Complete(ctx context.Context, jobID int64, worker string, status Status, now time.Time, progress []byte) (bool, error) {
	if !status.Terminal() {
		return false, jobhostError(ErrInvalidArgument, "status "+status.String()+" is not terminal")
	}
	var (
		result sql.Result
		err    error
	)
	if progress == nil {
		result, err = s.q.ExecContext(ctx, s.complete, status, now.UTC(), jobID, StatusRunning, worker)
	} else {
		result, err = s.q.ExecContext(ctx, s.completeProgress, status, now.UTC(), progress, jobID, StatusRunning, worker)
	}
	if err != nil {
		return false, fmt.Errorf("complete job %d: %w", jobID, err)
	}
	return oneRowApplied(result, "complete job", jobID)
}

// ReclaimStalled sweeps running jobs whose liveness timestamp fell behind
// cutoff. Jobs at or past the attempt cap fail terminally with their
// liveness timestamp reset to the sweep time, the rest go back to queued.
func (s *SQLStore) ReclaimStalled(ctx context.Context, queue uint8, cutoff time.Time, maxAttempts int) (int64, int64, error) {
	now := time.Now().UTC()

	failedRes, err := s.q.ExecContext(ctx, s.failStalled,
		StatusFailed, now, queue, StatusRunning, cutoff.UTC(), maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stalled jobs on queue %d: %w", queue, err)
	}
	failed, err := failedRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("fail stalled jobs on queue %d: %w", queue, err)
	}

	requeuedRes, err := s.q.ExecContext(ctx, s.requeueStalled,
		StatusQueued, queue, StatusRunning, cutoff.UTC(), maxAttempts)
	if err != nil {
		return failed, 0, fmt.Errorf("requeue stalled jobs on queue %d: %w", queue, err)
	}
	requeued, err := requeuedRes.RowsAffected()
	if err != nil {
		return failed, 0, fmt.Errorf("requeue stalled jobs on queue %d: %w", queue, err)
	}

	if requeued > 0 || failed > 0 {
		s.log.Debug("stalled jobs swept",
			"queue", queue, "requeued", requeued, "failed", failed)
	}
	return requeued, failed, nil
}

// CountByStatus returns the per-queue per-status census.
func (s *SQLStore) CountByStatus(ctx context.Context) ([]QueueCount, error) {
	rows, err := s.q.QueryContext(ctx, s.countByStatus)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts []QueueCount
	for rows.Next() {
		var queue, status int64
		var c QueueCount
		if err := rows.Scan(&queue, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("count jobs: %w", err)
		}
		c.Queue = uint8(queue)
		c.Status = Status(status)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// DeleteFinishedBefore removes terminal jobs older than cutoff.
func (s *SQLStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.q.ExecContext(ctx, s.deleteFinished,
		StatusCompleted, StatusFailed, StatusCancelled, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job    Job
		queue  int64
		status int64
	)
	err := row.Scan(&job.ID, &queue, &status, &job.Worker,
		&job.HeartbeatAt, &job.Progress, &job.Attempts, &job.Version)
	if err != nil {
		return Job{}, err
	}
	job.Queue = uint8(queue)
	job.Status = Status(status)
	job.HeartbeatAt = job.HeartbeatAt.UTC()
	return job, nil
}

func oneRowApplied(result sql.Result, op string, jobID int64) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s %d: %w", op, jobID, err)
	}
	return affected > 0, nil
}
