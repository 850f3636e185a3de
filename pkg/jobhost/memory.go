package jobhost

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-replica setups.
// It applies the same guards as the relational store.
type MemoryStore struct {
	mu   sync.Mutex
	seq  int64
	jobs map[int64]*Job
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]*Job)}
}

// Enqueue inserts a queued job and returns its id.
func (s *MemoryStore) Enqueue(_ context.Context, queue uint8, progress []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.jobs[s.seq] = &Job{
		ID:          s.seq,
		Queue:       queue,
		Status:      StatusQueued,
		HeartbeatAt: time.Now().UTC(),
		Progress:    cloneBytes(progress),
	}
	return s.seq, nil
}

// Put stores a job record verbatim, assigning an id when the record has
// none. Tests use it to seed arbitrary states.
func (s *MemoryStore) Put(job Job) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == 0 {
		s.seq++
		job.ID = s.seq
	} else if job.ID > s.seq {
		s.seq = job.ID
	}
	job.Progress = cloneBytes(job.Progress)
	s.jobs[job.ID] = &job
	return job.ID
}

// Get returns one job by id.
func (s *MemoryStore) Get(_ context.Context, jobID int64) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, jobhostError(ErrNotFound, fmt.Sprintf("job %d", jobID))
	}
	return copyJob(job), nil
}

// ListQueued returns up to limit queued jobs of one queue, oldest first.
func (s *MemoryStore) ListQueued(_ context.Context, queue uint8, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []Job
	for _, job := range s.jobs {
		if job.Queue == queue && job.Status == StatusQueued {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Claim moves a queued job to running under the version guard.
func (s *MemoryStore) Claim(_ context.Context, jobID, expectedVersion int64, worker string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusQueued || job.Version != expectedVersion {
		return false, nil
	}
	job.Status = StatusRunning
	job.Worker = worker
	job.HeartbeatAt = now.UTC()
	job.Attempts++
	job.Version++
	return true, nil
}

// Heartbeat refreshes liveness of a running job under the owner guard.
func (s *MemoryStore) Heartbeat(_ context.Context, jobID int64, worker string, at time.Time, progress []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusRunning || job.Worker != worker {
		return false, nil
	}
	job.HeartbeatAt = at.UTC()
	if progress != nil {
		job.Progress = cloneBytes(progress)
	}
	job.Version++
	return true, nil
}

// Complete moves a running job owned by worker to a terminal status.
func (s *MemoryStore) Complete(_ context.Context, jobID int64, worker string, status Status, now time.Time, progress []byte) (bool, error) {
	if !status.Terminal() {
		return false, jobhostError(ErrInvalidArgument, "status "+status.String()+" is not terminal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != StatusRunning || job.Worker != worker {
		return false, nil
	}
	job.Status = status
	job.HeartbeatAt = now.UTC()
	if progress != nil {
		job.Progress = cloneBytes(progress)
	}
	job.Version++
	return true, nil
}

// ReclaimStalled sweeps running jobs whose liveness timestamp fell behind
// cutoff, requeueing those with attempts left and failing the rest.
func (s *MemoryStore) ReclaimStalled(_ context.Context, queue uint8, cutoff time.Time, maxAttempts int) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var requeued, failed int64
	for _, job := range s.jobs {
		if job.Queue != queue || job.Status != StatusRunning || !job.HeartbeatAt.Before(cutoff.UTC()) {
			continue
		}
		job.Worker = ""
		job.Version++
		if job.Attempts < maxAttempts {
			job.Status = StatusQueued
			requeued++
		} else {
			job.Status = StatusFailed
			job.HeartbeatAt = now
			failed++
		}
	}
	return requeued, failed, nil
}

// CountByStatus returns the per-queue per-status census.
func (s *MemoryStore) CountByStatus(_ context.Context) ([]QueueCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tally := make(map[[2]int]int64)
	for _, job := range s.jobs {
		tally[[2]int{int(job.Queue), int(job.Status)}]++
	}
	counts := make([]QueueCount, 0, len(tally))
	for key, n := range tally {
		counts = append(counts, QueueCount{Queue: uint8(key[0]), Status: Status(key[1]), Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Queue != counts[j].Queue {
			return counts[i].Queue < counts[j].Queue
		}
		return counts[i].Status < counts[j].Status
	})
	return counts, nil
}

// DeleteFinishedBefore removes terminal jobs older than cutoff.
func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.HeartbeatAt.Before(cutoff.UTC()) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func copyJob(job *Job) Job {
	out := *job
	out.Progress = cloneBytes(job.Progress)
	return out
}
