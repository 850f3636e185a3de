package jobhost

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a job record.
type Status int

const (
	// StatusQueued marks a job waiting to be claimed.
	StatusQueued Status = iota
	// StatusRunning marks a job claimed by a worker.
	StatusRunning
	// StatusCompleted marks a job that finished successfully.
	StatusCompleted
	// StatusFailed marks a job that finished with an error or ran out of attempts.
	StatusFailed
	// StatusCancelled marks a job withdrawn before execution.
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusQueued:    "queued",
	StatusRunning:   "running",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one unit of deferred work stored in the shared store. Progress is an
// opaque blob owned by the job's handler; the hosting engine only moves it
// between the store and the handler.
type Job struct {
	ID          int64
	Queue       uint8
	Status      Status
	Worker      string
	HeartbeatAt time.Time
	Progress    []byte
	Attempts    int
	Version     int64
}

// QueueCount is one row of the per-queue per-status census.
type QueueCount struct {
	Queue  uint8
	Status Status
	Count  int64
}

// Handler executes one job. It must honor ctx cancellation: the hosting
// engine cancels the context when the job's ownership is lost or when
// shutdown runs out of grace.
type Handler func(ctx context.Context, exec *Execution) error

// Execution is the handler's view of one job run. The handler reads the
// claimed job snapshot through Job and publishes resumable state through
// ReportProgress; the engine persists the latest reported progress on
// heartbeats (when enabled for the queue) and on completion.
type Execution struct {
	job Job

	mu       sync.Mutex
	progress []byte
	reported bool
}

func newExecution(job Job) *Execution {
	job.Progress = cloneBytes(job.Progress)
	return &Execution{job: job}
}

// Job returns the job snapshot taken at claim time.
func (e *Execution) Job() Job {
	snapshot := e.job
	snapshot.Progress = cloneBytes(snapshot.Progress)
	return snapshot
}

// ReportProgress records the latest resumable state for this run.
func (e *Execution) ReportProgress(progress []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = cloneBytes(progress)
	e.reported = true
}

// Progress returns the most recently reported state, or nil when the
// handler has not reported anything yet.
func (e *Execution) Progress() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reported {
		return nil
	}
	return cloneBytes(e.progress)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
