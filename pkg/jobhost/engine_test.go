package jobhost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/resilience"
	"github.com/flockwork/flockwork/pkg/testutil"
)

type jobhostTestLogger struct{}

func (l *jobhostTestLogger) Debug(string, ...any) {}
func (l *jobhostTestLogger) Info(string, ...any)  {}
func (l *jobhostTestLogger) Warn(string, ...any)  {}
func (l *jobhostTestLogger) Error(string, ...any) {}
func (l *jobhostTestLogger) With(...any) logger.Logger {
	return l
}
func (l *jobhostTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

// blockingHandler parks every execution until release is closed and tracks
// the concurrency high-water mark.
type blockingHandler struct {
	release chan struct{}

	mu      sync.Mutex
	started int
	current int
	high    int
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{release: make(chan struct{})}
}

func (h *blockingHandler) handle(ctx context.Context, _ *Execution) error {
	h.mu.Lock()
	h.started++
	h.current++
	if h.current > h.high {
		h.high = h.current
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.current--
		h.mu.Unlock()
	}()

	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *blockingHandler) startedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *blockingHandler) highWater() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.high
}

// flakyJobStore lets tests fail one store surface while the rest delegates.
type flakyJobStore struct {
	Store

	mu           sync.Mutex
	reclaimErr   error
	reclaimCalls int
}

func (s *flakyJobStore) ReclaimStalled(ctx context.Context, queue uint8, cutoff time.Time, maxAttempts int) (int64, int64, error) {
	s.mu.Lock()
	s.reclaimCalls++
	err := s.reclaimErr
	s.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}
	return s.Store.ReclaimStalled(ctx, queue, cutoff, maxAttempts)
}

func (s *flakyJobStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reclaimCalls
}

func fastEngineConfig(queue uint8) EngineConfig {
	return EngineConfig{
		Queue:             queue,
		Worker:            "host-test",
		PollInterval:      15 * time.Millisecond,
		MaxRunning:        2,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
		MaxAttempts:       3,
		StopGrace:         300 * time.Millisecond,
	}
}

func startEngine(t *testing.T, store Store, handler Handler, cfg EngineConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(store, handler, &jobhostTestLogger{}, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Stop(stopCtx)
	})
	return engine
}

func jobStatus(t *testing.T, s Store, id int64) Job {
	t.Helper()
	job, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get job %d: %v", id, err)
	}
	return job
}

func TestNewEngine_Validation(t *testing.T) {
	log := &jobhostTestLogger{}
	handler := func(context.Context, *Execution) error { return nil }

	if _, err := NewEngine(nil, handler, log, EngineConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil store: %v, want ErrInvalidArgument", err)
	}
	if _, err := NewEngine(NewMemoryStore(), nil, log, EngineConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil handler: %v, want ErrInvalidArgument", err)
	}
	if _, err := NewEngine(NewMemoryStore(), handler, nil, EngineConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil logger: %v, want ErrInvalidArgument", err)
	}

	engine, err := NewEngine(NewMemoryStore(), handler, log, EngineConfig{Queue: 3})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if engine.Worker() == "" {
		t.Error("default worker identity is empty")
	}
	if engine.Queue() != 3 {
		t.Errorf("Queue() = %d, want 3", engine.Queue())
	}
}

func TestEngine_RunsQueuedJobsToCompletion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	var ids []int64
	for i := 0; i < 3; i++ {
		id, _ := store.Enqueue(ctx, 1, nil)
		ids = append(ids, id)
	}

	handler := func(context.Context, *Execution) error { return nil }
	startEngine(t, store, handler, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		for _, id := range ids {
			if jobStatus(t, store, id).Status != StatusCompleted {
				return false
			}
		}
		return true
	}, "all jobs completed")

	for _, id := range ids {
		job := jobStatus(t, store, id)
		if job.Worker != "host-test" {
			t.Errorf("job %d completed by %q, want host-test", id, job.Worker)
		}
		if job.Attempts != 1 {
			t.Errorf("job %d attempts = %d, want 1", id, job.Attempts)
		}
	}
}

func TestEngine_HonorsMaxRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	var ids []int64
	for i := 0; i < 5; i++ {
		id, _ := store.Enqueue(ctx, 1, nil)
		ids = append(ids, id)
	}

	handler := newBlockingHandler()
	cfg := fastEngineConfig(1)
	cfg.MaxRunning = 2
	engine := startEngine(t, store, handler.handle, cfg)

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return handler.startedCount() == 2
	}, "two jobs running")

	// Give the poll loop several chances to overshoot the cap.
	time.Sleep(5 * cfg.PollInterval)
	if got := handler.startedCount(); got != 2 {
		t.Fatalf("%d jobs started while cap is 2", got)
	}
	if got := engine.Running(); got != 2 {
		t.Fatalf("Running() = %d, want 2", got)
	}

	running, queued := 0, 0
	for _, id := range ids {
		switch jobStatus(t, store, id).Status {
		case StatusRunning:
			running++
		case StatusQueued:
			queued++
		}
	}
	if running != 2 || queued != 3 {
		t.Fatalf("store shows %d running %d queued, want 2 and 3", running, queued)
	}

	close(handler.release)
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		for _, id := range ids {
			if jobStatus(t, store, id).Status != StatusCompleted {
				return false
			}
		}
		return true
	}, "all jobs drained after release")

	if handler.highWater() > 2 {
		t.Fatalf("concurrency high-water = %d, want <= 2", handler.highWater())
	}
}

func TestEngine_FailedHandlerMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Enqueue(ctx, 1, nil)

	boom := errors.New("boom")
	handler := func(context.Context, *Execution) error { return boom }
	startEngine(t, store, handler, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).Status == StatusFailed
	}, "job marked failed")
}

func TestEngine_PanickedHandlerMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	bad, _ := store.Enqueue(ctx, 1, []byte("explode"))
	good, _ := store.Enqueue(ctx, 1, nil)

	handler := func(_ context.Context, exec *Execution) error {
		if string(exec.Job().Progress) == "explode" {
			panic("handler exploded")
		}
		return nil
	}
	startEngine(t, store, handler, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, bad).Status == StatusFailed &&
			jobStatus(t, store, good).Status == StatusCompleted
	}, "panicked job failed, next job still ran")
}

func TestEngine_HeartbeatKeepsJobAlive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Enqueue(ctx, 1, nil)

	handler := newBlockingHandler()
	startEngine(t, store, handler.handle, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).Status == StatusRunning
	}, "job claimed")
	claimed := jobStatus(t, store, id)

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).HeartbeatAt.After(claimed.HeartbeatAt)
	}, "liveness timestamp advanced")

	close(handler.release)
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).Status == StatusCompleted
	}, "job completed after release")
}

func TestEngine_ProgressPersistedOnHeartbeatWhenEnabled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Enqueue(ctx, 1, nil)

	release := make(chan struct{})
	handler := func(ctx context.Context, exec *Execution) error {
		exec.ReportProgress([]byte("checkpoint-1"))
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cfg := fastEngineConfig(1)
	cfg.UpdateProgressOnHeartbeat = true
	startEngine(t, store, handler, cfg)

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		job := jobStatus(t, store, id)
		return job.Status == StatusRunning && string(job.Progress) == "checkpoint-1"
	}, "progress persisted while the job is still running")

	close(release)
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		job := jobStatus(t, store, id)
		return job.Status == StatusCompleted && string(job.Progress) == "checkpoint-1"
	}, "final progress persisted on completion")
}

func TestEngine_ProgressHeldUntilCompletionWhenDisabled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Enqueue(ctx, 1, nil)

	release := make(chan struct{})
	handler := func(ctx context.Context, exec *Execution) error {
		exec.ReportProgress([]byte("checkpoint-1"))
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	startEngine(t, store, handler, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).Status == StatusRunning
	}, "job claimed")
	claimed := jobStatus(t, store, id)

	// Wait for heartbeats to flow, then confirm none of them carried the
	// reported progress.
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).HeartbeatAt.After(claimed.HeartbeatAt)
	}, "liveness timestamp advanced")
	if got := jobStatus(t, store, id).Progress; got != nil {
		t.Fatalf("progress leaked to the store during execution: %q", got)
	}

	close(release)
	testutil.WaitUntil(t, 2*time.Second, func() bool {
		job := jobStatus(t, store, id)
		return job.Status == StatusCompleted && string(job.Progress) == "checkpoint-1"
	}, "progress persisted on completion")
}

func TestEngine_ReclaimsStalledJobFromDeadWorker(t *testing.T) {
	store := NewMemoryStore()
	stale := time.Now().UTC().Add(-time.Hour)
	id := store.Put(Job{Queue: 1, Status: StatusRunning, Worker: "dead-replica",
		HeartbeatAt: stale, Attempts: 1, Version: 3})

	handler := func(context.Context, *Execution) error { return nil }
	startEngine(t, store, handler, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		job := jobStatus(t, store, id)
		return job.Status == StatusCompleted && job.Worker == "host-test"
	}, "stalled job reclaimed and re-executed")

	if got := jobStatus(t, store, id).Attempts; got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestEngine_FailsStalledJobAtAttemptCap(t *testing.T) {
	store := NewMemoryStore()
	stale := time.Now().UTC().Add(-time.Hour)
	id := store.Put(Job{Queue: 1, Status: StatusRunning, Worker: "dead-replica",
		HeartbeatAt: stale, Attempts: 3, Version: 9})

	ran := make(chan struct{}, 1)
	handler := func(context.Context, *Execution) error {
		ran <- struct{}{}
		return nil
	}
	startEngine(t, store, handler, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).Status == StatusFailed
	}, "spent job failed terminally")

	select {
	case <-ran:
		t.Fatal("handler ran for a job past its attempt cap")
	default:
	}
	if got := jobStatus(t, store, id).Attempts; got != 3 {
		t.Fatalf("attempts = %d, want unchanged 3", got)
	}
}

func TestEngine_LeavesFreshRunningJobAlone(t *testing.T) {
	store := NewMemoryStore()
	id := store.Put(Job{Queue: 1, Status: StatusRunning, Worker: "other-replica",
		HeartbeatAt: time.Now().UTC().Add(time.Hour), Attempts: 1, Version: 2})

	handler := newBlockingHandler()
	cfg := fastEngineConfig(1)
	startEngine(t, store, handler.handle, cfg)

	time.Sleep(5 * cfg.PollInterval)
	job := jobStatus(t, store, id)
	if job.Status != StatusRunning || job.Worker != "other-replica" {
		t.Fatalf("live foreign job touched: %+v", job)
	}
	if handler.startedCount() != 0 {
		t.Fatalf("handler ran %d times for a foreign running job", handler.startedCount())
	}
}

func TestEngine_AbandonsSlowJobsAtStopGrace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Enqueue(ctx, 1, nil)

	handler := newBlockingHandler()
	cfg := fastEngineConfig(1)
	cfg.StopGrace = 60 * time.Millisecond
	engine := startEngine(t, store, handler.handle, cfg)

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return handler.startedCount() == 1
	}, "job running")

	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return engine.Running() == 0
	}, "abandoned goroutine unwound")

	job := jobStatus(t, store, id)
	if job.Status != StatusRunning || job.Worker != "host-test" {
		t.Fatalf("abandoned job should stay running for reclaim, got %+v", job)
	}
}

func TestEngine_LostOwnershipCancelsExecution(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, _ := store.Enqueue(ctx, 1, nil)

	handler := newBlockingHandler()
	engine := startEngine(t, store, handler.handle, fastEngineConfig(1))

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return jobStatus(t, store, id).Status == StatusRunning
	}, "job claimed")

	// Another replica takes the job over behind our back.
	store.Put(Job{ID: id, Queue: 1, Status: StatusRunning, Worker: "thief",
		HeartbeatAt: time.Now().UTC(), Attempts: 2, Version: 50})

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return engine.Running() == 0
	}, "execution cancelled after ownership loss")

	job := jobStatus(t, store, id)
	if job.Worker != "thief" || job.Status != StatusRunning {
		t.Fatalf("lost job written to anyway: %+v", job)
	}
}

func TestEngine_BreakerShortCircuitsFailingStore(t *testing.T) {
	store := &flakyJobStore{Store: NewMemoryStore(), reclaimErr: errors.New("store down")}

	handler := func(context.Context, *Execution) error { return nil }
	cfg := fastEngineConfig(1)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Breaker = resilience.BreakerConfig{MaxFailures: 2, CoolOff: time.Hour}
	startEngine(t, store, handler, cfg)

	testutil.WaitUntil(t, 2*time.Second, func() bool {
		return store.calls() == 2
	}, "breaker saw its failures")

	time.Sleep(100 * time.Millisecond)
	if got := store.calls(); got != 2 {
		t.Fatalf("store polled %d times after the breaker opened, want 2", got)
	}
}

func TestEngine_LifecycleConflicts(t *testing.T) {
	ctx := context.Background()
	handler := func(context.Context, *Execution) error { return nil }
	engine, err := NewEngine(NewMemoryStore(), handler, &jobhostTestLogger{}, fastEngineConfig(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := engine.Start(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Start = %v, want ErrConflict", err)
	}
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("second Stop = %v, want nil", err)
	}
	if err := engine.Start(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("Start after Stop = %v, want ErrConflict", err)
	}
}

func TestEngine_StopBeforeStartIsNoop(t *testing.T) {
	handler := func(context.Context, *Execution) error { return nil }
	engine, err := NewEngine(NewMemoryStore(), handler, &jobhostTestLogger{}, fastEngineConfig(1))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start = %v, want nil", err)
	}
}
