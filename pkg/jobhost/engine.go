package jobhost

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/observability/tracing"
	"github.com/flockwork/flockwork/pkg/periodic"
	"github.com/flockwork/flockwork/pkg/resilience"
)

const (
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxRunning        = 5
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Minute
	DefaultMaxAttempts       = 5
	DefaultStopGrace         = 10 * time.Second

	// completionWriteTimeout bounds the final status write, which runs on
	// its own context so shutdown cannot strand a finished job as running.
	completionWriteTimeout = 10 * time.Second
)

// EngineConfig controls one queue's hosting engine.
type EngineConfig struct {
	// Queue is the queue this engine polls.
	Queue uint8
	// Worker identifies this process in claimed job records. Defaults to
	// hostname plus a random suffix so two replicas on one host stay
	// distinguishable.
	Worker string
	// PollInterval is how often the engine sweeps and claims.
	PollInterval time.Duration
	// MaxRunning caps concurrently executing jobs on this engine.
	MaxRunning int
	// HeartbeatInterval is how often running jobs refresh their liveness
	// timestamp.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how stale a running job's liveness timestamp may
	// get before any replica reclaims it.
	HeartbeatTimeout time.Duration
	// MaxAttempts caps executions per job; a stalled job at the cap fails
	// terminally instead of requeueing.
	MaxAttempts int
	// ExecutionTimeout bounds a single handler run. Zero means unbounded.
	ExecutionTimeout time.Duration
	// StopGrace is how long Stop waits for running jobs before abandoning
	// them to heartbeat-timeout reclaim.
	StopGrace time.Duration
	// UpdateProgressOnHeartbeat persists the handler's reported progress on
	// every heartbeat, not only on completion.
	UpdateProgressOnHeartbeat bool
	// ClaimLimiter, when set, paces claim writes. The orchestrator shares
	// one limiter across engines so a burst of queues cannot flood the
	// store.
	ClaimLimiter *rate.Limiter
	// Breaker configures the circuit breaker around store polls. The zero
	// value takes the resilience defaults.
	Breaker resilience.BreakerConfig
}

func (c *EngineConfig) normalize() {
	if strings.TrimSpace(c.Worker) == "" {
		c.Worker = defaultWorker()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRunning <= 0 {
		c.MaxRunning = DefaultMaxRunning
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
}

// Engine hosts job execution for one queue. Each poll first sweeps stalled
// jobs back into the queue, then claims work up to the concurrency cap and
// runs every claimed job on its own goroutine with a heartbeat loop
// alongside. Claims are version-fenced, so any number of engines on any
// number of replicas can poll the same queue without double execution.
type Engine struct {
	store   Store
	handler Handler
	log     logger.Logger
	config  EngineConfig
	breaker *resilience.CircuitBreaker

	running atomic.Int64
	jobs    sync.WaitGroup

	mu         sync.Mutex
	runner     *periodic.Runner
	jobsCtx    context.Context
	jobsCancel context.CancelFunc
	started    bool
	stopped    bool
}

// NewEngine creates a hosting engine for one queue. Polling starts only on
// Start.
func NewEngine(store Store, handler Handler, log logger.Logger, cfg EngineConfig) (*Engine, error) {
	if store == nil {
		return nil, jobhostError(ErrInvalidArgument, "store is required")
	}
	if handler == nil {
		return nil, jobhostError(ErrInvalidArgument, "handler is required")
	}
	if log == nil {
		return nil, jobhostError(ErrInvalidArgument, "logger is required")
	}

	cfg.normalize()
	return &Engine{
		store:   store,
		handler: handler,
		log:     log.With("queue", cfg.Queue, "worker", cfg.Worker),
		config:  cfg,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
	}, nil
}

// Queue returns the queue this engine polls.
func (e *Engine) Queue() uint8 {
	return e.config.Queue
}

// Worker returns this engine's claim identity.
func (e *Engine) Worker() string {
	return e.config.Worker
}

// Running returns the number of jobs currently executing.
func (e *Engine) Running() int {
	return int(e.running.Load())
}

// Start launches the poll loop. The first poll fires immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return jobhostError(ErrConflict, "engine is stopped")
	}
	if e.started {
		return jobhostError(ErrConflict, "engine already started")
	}

	runner, err := periodic.NewRunner(
		fmt.Sprintf("jobhost:queue-%d", e.config.Queue),
		e.config.PollInterval, e.poll, e.log)
	if err != nil {
		return err
	}

	// Jobs drain under Stop's grace period, not the caller's context, so
	// their context hangs off Background with its own cancel.
	e.jobsCtx, e.jobsCancel = context.WithCancel(context.Background())

	if err := runner.Start(ctx); err != nil {
		e.jobsCancel()
		return err
	}
	e.runner = runner
	e.started = true
	e.log.Info("job hosting engine started",
		"poll_interval", e.config.PollInterval,
		"max_running", e.config.MaxRunning,
		"heartbeat_interval", e.config.HeartbeatInterval,
		"heartbeat_timeout", e.config.HeartbeatTimeout,
		"max_attempts", e.config.MaxAttempts)
	return nil
}

// Stop ends polling, waits up to StopGrace for running jobs, then cancels
// whatever is left. Abandoned jobs keep their running row and come back
// through heartbeat-timeout reclaim on the next owner. Stop is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped || !e.started {
		e.stopped = true
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	runner := e.runner
	jobsCancel := e.jobsCancel
	e.mu.Unlock()

	stopErr := runner.Stop(ctx)

	waitCh := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(waitCh)
	}()

	grace := time.NewTimer(e.config.StopGrace)
	defer grace.Stop()
	select {
	case <-waitCh:
		jobsCancel()
	case <-grace.C:
		e.log.Warn("stop grace elapsed, abandoning running jobs for reclaim",
			"jobs", e.running.Load())
		jobsCancel()
	case <-ctx.Done():
		jobsCancel()
		return errors.Join(stopErr, ctx.Err())
	}

	e.log.Info("job hosting engine stopped")
	return stopErr
}

func (e *Engine) poll(ctx context.Context) error {
	err := e.breaker.Execute(func() error { return e.pollOnce(ctx) })
	if errors.Is(err, resilience.ErrCircuitOpen) {
		recordPollSkipped(e.config.Queue)
		e.log.Debug("store poll skipped while circuit breaker is open")
		return nil
	}
	return err
}

func (e *Engine) pollOnce(ctx context.Context) error {
	queue := e.config.Queue

	reclaimCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobReclaim,
		tracing.WithJobQueue(queueLabel(queue)),
		tracing.WithJobWorker(e.config.Worker))
	cutoff := time.Now().UTC().Add(-e.config.HeartbeatTimeout)
	requeued, failed, err := e.store.ReclaimStalled(reclaimCtx, queue, cutoff, e.config.MaxAttempts)
	if err != nil {
		tracing.RecordError(span, err)
		span.End()
		return fmt.Errorf("reclaim stalled jobs: %w", err)
	}
	tracing.RecordSuccess(span)
	span.End()
	if requeued > 0 || failed > 0 {
		recordReclaimed(queue, requeued, failed)
		e.log.Info("stalled jobs reclaimed", "requeued", requeued, "failed", failed)
	}

	capacity := e.config.MaxRunning - int(e.running.Load())
	if capacity <= 0 {
		return nil
	}
	queued, err := e.store.ListQueued(ctx, queue, capacity)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}

	for _, job := range queued {
		if e.config.ClaimLimiter != nil {
			if err := e.config.ClaimLimiter.Wait(ctx); err != nil {
				return nil
			}
		}
		claimed, ok, err := e.claimJob(ctx, job)
		if err != nil {
			return err
		}
		if !ok {
			recordClaim(queue, claimLostRace)
			continue
		}
		recordClaim(queue, claimWon)

		e.mu.Lock()
		jobsCtx := e.jobsCtx
		e.mu.Unlock()

		e.running.Add(1)
		recordRunning(queue, 1)
		e.jobs.Add(1)
		go e.runJob(jobsCtx, claimed)
	}
	return nil
}

// claimJob fences the claim on the version read by ListQueued and returns
// the post-claim snapshot handed to the handler.
func (e *Engine) claimJob(ctx context.Context, job Job) (Job, bool, error) {
	claimCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobClaim,
		tracing.WithJobQueue(queueLabel(job.Queue)),
		tracing.WithJobID(job.ID),
		tracing.WithJobWorker(e.config.Worker),
		tracing.WithJobAttempt(job.Attempts+1))
	defer span.End()

	now := time.Now().UTC()
	applied, err := e.store.Claim(claimCtx, job.ID, job.Version, e.config.Worker, now)
	if err != nil {
		tracing.RecordError(span, err)
		return Job{}, false, err
	}
	tracing.RecordSuccess(span)
	if !applied {
		return Job{}, false, nil
	}

	job.Status = StatusRunning
	job.Worker = e.config.Worker
	job.HeartbeatAt = now
	job.Attempts++
	job.Version++
	return job, true, nil
}

func (e *Engine) runJob(ctx context.Context, job Job) {
	defer e.jobs.Done()
	defer func() {
		e.running.Add(-1)
		recordRunning(e.config.Queue, -1)
	}()

	ctx = logger.ContextWithExecutionID(ctx, uuid.NewString())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := e.log.WithContext(ctx).With("job_id", job.ID, "attempt", job.Attempts)
	exec := newExecution(job)
	heartbeatDone := e.startHeartbeat(ctx, cancel, job.ID, exec, log)

	execCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobExecute,
		tracing.WithJobQueue(queueLabel(job.Queue)),
		tracing.WithJobID(job.ID),
		tracing.WithJobWorker(e.config.Worker),
		tracing.WithJobAttempt(job.Attempts))

	startedAt := time.Now()
	err := e.executeHandler(execCtx, exec)
	duration := time.Since(startedAt)

	cancel()
	<-heartbeatDone

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Ownership was lost or shutdown ran out of grace. The row stays
		// running and comes back through reclaim, so no write here.
		tracing.RecordError(span, err)
		span.End()
		recordFinished(e.config.Queue, jobAbandoned)
		log.Info("job abandoned for reclaim", "duration", duration)
		return
	}

	status := StatusCompleted
	result := jobCompleted
	if err != nil {
		status = StatusFailed
		result = jobFailed
		tracing.RecordError(span, err)
		log.Error("job failed", "error", err, "duration", duration)
	} else {
		tracing.RecordSuccess(span)
		log.Info("job completed", "duration", duration)
	}
	span.End()
	recordFinished(e.config.Queue, result)

	writeCtx, cancelWrite := context.WithTimeout(context.Background(), completionWriteTimeout)
	defer cancelWrite()
	applied, werr := e.store.Complete(writeCtx, job.ID, e.config.Worker, status, time.Now().UTC(), exec.Progress())
	if werr != nil {
		log.Error("completion write failed, job will be reclaimed", "error", werr)
		return
	}
	if !applied {
		log.Warn("job ownership lost before completion could be recorded")
	}
}

// executeHandler contains one job run: panics become errors and the
// configured execution timeout applies.
func (e *Engine) executeHandler(ctx context.Context, exec *Execution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while running job: %v\n%s", rec, debug.Stack())
		}
	}()

	if e.config.ExecutionTimeout > 0 {
		return resilience.WithTimeout(ctx, e.config.ExecutionTimeout, func(runCtx context.Context) error {
			return e.handler(runCtx, exec)
		})
	}
	return e.handler(ctx, exec)
}

// startHeartbeat keeps the job's liveness timestamp fresh while the handler
// runs. A heartbeat that finds the job no longer ours cancels the run
// through lostOwnership.
func (e *Engine) startHeartbeat(ctx context.Context, lostOwnership context.CancelFunc, jobID int64, exec *Execution, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var progress []byte
				if e.config.UpdateProgressOnHeartbeat {
					progress = exec.Progress()
				}

				hbCtx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobHeartbeat,
					tracing.WithJobQueue(queueLabel(e.config.Queue)),
					tracing.WithJobID(jobID),
					tracing.WithJobWorker(e.config.Worker))
				applied, err := e.store.Heartbeat(hbCtx, jobID, e.config.Worker, time.Now().UTC(), progress)
				if err != nil {
					tracing.RecordError(span, err)
					span.End()
					recordHeartbeat(e.config.Queue, heartbeatError)
					log.Warn("job heartbeat failed", "error", err)
					continue
				}
				tracing.RecordSuccess(span)
				span.End()
				if !applied {
					recordHeartbeat(e.config.Queue, heartbeatLost)
					log.Warn("job ownership lost, cancelling execution")
					lostOwnership()
					return
				}
				recordHeartbeat(e.config.Queue, heartbeatOK)
			}
		}
	}()
	return done
}

func defaultWorker() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "replica"
	}
	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return host
	}
	return host + "-" + hex.EncodeToString(raw)
}
