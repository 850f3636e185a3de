package jobhost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/resilience"
)

// QueueConfig is the per-queue slice of the hosting configuration.
type QueueConfig struct {
	// Queue is the queue identifier.
	Queue uint8
	// UpdateProgressOnHeartbeat persists reported progress on every
	// heartbeat for jobs of this queue.
	UpdateProgressOnHeartbeat bool
}

// OrchestratorConfig controls the whole hosting side of one replica. The
// shared knobs apply to every queue; per-queue behavior lives in Queues.
type OrchestratorConfig struct {
	// Worker identifies this replica in claimed job records. All queues of
	// one replica share it. Defaults to hostname plus a random suffix.
	Worker string
	// PollInterval is how often each engine sweeps and claims.
	PollInterval time.Duration
	// MaxRunning caps concurrently executing jobs per queue.
	MaxRunning int
	// HeartbeatInterval is how often running jobs refresh liveness.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how stale a running job may get before reclaim.
	HeartbeatTimeout time.Duration
	// MaxAttempts caps executions per job.
	MaxAttempts int
	// ExecutionTimeout bounds a single handler run. Zero means unbounded.
	ExecutionTimeout time.Duration
	// StopGrace is how long shutdown waits for running jobs per queue.
	StopGrace time.Duration
	// ClaimRatePerSecond paces claim writes across all queues of this
	// replica. Zero means unpaced.
	ClaimRatePerSecond float64
	// Breaker configures the circuit breaker around store polls.
	Breaker resilience.BreakerConfig
	// Queues lists the queues this replica hosts.
	Queues []QueueConfig
}

func (c *OrchestratorConfig) normalize() {
	if strings.TrimSpace(c.Worker) == "" {
		c.Worker = defaultWorker()
	}
}

// Orchestrator runs one hosting engine per configured queue over one shared
// store. Engines are independent: a queue whose store polls trip the
// breaker does not slow the others, and shutdown drains them together.
type Orchestrator struct {
	store  Store
	log    logger.Logger
	config OrchestratorConfig

	mu       sync.Mutex
	handlers map[uint8]Handler
	engines  []*Engine
	started  bool
	stopped  bool
}

// NewOrchestrator creates the hosting orchestrator. Handlers are attached
// with Register before Start.
func NewOrchestrator(store Store, log logger.Logger, cfg OrchestratorConfig) (*Orchestrator, error) {
	if store == nil {
		return nil, jobhostError(ErrInvalidArgument, "store is required")
	}
	if log == nil {
		return nil, jobhostError(ErrInvalidArgument, "logger is required")
	}
	seen := make(map[uint8]bool, len(cfg.Queues))
	for _, q := range cfg.Queues {
		if seen[q.Queue] {
			return nil, jobhostError(ErrConfig, fmt.Sprintf("queue %d configured twice", q.Queue))
		}
		seen[q.Queue] = true
	}

	cfg.normalize()
	return &Orchestrator{
		store:    store,
		log:      log.With("worker", cfg.Worker),
		config:   cfg,
		handlers: make(map[uint8]Handler),
	}, nil
}

// Worker returns the claim identity shared by this replica's engines.
func (o *Orchestrator) Worker() string {
	return o.config.Worker
}

// Register attaches the handler that executes jobs of one queue. All
// registrations happen before Start.
func (o *Orchestrator) Register(queue uint8, handler Handler) error {
	if handler == nil {
		return jobhostError(ErrInvalidArgument, "handler is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return jobhostError(ErrConflict, "orchestrator already started")
	}
	if _, ok := o.handlers[queue]; ok {
		return jobhostError(ErrConflict, fmt.Sprintf("queue %d already has a handler", queue))
	}
	o.handlers[queue] = handler
	return nil
}

// Start builds and launches one engine per configured queue. Every queue
// must have a registered handler. A partial start rolls back: engines that
// already launched are stopped before the error returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return jobhostError(ErrConflict, "orchestrator is stopped")
	}
	if o.started {
		return jobhostError(ErrConflict, "orchestrator already started")
	}

	if len(o.config.Queues) == 0 {
		o.started = true
		o.log.Info("no queues configured, job hosting idle")
		return nil
	}

	var limiter *rate.Limiter
	if o.config.ClaimRatePerSecond > 0 {
		burst := int(o.config.ClaimRatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.config.ClaimRatePerSecond), burst)
	}

	engines := make([]*Engine, 0, len(o.config.Queues))
	for _, q := range o.config.Queues {
		handler, ok := o.handlers[q.Queue]
		if !ok {
			return jobhostError(ErrConfig, fmt.Sprintf("queue %d has no registered handler", q.Queue))
		}
		engine, err := NewEngine(o.store, handler, o.log, EngineConfig{
			Queue:                     q.Queue,
			Worker:                    o.config.Worker,
			PollInterval:              o.config.PollInterval,
			MaxRunning:                o.config.MaxRunning,
			HeartbeatInterval:         o.config.HeartbeatInterval,
			HeartbeatTimeout:          o.config.HeartbeatTimeout,
			MaxAttempts:               o.config.MaxAttempts,
			ExecutionTimeout:          o.config.ExecutionTimeout,
			StopGrace:                 o.config.StopGrace,
			UpdateProgressOnHeartbeat: q.UpdateProgressOnHeartbeat,
			ClaimLimiter:              limiter,
			Breaker:                   o.config.Breaker,
		})
		if err != nil {
			return err
		}
		engines = append(engines, engine)
	}

	for i, engine := range engines {
		if err := engine.Start(ctx); err != nil {
			stopErr := stopEngines(ctx, engines[:i])
			return errors.Join(
				fmt.Errorf("start engine for queue %d: %w", engine.Queue(), err),
				stopErr)
		}
	}

	o.engines = engines
	o.started = true
	o.log.Info("hosting orchestrator started", "queues", len(engines))
	return nil
}

// Stop drains every engine together and reports their joined errors. It is
// idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped || !o.started {
		o.stopped = true
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	engines := o.engines
	o.mu.Unlock()

	err := stopEngines(ctx, engines)
	o.log.Info("hosting orchestrator stopped")
	return err
}

// Running returns the number of jobs currently executing across all queues.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	engines := o.engines
	o.mu.Unlock()

	total := 0
	for _, engine := range engines {
		total += engine.Running()
	}
	return total
}

func stopEngines(ctx context.Context, engines []*Engine) error {
	errs := make([]error, len(engines))
	var wg sync.WaitGroup
	for i, engine := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = engine.Stop(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
