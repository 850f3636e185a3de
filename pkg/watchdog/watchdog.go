// Package watchdog runs singleton maintenance tasks across a replica fleet.
// Every replica starts every watchdog, but a tick only executes its work on
// the replica currently holding the watchdog's lease.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/flockwork/flockwork/pkg/lease"
	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/params"
	"github.com/flockwork/flockwork/pkg/periodic"
)

const (
	DefaultPeriod      = 60 * time.Second
	DefaultLeasePeriod = 30 * time.Second
	DefaultJitterMax   = time.Second
)

// Work is one watchdog variant's maintenance unit. Run executes only on the
// lease-holding replica.
type Work interface {
	Kind() Kind
	Run(ctx context.Context) error
}

// Config controls one watchdog instance.
type Config struct {
	// Owner is this replica's lease identity. Empty lets the lease manager
	// derive one from the hostname.
	Owner string
	// DefaultPeriod seeds <kind>.PeriodSec on first startup.
	DefaultPeriod time.Duration
	// DefaultLeasePeriod seeds <kind>.LeasePeriodSec on first startup.
	DefaultLeasePeriod time.Duration
	// AllowRebalance and Relinquish pass through to the lease manager.
	AllowRebalance bool
	Relinquish     func() bool
	// JitterMax bounds the random startup delay that desynchronizes
	// replicas booting at the same instant.
	JitterMax time.Duration
}

func (c *Config) normalize() {
	if c.DefaultPeriod <= 0 {
		c.DefaultPeriod = DefaultPeriod
	}
	if c.DefaultLeasePeriod <= 0 {
		c.DefaultLeasePeriod = DefaultLeasePeriod
	}
	if c.JitterMax <= 0 {
		c.JitterMax = DefaultJitterMax
	}
}

// Watchdog wires one Work to the parameter store, a periodic runner and a
// lease manager. Start seeds and reads the authoritative periods, then runs
// the tick loop; ticks on non-holding replicas are skipped.
type Watchdog struct {
	work   Work
	params params.Store
	leases lease.Store
	log    logger.Logger
	config Config

	mu       sync.Mutex
	runner   *periodic.Runner
	leaseMgr *lease.Manager
	started  bool
	stopped  bool
}

// New creates a watchdog around the given work unit.
func New(work Work, paramStore params.Store, leaseStore lease.Store, log logger.Logger, cfg Config) (*Watchdog, error) {
	if work == nil {
		return nil, watchdogError(ErrInvalidArgument, "work is required")
	}
	if !work.Kind().Valid() {
		return nil, watchdogError(ErrInvalidArgument, "unknown watchdog kind")
	}
	if paramStore == nil {
		return nil, watchdogError(ErrInvalidArgument, "parameter store is required")
	}
	if leaseStore == nil {
		return nil, watchdogError(ErrInvalidArgument, "lease store is required")
	}
	if log == nil {
		return nil, watchdogError(ErrInvalidArgument, "logger is required")
	}

	cfg.normalize()
	return &Watchdog{
		work:   work,
		params: paramStore,
		leases: leaseStore,
		log:    log.With("watchdog", work.Kind().ID()),
		config: cfg,
	}, nil
}

// Kind returns the watchdog's variant.
func (w *Watchdog) Kind() Kind {
	return w.work.Kind()
}

// IsLeaseHolder reports whether this replica currently holds the watchdog's
// lease. False before Start and after Stop.
func (w *Watchdog) IsLeaseHolder() bool {
	w.mu.Lock()
	mgr := w.leaseMgr
	w.mu.Unlock()
	return mgr != nil && mgr.IsHolder()
}

// Start initializes and launches the watchdog: jitter, parameter seeding,
// authoritative readback, tick loop, then the lease renewal loop. The tick
// loop starts first so an early tick already sees the final period; it just
// skips until the lease manager reports holdership.
func (w *Watchdog) Start(ctx context.Context) error {
	kind := w.work.Kind()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return watchdogError(ErrConflict, kind.ID()+" already stopped")
	}
	if w.started {
		w.mu.Unlock()
		return watchdogError(ErrConflict, kind.ID()+" already started")
	}
	w.started = true
	w.mu.Unlock()

	if err := w.sleepJitter(ctx); err != nil {
		return err
	}

	if err := w.params.Seed(ctx, kind.PeriodParam(), w.config.DefaultPeriod.Seconds()); err != nil {
		return fmt.Errorf("seed %s: %w", kind.PeriodParam(), err)
	}
	if err := w.params.Seed(ctx, kind.LeasePeriodParam(), w.config.DefaultLeasePeriod.Seconds()); err != nil {
		return fmt.Errorf("seed %s: %w", kind.LeasePeriodParam(), err)
	}

	period, err := w.readPeriod(ctx, kind.PeriodParam())
	if err != nil {
		return err
	}
	leasePeriod, err := w.readPeriod(ctx, kind.LeasePeriodParam())
	if err != nil {
		return err
	}

	leaseMgr, err := lease.NewManager(kind.ID(), w.leases, w.log, lease.Config{
		Owner:          w.config.Owner,
		LeasePeriod:    leasePeriod,
		AllowRebalance: w.config.AllowRebalance,
		Relinquish:     w.config.Relinquish,
	})
	if err != nil {
		return fmt.Errorf("watchdog %s lease manager: %w", kind.ID(), err)
	}
	runner, err := periodic.NewRunner("watchdog:"+kind.ID(), period, w.tick, w.log)
	if err != nil {
		return fmt.Errorf("watchdog %s tick loop: %w", kind.ID(), err)
	}

	w.mu.Lock()
	w.runner = runner
	w.leaseMgr = leaseMgr
	w.mu.Unlock()

	if err := runner.Start(ctx); err != nil {
		return err
	}
	if err := leaseMgr.Start(ctx); err != nil {
		stopErr := runner.Stop(context.Background())
		return errors.Join(err, stopErr)
	}

	w.log.Info("watchdog started",
		"period", period, "lease_period", leasePeriod, "owner", leaseMgr.Owner())
	return nil
}

// Stop tears the watchdog down: lease manager first, then the tick loop.
// Repeated calls are no-ops.
func (w *Watchdog) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped || !w.started {
		w.stopped = true
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	leaseMgr := w.leaseMgr
	runner := w.runner
	w.mu.Unlock()

	var leaseErr, runnerErr error
	if leaseMgr != nil {
		leaseErr = leaseMgr.Stop(ctx)
	}
	if runner != nil {
		runnerErr = runner.Stop(ctx)
	}
	if leaseErr != nil || runnerErr != nil {
		return errors.Join(leaseErr, runnerErr)
	}
	w.log.Info("watchdog stopped")
	return nil
}

func (w *Watchdog) tick(ctx context.Context) error {
	kind := w.work.Kind()
	if !w.IsLeaseHolder() {
		recordRun(kind.ID(), runSkipped)
		w.log.Debug("tick skipped, not lease holder")
		return nil
	}

	startedAt := time.Now()
	if err := w.work.Run(ctx); err != nil {
		recordRun(kind.ID(), runFailed)
		return fmt.Errorf("watchdog %s work: %w", kind.ID(), err)
	}
	recordRun(kind.ID(), runExecuted)
	w.log.Debug("work executed", "duration", time.Since(startedAt))
	return nil
}

func (w *Watchdog) sleepJitter(ctx context.Context) error {
	jitter := rand.N(w.config.JitterMax)
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Watchdog) readPeriod(ctx context.Context, id string) (time.Duration, error) {
	seconds, err := w.params.Number(ctx, id)
	if errors.Is(err, params.ErrNotFound) {
		return 0, watchdogError(ErrConfig, "parameter "+id+" missing after seeding")
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", id, err)
	}
	if seconds <= 0 {
		return 0, watchdogError(ErrConfig, fmt.Sprintf("parameter %s must be positive, got %v", id, seconds))
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
