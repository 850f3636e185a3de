// Package periodic runs named tick loops on a fixed schedule. A Runner owns
// its loop goroutine and cancellation handle: created at Start, torn down at
// Stop, never reused across starts.
package periodic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flockwork/flockwork/pkg/observability/logger"
)

// TickFunc is one unit of periodic work. A non-nil error marks the tick as
// failed; the loop logs it and keeps going.
type TickFunc func(ctx context.Context) error

// Runner invokes a TickFunc on a fixed period until stopped. The first tick
// fires immediately at Start; each following tick is scheduled one period
// after the previous tick STARTED, so a slow tick delays at most itself.
type Runner struct {
	name   string
	period time.Duration
	tick   TickFunc
	log    logger.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner for the named loop.
func NewRunner(name string, period time.Duration, tick TickFunc, log logger.Logger) (*Runner, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, periodicError(ErrInvalidArgument, "runner name is required")
	}
	if period <= 0 {
		return nil, periodicError(ErrInvalidArgument, "period must be positive")
	}
	if tick == nil {
		return nil, periodicError(ErrInvalidArgument, "tick function is required")
	}
	if log == nil {
		return nil, periodicError(ErrInvalidArgument, "logger is required")
	}
	return &Runner{
		name:   name,
		period: period,
		tick:   tick,
		log:    log.With("runner", name),
	}, nil
}

// Name returns the loop name used in logs and metrics.
func (r *Runner) Name() string {
	return r.name
}

// Start launches the tick loop and returns immediately. The loop runs until
// Stop is called or ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil {
		return periodicError(ErrInvalidArgument, "runner is not initialized")
	}
	if ctx == nil {
		return periodicError(ErrInvalidArgument, "context is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return periodicError(ErrClosed, "runner "+r.name)
	}
	if r.running {
		r.mu.Unlock()
		return periodicError(ErrConflict, "runner "+r.name+" already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	recordRunnerStarted(r.name)
	r.wg.Add(1)
	go r.run(loopCtx)
	return nil
}

// Stop cancels the loop and waits for any in-flight tick, bounded by ctx.
// Calling Stop more than once is a no-op.
func (r *Runner) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.closed = true
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	recordRunnerStopped(r.name)

	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		return nil
	}
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		startedAt := time.Now()
		if err := r.safeTick(ctx); err != nil {
			recordTick(r.name, tickFailed)
			r.log.Error("tick failed", "error", err)
		} else {
			recordTick(r.name, tickOK)
		}

		timer := time.NewTimer(nextDelay(r.period, time.Since(startedAt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// safeTick is the single containment boundary: a panicking tick comes back
// as an error and never unwinds the loop goroutine.
func (r *Runner) safeTick(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panicked: %v", rec)
		}
	}()
	return r.tick(ctx)
}

// nextDelay returns how long to wait after a tick that started elapsed ago.
func nextDelay(period, elapsed time.Duration) time.Duration {
	if elapsed >= period {
		return 0
	}
	delay := period - elapsed
	if delay > period {
		return period
	}
	return delay
}
