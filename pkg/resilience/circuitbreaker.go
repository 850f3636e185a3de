// Package resilience provides the timeout and circuit breaker primitives the
// coordinator wraps around shared-store access and job execution.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a probe request through to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects an execution.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures int

	// CoolOff is how long the circuit stays open before probing again.
	CoolOff time.Duration
}

// DefaultMaxFailures and DefaultCoolOff apply when BreakerConfig fields are
// left zero.
const (
	DefaultMaxFailures = 5
	DefaultCoolOff     = 30 * time.Second
)

func (cfg *BreakerConfig) normalize() {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = DefaultCoolOff
	}
}

// CircuitBreaker sheds load from a failing dependency. The jobhost engine
// runs its store polls through one so a dead store is probed at the cool-off
// cadence instead of hammered every poll.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu           sync.RWMutex
	state        State
	failures     int
	lastFailTime time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg.normalize()
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
	}
}

// Execute runs fn if the circuit allows it, returning ErrCircuitOpen otherwise.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.cfg.CoolOff {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailTime = time.Now()

	if cb.state == StateHalfOpen {
		// A failed probe reopens the circuit
		cb.state = StateOpen
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures {
		cb.state = StateOpen
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		// A successful probe closes the circuit
		cb.state = StateClosed
		cb.failures = 0
	case StateClosed:
		cb.failures = 0
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset forces the circuit breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}
