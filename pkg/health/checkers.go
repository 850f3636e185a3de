package health

import (
	"context"
	"time"
)

// Checkable is the probe surface a store adapter exposes.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker turns any Checkable into a registry check with a
// bounded probe time.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps adapter as a named check. A zero timeout
// defaults to 5s.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// Check probes the adapter under the configured timeout.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	duration := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:      c.name,
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Duration:  duration,
		}
	}

	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  duration,
	}
}

func (c *AdapterChecker) Name() string {
	return c.name
}

// PingChecker always reports healthy. Embedders register one as a
// liveness entry so the report distinguishes a down dependency from a
// down process.
type PingChecker struct {
	name string
}

// NewPingChecker creates a liveness check under the given name.
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{
		name: name,
	}
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "Service is alive",
		Timestamp: time.Now(),
		Duration:  0,
	}
}

func (c *PingChecker) Name() string {
	return c.name
}

// NewStoreChecker creates a health checker for a shared-store adapter.
// The coordinator is only as healthy as its store, so these checks get the
// full 5s default.
func NewStoreChecker(name string, store Checkable) *AdapterChecker {
	return NewAdapterChecker(name, store, 5*time.Second)
}

// NewCoordinationChecker creates a health checker for the Redis coordination
// backend with a tighter timeout; lease ticks cannot wait long on it.
func NewCoordinationChecker(name string, backend Checkable) *AdapterChecker {
	return NewAdapterChecker(name, backend, 3*time.Second)
}
