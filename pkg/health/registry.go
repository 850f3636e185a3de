package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status classifies a check outcome.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Checker probes one dependency.
type Checker interface {
	// Check runs the probe and reports its outcome.
	Check(ctx context.Context) CheckResult

	// Name identifies the check inside a registry.
	Name() string
}

// Registry holds the health checks of a replica. The replica registers its
// store checks during build; embedders reach the same registry through the
// replica and may add their own.
type Registry struct {
	checkers map[string]Checker
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
	}
}

// Register adds a check. A checker with the same name replaces the
// previous one.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkers[checker.Name()] = checker
}

// RegisterFunc adds a closure-based check under the given name.
func (r *Registry) RegisterFunc(name string, checkFunc func(ctx context.Context) CheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkers[name] = &namedChecker{
		name:      name,
		checkFunc: checkFunc,
	}
}

// Unregister removes a check. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.checkers, name)
}

// Check runs every registered check concurrently and aggregates the
// outcomes in name order. One unhealthy check makes the aggregate
// unhealthy; a degraded check degrades an otherwise healthy aggregate.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	checkers := r.snapshot()

	start := time.Now()
	results := make([]CheckResult, len(checkers))

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}(i, checker)
	}
	wg.Wait()

	status := StatusHealthy
	for _, result := range results {
		switch {
		case result.Status == StatusUnhealthy:
			status = StatusUnhealthy
		case result.Status == StatusDegraded && status == StatusHealthy:
			status = StatusDegraded
		}
	}

	return AggregatedResult{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CheckOne runs a single check by name.
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	checker, exists := r.checkers[name]
	r.mu.RUnlock()

	if !exists {
		return CheckResult{}, fmt.Errorf("health check not found: %s", name)
	}

	return checker.Check(ctx), nil
}

// List returns the registered check names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// snapshot copies the current checkers sorted by name, so Check can fan
// out without holding the lock and still report in a stable order.
func (r *Registry) snapshot() []Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	sort.Slice(checkers, func(i, j int) bool {
		return checkers[i].Name() < checkers[j].Name()
	})

	return checkers
}

// AggregatedResult combines every check outcome with an overall status.
type AggregatedResult struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// IsHealthy reports whether the overall status is healthy.
func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

type namedChecker struct {
	name      string
	checkFunc func(ctx context.Context) CheckResult
}

func (c *namedChecker) Check(ctx context.Context) CheckResult {
	return c.checkFunc(ctx)
}

func (c *namedChecker) Name() string {
	return c.name
}
