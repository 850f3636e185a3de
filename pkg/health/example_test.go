package health_test

import (
	"context"
	"fmt"

	"github.com/flockwork/flockwork/pkg/health"
)

// fakeStore simulates a shared-store adapter with health check support
type fakeStore struct {
	connected bool
}

func (s *fakeStore) HealthCheck(ctx context.Context) error {
	if !s.connected {
		return fmt.Errorf("store not connected")
	}
	return nil
}

// Example_basicUsage demonstrates basic health check registry usage
func Example_basicUsage() {
	registry := health.NewRegistry()

	// Register a simple ping check (always healthy)
	registry.Register(health.NewPingChecker("liveness"))

	result := registry.Check(context.Background())

	fmt.Printf("Overall Status: %s\n", result.Status)
	fmt.Printf("Number of Checks: %d\n", len(result.Checks))
	fmt.Printf("Is Healthy: %v\n", result.IsHealthy())

	// Output:
	// Overall Status: healthy
	// Number of Checks: 1
	// Is Healthy: true
}

// Example_storeChecks demonstrates registering shared-store health checks
func Example_storeChecks() {
	registry := health.NewRegistry()

	// The coordinator registers one checker per store adapter it opened
	registry.Register(health.NewStoreChecker("sql-store", &fakeStore{connected: true}))
	registry.Register(health.NewCoordinationChecker("redis-store", &fakeStore{connected: true}))

	result := registry.Check(context.Background())

	fmt.Printf("Overall Status: %s\n", result.Status)
	fmt.Printf("Number of Checks: %d\n", len(result.Checks))

	// Output:
	// Overall Status: healthy
	// Number of Checks: 2
}

// Example_unhealthyStore demonstrates how a failed store surfaces
func Example_unhealthyStore() {
	registry := health.NewRegistry()
	registry.Register(health.NewStoreChecker("sql-store", &fakeStore{connected: false}))

	result := registry.Check(context.Background())

	fmt.Printf("Overall Status: %s\n", result.Status)
	fmt.Printf("Error: %s\n", result.Checks[0].Error)

	// Output:
	// Overall Status: unhealthy
	// Error: store not connected
}
