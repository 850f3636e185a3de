package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips the test when running in short mode. Container-backed
// tests call this first so `go test -short ./...` stays fast.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireIntegration skips the test unless the environment can run
// container-backed integration tests. CI runners without Docker set
// INTEGRATION_TESTS= to opt out.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("CI") != "" && os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}
