package testutil

import (
	"testing"
	"time"
)

// WaitUntil polls cond every few milliseconds until it returns true or the
// deadline passes. Tests of background loops use it instead of fixed sleeps.
func WaitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
