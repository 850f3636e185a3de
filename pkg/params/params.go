// Package params persists named numeric tunables in the shared store.
//
// Values are seeded insert-if-absent at watchdog startup and read back as
// the authoritative copy, so operators can tune live values out of band
// without restarts clobbering them.
package params

import "context"

// Store reads and seeds named numeric parameters.
type Store interface {
	// Seed writes value only when id does not exist yet. Seeding an
	// existing id is a no-op, never an update.
	Seed(ctx context.Context, id string, value float64) error
	// Number returns the value for id, or ErrNotFound when absent.
	Number(ctx context.Context, id string) (float64, error)
}
