// Package lease implements renewable exclusive ownership records over the
// shared store. Each named lease has at most one live holder; other replicas
// take over only after the holder's record expires.
package lease

import (
	"context"
	"time"
)

// Record is the coordination row for one lease name. Records are created on
// first claim and mutated on every ownership change; they are never deleted.
type Record struct {
	Name       string
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Version    int64
}

// Expired reports whether the record's expiry lies before now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Store is the conditional-update capability the claim algorithm needs.
// Implementations must make Update atomic: the write succeeds only when the
// stored version still equals expectedVersion.
type Store interface {
	// Get returns the record for name, or ErrNotFound.
	Get(ctx context.Context, name string) (Record, error)
	// Insert creates the record, or returns ErrConflict when name exists.
	Insert(ctx context.Context, rec Record) error
	// Update overwrites owner, acquired_at and expires_at and bumps the
	// version, guarded by expectedVersion. A false return with nil error
	// means the guard missed: someone else changed the record first.
	Update(ctx context.Context, rec Record, expectedVersion int64) (bool, error)
}

// ClaimOutcome is the typed result of one claim attempt.
type ClaimOutcome int

const (
	// OutcomeErrored means the store failed; the claimant treats itself as
	// not holder for this tick.
	OutcomeErrored ClaimOutcome = iota
	// OutcomeAcquired means a fresh record was inserted with this owner.
	OutcomeAcquired
	// OutcomeRenewed means the existing own record's expiry was extended.
	OutcomeRenewed
	// OutcomeTakenOver means an expired record was reassigned to this owner.
	OutcomeTakenOver
	// OutcomeHeldByOther means another replica holds a live lease.
	OutcomeHeldByOther
	// OutcomeLostRace means a guarded write affected nothing: another
	// replica moved first. Normal contention, not an error.
	OutcomeLostRace
	// OutcomeRelinquished means the holder voluntarily skipped renewal and
	// lets the lease expire.
	OutcomeRelinquished
)

// Holding reports whether the outcome leaves the claimant as lease holder.
func (o ClaimOutcome) Holding() bool {
	switch o {
	case OutcomeAcquired, OutcomeRenewed, OutcomeTakenOver:
		return true
	default:
		return false
	}
}

func (o ClaimOutcome) String() string {
	switch o {
	case OutcomeAcquired:
		return "acquired"
	case OutcomeRenewed:
		return "renewed"
	case OutcomeTakenOver:
		return "taken_over"
	case OutcomeHeldByOther:
		return "held_by_other"
	case OutcomeLostRace:
		return "lost_race"
	case OutcomeRelinquished:
		return "relinquished"
	default:
		return "errored"
	}
}
