package watchdog

// Kind enumerates the known watchdog variants. Each kind carries a static
// identifier used as lease name and parameter id prefix, so renaming a Go
// type can never silently fork a watchdog's coordination state.
type Kind int

const (
	// KindJobRetention purges finished jobs past their retention window.
	KindJobRetention Kind = iota
	// KindQueueStats samples per-queue job counts into logs and metrics.
	KindQueueStats
)

var kindIDs = map[Kind]string{
	KindJobRetention: "job-retention",
	KindQueueStats:   "queue-stats",
}

// ID returns the stable identifier for the kind.
func (k Kind) ID() string {
	if id, ok := kindIDs[k]; ok {
		return id
	}
	return "unknown"
}

// Valid reports whether k names a known watchdog variant.
func (k Kind) Valid() bool {
	_, ok := kindIDs[k]
	return ok
}

// PeriodParam returns the parameter id holding the tick period in seconds.
func (k Kind) PeriodParam() string {
	return k.ID() + ".PeriodSec"
}

// LeasePeriodParam returns the parameter id holding the lease period in seconds.
func (k Kind) LeasePeriodParam() string {
	return k.ID() + ".LeasePeriodSec"
}

// ParseKind maps an identifier back to its Kind.
func ParseKind(id string) (Kind, error) {
	for kind, kindID := range kindIDs {
		if kindID == id {
			return kind, nil
		}
	}
	return 0, watchdogError(ErrInvalidArgument, "unknown watchdog kind "+id)
}
