package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/flockwork/flockwork/pkg/jobhost"
	"github.com/flockwork/flockwork/pkg/observability/logger"
)

// DefaultRetainFor is how long finished jobs stay around when the retention
// work is not configured otherwise.
const DefaultRetainFor = 7 * 24 * time.Hour

// RetentionStore is the slice of the job store the retention work needs.
type RetentionStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobRetention removes terminal jobs once they age past the retention
// window. Exactly one replica runs it per tick, under the watchdog's lease.
type JobRetention struct {
	store     RetentionStore
	log       logger.Logger
	retainFor time.Duration
}

// NewJobRetention builds the retention work. A non-positive retainFor takes
// DefaultRetainFor.
func NewJobRetention(store RetentionStore, log logger.Logger, retainFor time.Duration) (*JobRetention, error) {
	if store == nil {
		return nil, watchdogError(ErrInvalidArgument, "store is required")
	}
	if log == nil {
		return nil, watchdogError(ErrInvalidArgument, "logger is required")
	}
	if retainFor <= 0 {
		retainFor = DefaultRetainFor
	}
	return &JobRetention{store: store, log: log, retainFor: retainFor}, nil
}

func (w *JobRetention) Kind() Kind {
	return KindJobRetention
}

// Run deletes terminal jobs older than the retention window.
func (w *JobRetention) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.retainFor)
	deleted, err := w.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete finished jobs: %w", err)
	}
	if deleted > 0 {
		recordRetentionDeleted(deleted)
		w.log.Info("finished jobs removed", "deleted", deleted, "retain_for", w.retainFor)
	}
	return nil
}

// StatsStore is the slice of the job store the census work needs.
type StatsStore interface {
	CountByStatus(ctx context.Context) ([]jobhost.QueueCount, error)
}

// QueueStats publishes the per-queue per-status job census as gauges. One
// replica per tick reads the whole table, so the fleet pays for the count
// query once instead of once per replica.
type QueueStats struct {
	store StatsStore
	log   logger.Logger

	lastSeen map[censusKey]bool
}

type censusKey struct {
	queue  string
	status string
}

// NewQueueStats builds the census work.
func NewQueueStats(store StatsStore, log logger.Logger) (*QueueStats, error) {
	if store == nil {
		return nil, watchdogError(ErrInvalidArgument, "store is required")
	}
	if log == nil {
		return nil, watchdogError(ErrInvalidArgument, "logger is required")
	}
	return &QueueStats{store: store, log: log, lastSeen: make(map[censusKey]bool)}, nil
}

func (w *QueueStats) Kind() Kind {
	return KindQueueStats
}

// Run reads the census and refreshes the gauges. Series that drained since
// the previous tick are reset to zero so the metric does not freeze on the
// last nonzero value.
func (w *QueueStats) Run(ctx context.Context) error {
	counts, err := w.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}

	seen := make(map[censusKey]bool, len(counts))
	total := int64(0)
	for _, c := range counts {
		key := censusKey{queue: censusQueueLabel(c.Queue), status: c.Status.String()}
		setJobsByStatus(key, float64(c.Count))
		seen[key] = true
		total += c.Count
	}
	for key := range w.lastSeen {
		if !seen[key] {
			setJobsByStatus(key, 0)
		}
	}
	w.lastSeen = seen

	w.log.Debug("job census published", "series", len(counts), "jobs", total)
	return nil
}
