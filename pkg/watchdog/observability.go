package watchdog

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	runExecuted = "executed"
	runSkipped  = "skipped_not_holder"
	runFailed   = "failed"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_watchdog_runs_total",
			Help: "Total number of watchdog ticks by outcome",
		},
		[]string{"watchdog", "outcome"},
	)

	retentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flockwork_watchdog_retention_deleted_total",
			Help: "Total number of finished jobs removed by the retention watchdog",
		},
	)

	jobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockwork_jobs_by_status",
			Help: "Jobs currently in the shared store per queue and status",
		},
		[]string{"queue", "status"},
	)
)

func recordRun(watchdog, outcome string) {
	runsTotal.WithLabelValues(watchdog, outcome).Inc()
}

func recordRetentionDeleted(deleted int64) {
	retentionDeleted.Add(float64(deleted))
}

func setJobsByStatus(key censusKey, value float64) {
	jobsByStatus.WithLabelValues(key.queue, key.status).Set(value)
}

func censusQueueLabel(queue uint8) string {
	return strconv.FormatUint(uint64(queue), 10)
}
