package jobhost

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	claimWon      = "claimed"
	claimLostRace = "lost_race"

	heartbeatOK    = "ok"
	heartbeatLost  = "lost"
	heartbeatError = "error"

	jobCompleted = "completed"
	jobFailed    = "failed"
	jobAbandoned = "abandoned"

	reclaimRequeued = "requeued"
	reclaimFailed   = "failed"
)

var (
	claimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_jobs_claims_total",
			Help: "Total number of job claim attempts by outcome",
		},
		[]string{"queue", "outcome"},
	)

	finishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_jobs_finished_total",
			Help: "Total number of job executions finished by this replica, by result",
		},
		[]string{"queue", "result"},
	)

	heartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_jobs_heartbeats_total",
			Help: "Total number of job heartbeat writes by outcome",
		},
		[]string{"queue", "outcome"},
	)

	reclaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_jobs_reclaimed_total",
			Help: "Total number of stalled jobs swept, by action taken",
		},
		[]string{"queue", "action"},
	)

	pollsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_jobs_polls_skipped_total",
			Help: "Total number of store polls skipped while the circuit breaker was open",
		},
		[]string{"queue"},
	)

	runningGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockwork_jobs_running",
			Help: "Number of jobs currently executing on this replica",
		},
		[]string{"queue"},
	)
)

func queueLabel(queue uint8) string {
	return strconv.FormatUint(uint64(queue), 10)
}

func recordClaim(queue uint8, outcome string) {
	claimsTotal.WithLabelValues(queueLabel(queue), outcome).Inc()
}

func recordFinished(queue uint8, result string) {
	finishedTotal.WithLabelValues(queueLabel(queue), result).Inc()
}

func recordHeartbeat(queue uint8, outcome string) {
	heartbeatsTotal.WithLabelValues(queueLabel(queue), outcome).Inc()
}

func recordReclaimed(queue uint8, requeued, failed int64) {
	if requeued > 0 {
		reclaimedTotal.WithLabelValues(queueLabel(queue), reclaimRequeued).Add(float64(requeued))
	}
	if failed > 0 {
		reclaimedTotal.WithLabelValues(queueLabel(queue), reclaimFailed).Add(float64(failed))
	}
}

func recordPollSkipped(queue uint8) {
	pollsSkippedTotal.WithLabelValues(queueLabel(queue)).Inc()
}

func recordRunning(queue uint8, delta float64) {
	runningGauge.WithLabelValues(queueLabel(queue)).Add(delta)
}
