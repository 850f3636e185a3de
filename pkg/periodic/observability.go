package periodic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tickOK     = "ok"
	tickFailed = "failed"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_periodic_ticks_total",
			Help: "Total number of periodic ticks by outcome",
		},
		[]string{"runner", "status"},
	)

	runnersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockwork_periodic_runners_active",
			Help: "Current number of running periodic loops",
		},
		[]string{"runner"},
	)
)

func recordTick(runner, status string) {
	ticksTotal.WithLabelValues(runner, status).Inc()
}

func recordRunnerStarted(runner string) {
	runnersActive.WithLabelValues(runner).Inc()
}

func recordRunnerStopped(runner string) {
	runnersActive.WithLabelValues(runner).Dec()
}
