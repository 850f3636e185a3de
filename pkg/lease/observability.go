package lease

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockwork_lease_claims_total",
			Help: "Total number of lease claim attempts by outcome",
		},
		[]string{"lease", "outcome"},
	)

	holderGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockwork_lease_holder",
			Help: "Whether this replica currently holds the lease (0 or 1)",
		},
		[]string{"lease"},
	)
)

func recordClaim(name string, outcome ClaimOutcome) {
	claimsTotal.WithLabelValues(name, outcome.String()).Inc()
}

func recordHolder(name string, holding bool) {
	value := 0.0
	if holding {
		value = 1.0
	}
	holderGauge.WithLabelValues(name).Set(value)
}
