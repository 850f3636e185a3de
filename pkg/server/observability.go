package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flockwork/flockwork/pkg/version"
)

var buildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "flockwork_build_info",
		Help: "Build metadata of the running replica, constant 1",
	},
	[]string{"service", "version", "commit", "go_version"},
)

// recordBuildInfo publishes the replica's build metadata as a constant
// gauge so dashboards can join it onto any other series.
func recordBuildInfo(info version.Info) {
	buildInfo.WithLabelValues(info.Service, info.Version, info.Commit, info.GoVersion).Set(1)
}
