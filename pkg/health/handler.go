package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the registry's aggregate report over HTTP. A healthy
// replica answers 200, anything else 503, with the full report as JSON
// either way so probes and operators see the same detail.
func Handler(registry *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := registry.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if !report.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
