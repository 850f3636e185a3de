// Package metrics exposes the coordinator's Prometheus metrics over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExporterConfig configures the metrics listener.
type ExporterConfig struct {
	// Address is the listen address, e.g. ":9090".
	Address string

	// Path is the HTTP path serving metrics. Defaults to /metrics.
	Path string

	// Health, when set, is served at /healthz on the same listener so the
	// metrics port doubles as the probe port. Nil leaves the endpoint
	// unregistered.
	Health http.Handler

	// ShutdownTimeout bounds graceful shutdown. Defaults to 5s.
	ShutdownTimeout time.Duration
}

func (cfg *ExporterConfig) normalize() {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
}

// Exporter serves the default Prometheus gatherer on a dedicated listener.
// Component packages register their collectors via promauto, so everything
// they record is visible here without further wiring.
type Exporter struct {
	cfg    ExporterConfig
	server *http.Server

	mu      sync.Mutex
	running bool
}

// NewExporter creates a metrics exporter for the given config.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("metrics listen address is required")
	}
	cfg.normalize()

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if cfg.Health != nil {
		mux.Handle("/healthz", cfg.Health)
	}

	return &Exporter{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Start binds the listener and serves metrics until Stop is called. It
// returns once the listener is bound; serving continues on a background
// goroutine whose terminal error is reported through errCh when non-nil.
func (e *Exporter) Start(errCh chan<- error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("metrics exporter already running")
	}

	ln, err := net.Listen("tcp", e.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener: %w", err)
	}

	go func() {
		serveErr := e.server.Serve(ln)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && errCh != nil {
			errCh <- serveErr
		}
	}()

	e.running = true
	return nil
}

// Stop gracefully shuts the listener down. Safe to call more than once.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	shutdownCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	return e.server.Shutdown(shutdownCtx)
}

// Address returns the configured listen address.
func (e *Exporter) Address() string {
	return e.cfg.Address
}
