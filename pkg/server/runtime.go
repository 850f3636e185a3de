// Package server assembles a coordination replica from configuration and
// runs it until its context ends. A replica is the unit a service process
// hosts: the shared store, the parameter and lease backends on top of it,
// the configured watchdogs, the job hosting orchestrator and the metrics
// listener, started together and stopped in reverse order.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flockwork/flockwork/pkg/config"
	"github.com/flockwork/flockwork/pkg/health"
	"github.com/flockwork/flockwork/pkg/jobhost"
	"github.com/flockwork/flockwork/pkg/lease"
	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/observability/metrics"
	"github.com/flockwork/flockwork/pkg/observability/tracing"
	"github.com/flockwork/flockwork/pkg/params"
	"github.com/flockwork/flockwork/pkg/store"
	redisstore "github.com/flockwork/flockwork/pkg/store/redis"
	"github.com/flockwork/flockwork/pkg/version"
	"github.com/flockwork/flockwork/pkg/watchdog"
)

// DefaultShutdownHookTimeout bounds each shutdown hook when the caller does
// not set one.
const DefaultShutdownHookTimeout = 10 * time.Second

// stopMargin is added to the configured stop grace so the store writes that
// finish a drained job still have room after the grace itself has elapsed.
const stopMargin = 5 * time.Second

// LifecycleHook is a named startup or shutdown action run around the
// replica's main loop.
type LifecycleHook struct {
	Name string
	Fn   func(context.Context) error
}

// Options defines the inputs for building and running a replica.
type Options struct {
	Config *config.Config
	Logger logger.Logger

	// Handlers attaches the executable behavior for each hosted queue.
	// Every queue listed in the configuration must have an entry here;
	// extra entries host queues the configuration does not mention and are
	// rejected.
	Handlers map[uint8]jobhost.Handler

	// Works overrides the bundled work implementation of a watchdog kind.
	// Kinds without an override use the built-in implementation.
	Works map[watchdog.Kind]watchdog.Work

	// Health receives the store probes during Build and is served at
	// /healthz on the metrics listener. A nil registry is created on
	// demand, reachable through Replica.Health afterwards.
	Health *health.Registry

	StartupHooks        []LifecycleHook
	ShutdownHooks       []LifecycleHook
	ShutdownHookTimeout time.Duration
}

// Replica is one assembled coordination process: every component built,
// wired to the shared store and ready to Run.
type Replica struct {
	cfg *config.Config
	log logger.Logger

	sql   *store.SQL
	redis *redisstore.RedisAdapter

	paramStore params.Store
	leaseStore lease.Store
	jobStore   jobhost.Store

	orchestrator *jobhost.Orchestrator
	watchdogs    []*watchdog.Watchdog
	exporter     *metrics.Exporter
	registry     *health.Registry

	startupHooks        []LifecycleHook
	shutdownHooks       []LifecycleHook
	shutdownHookTimeout time.Duration
}

// Build connects to the configured backends and assembles a replica. The
// relational store is opened and its schema applied; leases and parameters
// move to Redis when a coordination URL is configured. Nothing starts
// running yet, so a failed Build leaves no goroutines behind.
func Build(ctx context.Context, opts Options) (*Replica, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		zl, err := logger.NewZapLogger(logger.DefaultConfig())
		if err != nil {
			return nil, err
		}
		log = zl
	}

	sqlStore, err := store.NewSQL(cfg.Store.SQL, log)
	if err != nil {
		return nil, fmt.Errorf("open relational store: %w", err)
	}
	built := false
	defer func() {
		if !built {
			_ = sqlStore.DB.Close()
		}
	}()

	if err := store.EnsureSchema(ctx, sqlStore.DB, sqlStore.Dialect); err != nil {
		return nil, err
	}

	redisAdapter, err := store.NewCoordinationAdapter(cfg.Store.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("open coordination store: %w", err)
	}
	defer func() {
		if !built && redisAdapter != nil {
			_ = redisAdapter.Close()
		}
	}()

	var paramStore params.Store
	var leaseStore lease.Store
	if redisAdapter != nil {
		paramStore, err = params.NewRedisStore(redisAdapter.Client(), log)
		if err != nil {
			return nil, err
		}
		leaseStore, err = lease.NewRedisStore(redisAdapter.Client(), log)
		if err != nil {
			return nil, err
		}
	} else {
		paramStore, err = params.NewSQLStore(sqlStore.DB, sqlStore.Dialect, log)
		if err != nil {
			return nil, err
		}
		leaseStore, err = lease.NewSQLStore(sqlStore.DB, sqlStore.Dialect, sqlStore.IsDuplicate, log)
		if err != nil {
			return nil, err
		}
	}

	jobStore, err := jobhost.NewSQLStore(sqlStore.DB, sqlStore.Dialect, log)
	if err != nil {
		return nil, err
	}

	orchestrator, err := buildOrchestrator(cfg, jobStore, log, opts.Handlers)
	if err != nil {
		return nil, err
	}

	watchdogs, err := buildWatchdogs(cfg, jobStore, paramStore, leaseStore, log, opts.Works)
	if err != nil {
		return nil, err
	}

	registry := opts.Health
	if registry == nil {
		registry = health.NewRegistry()
	}
	registry.Register(health.NewStoreChecker("sql", sqlStore.DB))
	if redisAdapter != nil {
		registry.Register(health.NewCoordinationChecker("redis", redisAdapter))
	}

	var exporter *metrics.Exporter
	if cfg.Observability.Metrics.Enabled {
		exporter, err = metrics.NewExporter(metrics.ExporterConfig{
			Address: cfg.Observability.Metrics.Address,
			Path:    cfg.Observability.Metrics.Path,
			Health:  health.Handler(registry),
		})
		if err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
	}

	hookTimeout := opts.ShutdownHookTimeout
	if hookTimeout <= 0 {
		hookTimeout = DefaultShutdownHookTimeout
	}

	built = true
	return &Replica{
		cfg:                 cfg,
		log:                 log,
		sql:                 sqlStore,
		redis:               redisAdapter,
		paramStore:          paramStore,
		leaseStore:          leaseStore,
		jobStore:            jobStore,
		orchestrator:        orchestrator,
		watchdogs:           watchdogs,
		exporter:            exporter,
		registry:            registry,
		startupHooks:        opts.StartupHooks,
		shutdownHooks:       opts.ShutdownHooks,
		shutdownHookTimeout: hookTimeout,
	}, nil
}

func buildOrchestrator(cfg *config.Config, jobStore jobhost.Store, log logger.Logger, handlers map[uint8]jobhost.Handler) (*jobhost.Orchestrator, error) {
	queues := make([]jobhost.QueueConfig, 0, len(cfg.Jobhost.Queues))
	configured := make(map[uint8]bool, len(cfg.Jobhost.Queues))
	for _, q := range cfg.Jobhost.Queues {
		if _, ok := handlers[q.Queue]; !ok {
			return nil, fmt.Errorf("queue %d is configured but has no handler", q.Queue)
		}
		configured[q.Queue] = true
		queues = append(queues, jobhost.QueueConfig{
			Queue:                     q.Queue,
			UpdateProgressOnHeartbeat: q.UpdateProgressOnHeartbeat,
		})
	}
	for queue := range handlers {
		if !configured[queue] {
			return nil, fmt.Errorf("handler registered for queue %d which is not configured", queue)
		}
	}

	orchestrator, err := jobhost.NewOrchestrator(jobStore, log, jobhost.OrchestratorConfig{
		Worker:             cfg.Replica.Identity,
		PollInterval:       cfg.Jobhost.PollInterval(),
		MaxRunning:         cfg.Jobhost.MaxRunningJobs,
		HeartbeatInterval:  cfg.Jobhost.HeartbeatInterval(),
		HeartbeatTimeout:   cfg.Jobhost.HeartbeatTimeout(),
		MaxAttempts:        cfg.Jobhost.MaxAttempts,
		ExecutionTimeout:   cfg.Jobhost.ExecutionTimeout,
		StopGrace:          cfg.Jobhost.StopGrace,
		ClaimRatePerSecond: cfg.Jobhost.ClaimRateLimit,
		Queues:             queues,
	})
	if err != nil {
		return nil, err
	}
	for queue, handler := range handlers {
		if err := orchestrator.Register(queue, handler); err != nil {
			return nil, err
		}
	}
	return orchestrator, nil
}

func buildWatchdogs(cfg *config.Config, jobStore jobhost.Store, paramStore params.Store, leaseStore lease.Store, log logger.Logger, overrides map[watchdog.Kind]watchdog.Work) ([]*watchdog.Watchdog, error) {
	watchdogs := make([]*watchdog.Watchdog, 0, len(cfg.Watchdogs.Enabled))
	for _, id := range cfg.Watchdogs.Enabled {
		kind, err := watchdog.ParseKind(id)
		if err != nil {
			return nil, err
		}

		work, ok := overrides[kind]
		if !ok {
			work, err = defaultWork(kind, cfg, jobStore, log)
			if err != nil {
				return nil, err
			}
		}

		wd, err := watchdog.New(work, paramStore, leaseStore, log, watchdog.Config{
			Owner:              cfg.Replica.Identity,
			DefaultPeriod:      cfg.Watchdogs.DefaultPeriod(),
			DefaultLeasePeriod: cfg.Watchdogs.DefaultLeasePeriod(),
			AllowRebalance:     cfg.Watchdogs.AllowRebalance,
		})
		if err != nil {
			return nil, err
		}
		watchdogs = append(watchdogs, wd)
	}
	return watchdogs, nil
}

func defaultWork(kind watchdog.Kind, cfg *config.Config, jobStore jobhost.Store, log logger.Logger) (watchdog.Work, error) {
	switch kind {
	case watchdog.KindJobRetention:
		return watchdog.NewJobRetention(jobStore, log, cfg.Watchdogs.Retention.Age)
	case watchdog.KindQueueStats:
		return watchdog.NewQueueStats(jobStore, log)
	default:
		return nil, fmt.Errorf("watchdog kind %s has no bundled work", kind.ID())
	}
}

// Jobs exposes the job store so an embedding service can enqueue work and
// inspect job state through the same connection the replica uses.
func (r *Replica) Jobs() jobhost.Store {
	return r.jobStore
}

// Params exposes the parameter store for operational tooling.
func (r *Replica) Params() params.Store {
	return r.paramStore
}

// Health returns the registry holding the replica's dependency probes.
func (r *Replica) Health() *health.Registry {
	return r.registry
}

// Worker returns the identity this replica claims jobs and leases under.
func (r *Replica) Worker() string {
	return r.orchestrator.Worker()
}

// Run starts every component and blocks until ctx is cancelled or the
// metrics listener fails, then tears the replica down: orchestrator first
// so in-flight jobs drain inside their stop grace, watchdogs next so their
// leases stop renewing, listeners and store connections last.
func (r *Replica) Run(ctx context.Context) error {
	info := version.Current(r.cfg.Service.Name)
	recordBuildInfo(info)
	r.log.Info("replica starting",
		"service", info.Service,
		"version", info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"worker", r.orchestrator.Worker(),
	)

	tracerProvider, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    info.Service,
		ServiceVersion: info.Version,
		Environment:    strings.TrimSpace(r.cfg.Service.Environment),
		Endpoint:       r.cfg.Observability.Tracing.Endpoint,
		SampleRate:     r.cfg.Observability.Tracing.SampleRate,
		Enabled:        r.cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := tracerProvider.Shutdown(shutdownCtx); shutdownErr != nil {
			r.log.Error("tracer shutdown failed", "error", shutdownErr)
		}
	}()

	if err := r.runStartupHooks(ctx); err != nil {
		return errors.Join(err, r.stop(nil))
	}
	defer func() {
		if hookErr := r.runShutdownHooks(); hookErr != nil {
			r.log.Error("shutdown hooks completed with errors", "error", hookErr)
		}
	}()

	exporterErr := make(chan error, 1)
	if r.exporter != nil {
		if err := r.exporter.Start(exporterErr); err != nil {
			return errors.Join(fmt.Errorf("start metrics exporter: %w", err), r.stop(nil))
		}
		r.log.Info("metrics exporter listening", "address", r.exporter.Address())
	}

	started := make([]*watchdog.Watchdog, 0, len(r.watchdogs))
	startErr := func() error {
		for _, wd := range r.watchdogs {
			if err := wd.Start(ctx); err != nil {
				return fmt.Errorf("start watchdog %s: %w", wd.Kind().ID(), err)
			}
			started = append(started, wd)
		}
		return r.orchestrator.Start(ctx)
	}()
	if startErr != nil {
		return errors.Join(startErr, r.stop(started))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-exporterErr:
		if err != nil {
			runErr = fmt.Errorf("metrics exporter failed: %w", err)
		}
	}

	r.log.Info("replica stopping")
	stopErr := r.stop(started)
	if runErr != nil {
		return runErr
	}
	return stopErr
}

// RunWithSignals runs the replica until one of the given signals arrives.
// With no signals it reacts to SIGINT and SIGTERM.
func (r *Replica) RunWithSignals(signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()
	return r.Run(ctx)
}

// stop tears down in reverse start order on a fresh context so shutdown
// still works when the run context is already cancelled.
func (r *Replica) stop(watchdogs []*watchdog.Watchdog) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Jobhost.StopGrace+stopMargin)
	defer cancel()

	var errs []error
	if err := r.orchestrator.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop orchestrator: %w", err))
	}
	for _, wd := range watchdogs {
		if err := wd.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop watchdog %s: %w", wd.Kind().ID(), err))
		}
	}
	if r.exporter != nil {
		if err := r.exporter.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics exporter: %w", err))
		}
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close coordination store: %w", err))
		}
	}
	if err := r.sql.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close relational store: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Replica) runStartupHooks(ctx context.Context) error {
	for _, hook := range r.startupHooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		r.log.Info("startup hook start", "hook", name)
		if err := hook.Fn(ctx); err != nil {
			r.log.Error("startup hook failed", "hook", name, "error", err)
			return fmt.Errorf("startup hook %q failed: %w", name, err)
		}
		r.log.Info("startup hook complete", "hook", name)
	}
	return nil
}

func (r *Replica) runShutdownHooks() error {
	var errs []error
	for _, hook := range r.shutdownHooks {
		if hook.Fn == nil {
			continue
		}
		name := hookName(hook)
		r.log.Info("shutdown hook start", "hook", name)

		hookCtx, cancel := context.WithTimeout(context.Background(), r.shutdownHookTimeout)
		err := hook.Fn(hookCtx)
		cancel()

		if err != nil {
			r.log.Error("shutdown hook failed", "hook", name, "error", err)
			errs = append(errs, fmt.Errorf("shutdown hook %q failed: %w", name, err))
			continue
		}
		r.log.Info("shutdown hook complete", "hook", name)
	}
	return errors.Join(errs...)
}

func hookName(hook LifecycleHook) string {
	if name := strings.TrimSpace(hook.Name); name != "" {
		return name
	}
	return "unnamed"
}
