package config

import "time"

// SQL driver constants
const (
	// SQLDriverPostgres selects the PostgreSQL store adapter
	SQLDriverPostgres = "postgres"
	// SQLDriverMySQL selects the MySQL store adapter
	SQLDriverMySQL = "mysql"
)

// Watchdog kind identifiers accepted in watchdogs.enabled
const (
	// WatchdogJobRetention purges finished jobs past their retention age
	WatchdogJobRetention = "job-retention"
	// WatchdogQueueStats publishes per-queue job counts
	WatchdogQueueStats = "queue-stats"
)

// Config is the root configuration for a flockwork replica.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Replica       ReplicaConfig       `mapstructure:"replica"`
	Store         StoreConfig         `mapstructure:"store"`
	Jobhost       JobhostConfig       `mapstructure:"jobhost"`
	Watchdogs     WatchdogsConfig     `mapstructure:"watchdogs"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig identifies the deployment.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ReplicaConfig identifies this process within the fleet. An empty
// Identity lets each component derive one from the machine hostname.
type ReplicaConfig struct {
	Identity string `mapstructure:"identity"`
}

// StoreConfig configures the shared store backends.
type StoreConfig struct {
	SQL   SQLConfig   `mapstructure:"sql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// SQLConfig configures the relational store connection.
type SQLConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, mysql
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig configures the optional Redis coordination backend. When URL
// is set, leases and parameters move from the relational store to Redis.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// JobhostConfig configures the job hosting engines. The four second-count
// knobs stay integers because they are mirrored into operator-facing
// parameters; use the duration accessors when wiring engines.
type JobhostConfig struct {
	PollingFrequencySeconds  int           `mapstructure:"polling_frequency_seconds"`
	MaxRunningJobs           int           `mapstructure:"max_running_jobs"`
	HeartbeatIntervalSeconds int           `mapstructure:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int           `mapstructure:"heartbeat_timeout_seconds"`
	MaxAttempts              int           `mapstructure:"max_attempts"`
	StopGrace                time.Duration `mapstructure:"stop_grace"`
	ExecutionTimeout         time.Duration `mapstructure:"execution_timeout"` // 0 = unbounded
	ClaimRateLimit           float64       `mapstructure:"claim_rate_limit"`  // claims/sec, 0 = unlimited
	Queues                   []QueueConfig `mapstructure:"queues"`
}

// QueueConfig enables hosting for one queue.
type QueueConfig struct {
	Queue                     uint8 `mapstructure:"queue"`
	UpdateProgressOnHeartbeat bool  `mapstructure:"update_progress_on_heartbeat"`
}

// PollInterval returns the queue polling frequency as a duration.
func (c JobhostConfig) PollInterval() time.Duration {
	return time.Duration(c.PollingFrequencySeconds) * time.Second
}

// HeartbeatInterval returns the running-job heartbeat cadence as a duration.
func (c JobhostConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout returns the staleness threshold as a duration.
func (c JobhostConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// WatchdogsConfig configures the leased background works.
type WatchdogsConfig struct {
	Enabled                   []string        `mapstructure:"enabled"`
	AllowRebalance            bool            `mapstructure:"allow_rebalance"`
	DefaultPeriodSeconds      int             `mapstructure:"default_period_seconds"`
	DefaultLeasePeriodSeconds int             `mapstructure:"default_lease_period_seconds"`
	Retention                 RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig configures the job retention watchdog.
type RetentionConfig struct {
	Age time.Duration `mapstructure:"age"`
}

// DefaultPeriod returns the seed tick period as a duration.
func (c WatchdogsConfig) DefaultPeriod() time.Duration {
	return time.Duration(c.DefaultPeriodSeconds) * time.Second
}

// DefaultLeasePeriod returns the seed lease period as a duration.
func (c WatchdogsConfig) DefaultLeasePeriod() time.Duration {
	return time.Duration(c.DefaultLeasePeriodSeconds) * time.Second
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel  string        `mapstructure:"log_level"`  // debug, info, warn, error
	LogFormat string        `mapstructure:"log_format"` // json, text
	Metrics   MetricsConfig `mapstructure:"metrics"`
	Tracing   TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig configures the Prometheus exporter listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfig returns the baseline configuration. Every loader starts
// from these values before applying file and environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "flockwork",
			Environment: "production",
		},
		Replica: ReplicaConfig{},
		Store: StoreConfig{
			SQL: SQLConfig{
				Driver:          SQLDriverPostgres,
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
				QueryTimeout:    30 * time.Second,
			},
			Redis: RedisConfig{
				MaxConns:         10,
				OperationTimeout: 3 * time.Second,
			},
		},
		Jobhost: JobhostConfig{
			PollingFrequencySeconds:  5,
			MaxRunningJobs:           5,
			HeartbeatIntervalSeconds: 30,
			HeartbeatTimeoutSeconds:  300,
			MaxAttempts:              5,
			StopGrace:                10 * time.Second,
		},
		Watchdogs: WatchdogsConfig{
			Enabled:                   []string{WatchdogJobRetention, WatchdogQueueStats},
			DefaultPeriodSeconds:      60,
			DefaultLeasePeriodSeconds: 30,
			Retention: RetentionConfig{
				Age: 168 * time.Hour,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Metrics: MetricsConfig{
				Enabled: true,
				Address: ":9090",
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				SampleRate: 1.0,
			},
		},
	}
}
