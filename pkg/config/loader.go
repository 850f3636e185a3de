package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader yields a validated Config from whatever sources an implementation
// reads.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader layers defaults, an optional config file, environment
// variables and command-line flags, in that order of increasing precedence.
type ViperLoader struct {
	configFile  string
	envPrefix   string
	serviceName string
	flags       *pflag.FlagSet
}

// NewViperLoader returns a loader reading configFile (may be blank) with
// environment variables namespaced under envPrefix, e.g. "FLOCKWORK".
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceName replaces the default service name seed. File and
// environment values still take precedence over it.
func (l *ViperLoader) WithServiceName(name string) *ViperLoader {
	l.serviceName = strings.TrimSpace(name)
	return l
}

// WithFlags attaches a command-line flag set. Flags the user changed
// override file and environment values.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// defaultConfig returns the defaults this loader seeds Viper with.
func (l *ViperLoader) defaultConfig() *Config {
	cfg := DefaultConfig()
	if l.serviceName != "" {
		cfg.Service.Name = l.serviceName
	}
	return cfg
}

// Load reads, merges and validates the configuration. Secrets files are
// ignored here; LoadWithSecrets handles those.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, l.defaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)
	l.bindFlags(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars binds every environment override by hand. AutomaticEnv cannot
// surface keys that appear in no other source, so each key is declared
// explicitly, with short aliases for the values operators set most often.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Replica
	v.BindEnv("replica.identity", l.prefixedEnv("REPLICA_IDENTITY"))

	// Store
	v.BindEnv("store.sql.driver", l.prefixedEnv("STORE_SQL_DRIVER"))
	v.BindEnv("store.sql.url", l.prefixedEnv("STORE_SQL_URL"), l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("store.sql.max_open_conns", l.prefixedEnv("STORE_SQL_MAX_OPEN_CONNS"))
	v.BindEnv("store.sql.max_idle_conns", l.prefixedEnv("STORE_SQL_MAX_IDLE_CONNS"))
	v.BindEnv("store.sql.conn_max_lifetime", l.prefixedEnv("STORE_SQL_CONN_MAX_LIFETIME"))
	v.BindEnv("store.sql.conn_max_idle_time", l.prefixedEnv("STORE_SQL_CONN_MAX_IDLE_TIME"))
	v.BindEnv("store.sql.query_timeout", l.prefixedEnv("STORE_SQL_QUERY_TIMEOUT"))
	v.BindEnv("store.redis.url", l.prefixedEnv("STORE_REDIS_URL"), l.prefixedEnv("REDIS_URL"))
	v.BindEnv("store.redis.max_conns", l.prefixedEnv("STORE_REDIS_MAX_CONNS"))
	v.BindEnv("store.redis.operation_timeout", l.prefixedEnv("STORE_REDIS_OPERATION_TIMEOUT"))

	// Jobhost (queues are structured and only configurable via file)
	v.BindEnv("jobhost.polling_frequency_seconds", l.prefixedEnv("JOBHOST_POLLING_FREQUENCY_SECONDS"))
	v.BindEnv("jobhost.max_running_jobs", l.prefixedEnv("JOBHOST_MAX_RUNNING_JOBS"))
	v.BindEnv("jobhost.heartbeat_interval_seconds", l.prefixedEnv("JOBHOST_HEARTBEAT_INTERVAL_SECONDS"))
	v.BindEnv("jobhost.heartbeat_timeout_seconds", l.prefixedEnv("JOBHOST_HEARTBEAT_TIMEOUT_SECONDS"))
	v.BindEnv("jobhost.max_attempts", l.prefixedEnv("JOBHOST_MAX_ATTEMPTS"))
	v.BindEnv("jobhost.stop_grace", l.prefixedEnv("JOBHOST_STOP_GRACE"))
	v.BindEnv("jobhost.execution_timeout", l.prefixedEnv("JOBHOST_EXECUTION_TIMEOUT"))
	v.BindEnv("jobhost.claim_rate_limit", l.prefixedEnv("JOBHOST_CLAIM_RATE_LIMIT"))

	// Watchdogs
	v.BindEnv("watchdogs.enabled", l.prefixedEnv("WATCHDOGS_ENABLED"))
	v.BindEnv("watchdogs.allow_rebalance", l.prefixedEnv("WATCHDOGS_ALLOW_REBALANCE"))
	v.BindEnv("watchdogs.default_period_seconds", l.prefixedEnv("WATCHDOGS_DEFAULT_PERIOD_SECONDS"))
	v.BindEnv("watchdogs.default_lease_period_seconds", l.prefixedEnv("WATCHDOGS_DEFAULT_LEASE_PERIOD_SECONDS"))
	v.BindEnv("watchdogs.retention.age", l.prefixedEnv("WATCHDOGS_RETENTION_AGE"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("OBSERVABILITY_LOG_LEVEL"), l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("OBSERVABILITY_LOG_FORMAT"), l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.metrics.enabled", l.prefixedEnv("OBSERVABILITY_METRICS_ENABLED"))
	v.BindEnv("observability.metrics.address", l.prefixedEnv("OBSERVABILITY_METRICS_ADDRESS"))
	v.BindEnv("observability.metrics.path", l.prefixedEnv("OBSERVABILITY_METRICS_PATH"))
	v.BindEnv("observability.tracing.enabled", l.prefixedEnv("OBSERVABILITY_TRACING_ENABLED"))
	v.BindEnv("observability.tracing.endpoint", l.prefixedEnv("OBSERVABILITY_TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing.sample_rate", l.prefixedEnv("OBSERVABILITY_TRACING_SAMPLE_RATE"))
}

// bindFlags applies command-line overrides. Only flags the user actually
// changed are considered, so an unset flag never clobbers a file or
// environment value.
func (l *ViperLoader) bindFlags(v *viper.Viper) {
	if l.flags == nil {
		return
	}
	bindings := map[string]string{
		"replica-identity": "replica.identity",
		"log-level":        "observability.log_level",
	}
	for name, key := range bindings {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		v.Set(key, flag.Value.String())
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "FLOCKWORK"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults seeds v from cfg so partial files and sparse environments
// still unmarshal into a complete Config.
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	// Service defaults
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	// Replica defaults
	v.SetDefault("replica.identity", cfg.Replica.Identity)

	// Store defaults
	v.SetDefault("store.sql.driver", cfg.Store.SQL.Driver)
	v.SetDefault("store.sql.url", cfg.Store.SQL.URL)
	v.SetDefault("store.sql.max_open_conns", cfg.Store.SQL.MaxOpenConns)
	v.SetDefault("store.sql.max_idle_conns", cfg.Store.SQL.MaxIdleConns)
	v.SetDefault("store.sql.conn_max_lifetime", cfg.Store.SQL.ConnMaxLifetime)
	v.SetDefault("store.sql.conn_max_idle_time", cfg.Store.SQL.ConnMaxIdleTime)
	v.SetDefault("store.sql.query_timeout", cfg.Store.SQL.QueryTimeout)
	v.SetDefault("store.redis.url", cfg.Store.Redis.URL)
	v.SetDefault("store.redis.max_conns", cfg.Store.Redis.MaxConns)
	v.SetDefault("store.redis.operation_timeout", cfg.Store.Redis.OperationTimeout)

	// Jobhost defaults
	v.SetDefault("jobhost.polling_frequency_seconds", cfg.Jobhost.PollingFrequencySeconds)
	v.SetDefault("jobhost.max_running_jobs", cfg.Jobhost.MaxRunningJobs)
	v.SetDefault("jobhost.heartbeat_interval_seconds", cfg.Jobhost.HeartbeatIntervalSeconds)
	v.SetDefault("jobhost.heartbeat_timeout_seconds", cfg.Jobhost.HeartbeatTimeoutSeconds)
	v.SetDefault("jobhost.max_attempts", cfg.Jobhost.MaxAttempts)
	v.SetDefault("jobhost.stop_grace", cfg.Jobhost.StopGrace)
	v.SetDefault("jobhost.execution_timeout", cfg.Jobhost.ExecutionTimeout)
	v.SetDefault("jobhost.claim_rate_limit", cfg.Jobhost.ClaimRateLimit)
	v.SetDefault("jobhost.queues", cfg.Jobhost.Queues)

	// Watchdogs defaults
	v.SetDefault("watchdogs.enabled", cfg.Watchdogs.Enabled)
	v.SetDefault("watchdogs.allow_rebalance", cfg.Watchdogs.AllowRebalance)
	v.SetDefault("watchdogs.default_period_seconds", cfg.Watchdogs.DefaultPeriodSeconds)
	v.SetDefault("watchdogs.default_lease_period_seconds", cfg.Watchdogs.DefaultLeasePeriodSeconds)
	v.SetDefault("watchdogs.retention.age", cfg.Watchdogs.Retention.Age)

	// Observability defaults
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.metrics.enabled", cfg.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.address", cfg.Observability.Metrics.Address)
	v.SetDefault("observability.metrics.path", cfg.Observability.Metrics.Path)
	v.SetDefault("observability.tracing.enabled", cfg.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", cfg.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sample_rate", cfg.Observability.Tracing.SampleRate)
}

// Validate trims list values, then applies the Config's own rules.
func (l *ViperLoader) Validate(cfg *Config) error {
	cfg.Watchdogs.Enabled = normalizeStringSlice(cfg.Watchdogs.Enabled)
	return cfg.Validate()
}

// normalizeStringSlice drops empty entries and surrounding whitespace.
func normalizeStringSlice(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
