package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Store.SQL.URL = "postgres://coordinator:secret@db:5432/flockwork"
	return cfg
}

func TestConfigValidate_Rules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "defaults with url are valid",
			mutate:  func(cfg *Config) {},
			wantErr: "",
		},
		{
			name:    "empty service name",
			mutate:  func(cfg *Config) { cfg.Service.Name = "  " },
			wantErr: "service.name is required",
		},
		{
			name:    "unsupported sql driver",
			mutate:  func(cfg *Config) { cfg.Store.SQL.Driver = "oracle" },
			wantErr: "invalid store.sql.driver",
		},
		{
			name:    "driver is case insensitive",
			mutate:  func(cfg *Config) { cfg.Store.SQL.Driver = "MySQL" },
			wantErr: "",
		},
		{
			name:    "missing sql url",
			mutate:  func(cfg *Config) { cfg.Store.SQL.URL = "" },
			wantErr: "store.sql.url is required",
		},
		{
			name:    "zero open conns",
			mutate:  func(cfg *Config) { cfg.Store.SQL.MaxOpenConns = 0 },
			wantErr: "store.sql.max_open_conns must be greater than 0",
		},
		{
			name:    "negative idle conns",
			mutate:  func(cfg *Config) { cfg.Store.SQL.MaxIdleConns = -1 },
			wantErr: "store.sql.max_idle_conns cannot be negative",
		},
		{
			name: "idle conns above open conns",
			mutate: func(cfg *Config) {
				cfg.Store.SQL.MaxOpenConns = 4
				cfg.Store.SQL.MaxIdleConns = 8
			},
			wantErr: "store.sql.max_idle_conns cannot exceed store.sql.max_open_conns",
		},
		{
			name:    "zero query timeout",
			mutate:  func(cfg *Config) { cfg.Store.SQL.QueryTimeout = 0 },
			wantErr: "store.sql.query_timeout must be greater than zero",
		},
		{
			name: "redis without max conns",
			mutate: func(cfg *Config) {
				cfg.Store.Redis.URL = "redis://cache:6379"
				cfg.Store.Redis.MaxConns = 0
			},
			wantErr: "store.redis.max_conns must be greater than 0",
		},
		{
			name: "redis without operation timeout",
			mutate: func(cfg *Config) {
				cfg.Store.Redis.URL = "redis://cache:6379"
				cfg.Store.Redis.OperationTimeout = 0
			},
			wantErr: "store.redis.operation_timeout must be greater than zero",
		},
		{
			name: "redis knobs ignored while redis is off",
			mutate: func(cfg *Config) {
				cfg.Store.Redis.MaxConns = 0
				cfg.Store.Redis.OperationTimeout = 0
			},
			wantErr: "",
		},
		{
			name:    "zero polling frequency",
			mutate:  func(cfg *Config) { cfg.Jobhost.PollingFrequencySeconds = 0 },
			wantErr: "jobhost.polling_frequency_seconds must be greater than 0",
		},
		{
			name: "heartbeat timeout equal to interval",
			mutate: func(cfg *Config) {
				cfg.Jobhost.HeartbeatIntervalSeconds = 60
				cfg.Jobhost.HeartbeatTimeoutSeconds = 60
			},
			wantErr: "jobhost.heartbeat_timeout_seconds must exceed jobhost.heartbeat_interval_seconds",
		},
		{
			name:    "zero max attempts",
			mutate:  func(cfg *Config) { cfg.Jobhost.MaxAttempts = 0 },
			wantErr: "jobhost.max_attempts must be greater than 0",
		},
		{
			name:    "negative stop grace",
			mutate:  func(cfg *Config) { cfg.Jobhost.StopGrace = -time.Second },
			wantErr: "jobhost.stop_grace cannot be negative",
		},
		{
			name:    "negative execution timeout",
			mutate:  func(cfg *Config) { cfg.Jobhost.ExecutionTimeout = -time.Minute },
			wantErr: "jobhost.execution_timeout cannot be negative",
		},
		{
			name: "duplicate queue",
			mutate: func(cfg *Config) {
				cfg.Jobhost.Queues = []QueueConfig{{Queue: 2}, {Queue: 5}, {Queue: 2}}
			},
			wantErr: "jobhost.queues[2] duplicates queue 2",
		},
		{
			name: "unknown watchdog kind",
			mutate: func(cfg *Config) {
				cfg.Watchdogs.Enabled = []string{"job-retention", "disk-sweeper"}
			},
			wantErr: "watchdogs.enabled[1] must be one of",
		},
		{
			name: "duplicate watchdog kind",
			mutate: func(cfg *Config) {
				cfg.Watchdogs.Enabled = []string{WatchdogQueueStats, WatchdogQueueStats}
			},
			wantErr: "watchdogs.enabled[1] duplicates queue-stats",
		},
		{
			name:    "no watchdogs is valid",
			mutate:  func(cfg *Config) { cfg.Watchdogs.Enabled = nil },
			wantErr: "",
		},
		{
			name:    "zero watchdog period",
			mutate:  func(cfg *Config) { cfg.Watchdogs.DefaultPeriodSeconds = 0 },
			wantErr: "watchdogs.default_period_seconds must be greater than 0",
		},
		{
			name:    "zero lease period",
			mutate:  func(cfg *Config) { cfg.Watchdogs.DefaultLeasePeriodSeconds = 0 },
			wantErr: "watchdogs.default_lease_period_seconds must be greater than 0",
		},
		{
			name:    "zero retention age",
			mutate:  func(cfg *Config) { cfg.Watchdogs.Retention.Age = 0 },
			wantErr: "watchdogs.retention.age must be greater than zero",
		},
		{
			name:    "unknown log level",
			mutate:  func(cfg *Config) { cfg.Observability.LogLevel = "trace" },
			wantErr: "observability.log_level must be one of",
		},
		{
			name:    "metrics enabled without address",
			mutate:  func(cfg *Config) { cfg.Observability.Metrics.Address = "" },
			wantErr: "observability.metrics.address is required when metrics are enabled",
		},
		{
			name: "metrics disabled does not need address",
			mutate: func(cfg *Config) {
				cfg.Observability.Metrics.Enabled = false
				cfg.Observability.Metrics.Address = ""
			},
			wantErr: "",
		},
		{
			name: "tracing enabled without endpoint",
			mutate: func(cfg *Config) {
				cfg.Observability.Tracing.Enabled = true
			},
			wantErr: "observability.tracing.endpoint is required when tracing is enabled",
		},
		{
			name:    "negative sample rate",
			mutate:  func(cfg *Config) { cfg.Observability.Tracing.SampleRate = -0.5 },
			wantErr: "observability.tracing.sample_rate must be between 0.0 and 1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfigValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Store.SQL.URL = ""
	cfg.Jobhost.MaxAttempts = 0
	cfg.Observability.LogFormat = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"store.sql.url is required",
		"jobhost.max_attempts must be greater than 0",
		"observability.log_format must be one of",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("expected joined error to contain %q, got %q", fragment, err.Error())
		}
	}
}

func TestConfig_String(t *testing.T) {
	cfg := validConfig()
	cfg.Jobhost.Queues = []QueueConfig{{Queue: 1, UpdateProgressOnHeartbeat: true}}

	out := cfg.String()

	if !strings.Contains(out, "service:") {
		t.Errorf("expected section header, got:\n%s", out)
	}
	if !strings.Contains(out, "name: flockwork") {
		t.Errorf("expected service name line, got:\n%s", out)
	}
	if !strings.Contains(out, "driver: postgres") {
		t.Errorf("expected driver line, got:\n%s", out)
	}
	if !strings.Contains(out, "queues:") {
		t.Errorf("expected queues section, got:\n%s", out)
	}
	// Field names come from mapstructure tags, not Go names
	if strings.Contains(out, "MaxOpenConns") {
		t.Errorf("expected tag names in output, got:\n%s", out)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Redis.URL = "redis://:hunter2@cache:6379"

	secrets := &Config{}
	secrets.Store.SQL.URL = cfg.Store.SQL.URL
	secrets.Store.Redis.URL = cfg.Store.Redis.URL

	out := cfg.Redacted(secrets)

	if strings.Contains(out, "secret@db") {
		t.Errorf("expected sql url masked, got:\n%s", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Errorf("expected redis url masked, got:\n%s", out)
	}
	if !strings.Contains(out, "url: ***") {
		t.Errorf("expected masked url marker, got:\n%s", out)
	}
	if !strings.Contains(out, "driver: postgres") {
		t.Errorf("expected non-secret values intact, got:\n%s", out)
	}
}

func TestConfig_RedactedWithoutSecrets(t *testing.T) {
	cfg := validConfig()

	if cfg.Redacted(nil) != cfg.String() {
		t.Error("expected nil secrets to fall back to String()")
	}
}
