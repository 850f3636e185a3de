package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	validDrivers := []string{SQLDriverPostgres, SQLDriverMySQL}
	if !contains(validDrivers, strings.ToLower(strings.TrimSpace(c.Store.SQL.Driver))) {
		errs = append(errs, fmt.Errorf("invalid store.sql.driver: %s (must be one of: %v)", c.Store.SQL.Driver, validDrivers))
	}
	if strings.TrimSpace(c.Store.SQL.URL) == "" {
		errs = append(errs, errors.New("store.sql.url is required"))
	}
	if c.Store.SQL.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("store.sql.max_open_conns must be greater than 0"))
	}
	if c.Store.SQL.MaxIdleConns < 0 {
		errs = append(errs, errors.New("store.sql.max_idle_conns cannot be negative"))
	}
	if c.Store.SQL.MaxOpenConns > 0 && c.Store.SQL.MaxIdleConns > c.Store.SQL.MaxOpenConns {
		errs = append(errs, errors.New("store.sql.max_idle_conns cannot exceed store.sql.max_open_conns"))
	}
	if c.Store.SQL.QueryTimeout <= 0 {
		errs = append(errs, errors.New("store.sql.query_timeout must be greater than zero"))
	}
	if strings.TrimSpace(c.Store.Redis.URL) != "" {
		if c.Store.Redis.MaxConns <= 0 {
			errs = append(errs, errors.New("store.redis.max_conns must be greater than 0 when redis is configured"))
		}
		if c.Store.Redis.OperationTimeout <= 0 {
			errs = append(errs, errors.New("store.redis.operation_timeout must be greater than zero when redis is configured"))
		}
	}

	if c.Jobhost.PollingFrequencySeconds <= 0 {
		errs = append(errs, errors.New("jobhost.polling_frequency_seconds must be greater than 0"))
	}
	if c.Jobhost.MaxRunningJobs <= 0 {
		errs = append(errs, errors.New("jobhost.max_running_jobs must be greater than 0"))
	}
	if c.Jobhost.HeartbeatIntervalSeconds <= 0 {
		errs = append(errs, errors.New("jobhost.heartbeat_interval_seconds must be greater than 0"))
	}
	if c.Jobhost.HeartbeatTimeoutSeconds <= c.Jobhost.HeartbeatIntervalSeconds {
		errs = append(errs, errors.New("jobhost.heartbeat_timeout_seconds must exceed jobhost.heartbeat_interval_seconds"))
	}
	if c.Jobhost.MaxAttempts <= 0 {
		errs = append(errs, errors.New("jobhost.max_attempts must be greater than 0"))
	}
	if c.Jobhost.StopGrace < 0 {
		errs = append(errs, errors.New("jobhost.stop_grace cannot be negative"))
	}
	if c.Jobhost.ExecutionTimeout < 0 {
		errs = append(errs, errors.New("jobhost.execution_timeout cannot be negative"))
	}
	if c.Jobhost.ClaimRateLimit < 0 {
		errs = append(errs, errors.New("jobhost.claim_rate_limit cannot be negative"))
	}
	seenQueues := map[uint8]bool{}
	for index, queue := range c.Jobhost.Queues {
		if seenQueues[queue.Queue] {
			errs = append(errs, fmt.Errorf("jobhost.queues[%d] duplicates queue %d", index, queue.Queue))
		}
		seenQueues[queue.Queue] = true
	}

	validKinds := []string{WatchdogJobRetention, WatchdogQueueStats}
	seenKinds := map[string]bool{}
	for index, kind := range c.Watchdogs.Enabled {
		if !contains(validKinds, kind) {
			errs = append(errs, fmt.Errorf("watchdogs.enabled[%d] must be one of %v", index, validKinds))
			continue
		}
		if seenKinds[kind] {
			errs = append(errs, fmt.Errorf("watchdogs.enabled[%d] duplicates %s", index, kind))
		}
		seenKinds[kind] = true
	}
	if c.Watchdogs.DefaultPeriodSeconds <= 0 {
		errs = append(errs, errors.New("watchdogs.default_period_seconds must be greater than 0"))
	}
	if c.Watchdogs.DefaultLeasePeriodSeconds <= 0 {
		errs = append(errs, errors.New("watchdogs.default_lease_period_seconds must be greater than 0"))
	}
	if c.Watchdogs.Retention.Age <= 0 {
		errs = append(errs, errors.New("watchdogs.retention.age must be greater than zero"))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(c.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("observability.log_level must be one of %v", validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, strings.ToLower(c.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("observability.log_format must be one of %v", validLogFormats))
	}
	if c.Observability.Metrics.Enabled && strings.TrimSpace(c.Observability.Metrics.Address) == "" {
		errs = append(errs, errors.New("observability.metrics.address is required when metrics are enabled"))
	}
	if c.Observability.Tracing.Enabled && strings.TrimSpace(c.Observability.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("observability.tracing.endpoint is required when tracing is enabled"))
	}
	if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing.sample_rate must be between 0.0 and 1.0"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), "")
}

// Redacted returns the configuration with secrets masked.
// Pass the secrets Config returned by LoadWithSecrets() to mask those values.
func (c *Config) Redacted(secrets *Config) string {
	if secrets == nil {
		return c.String()
	}
	return formatStructWithMask(reflect.ValueOf(c).Elem(), reflect.ValueOf(secrets).Elem(), "")
}

func formatStruct(v reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if !value.CanInterface() {
			continue
		}

		fieldName := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			fieldName = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			sb.WriteString(formatStruct(value, prefix+"  "))
		case reflect.Slice:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: []\n", prefix, fieldName))
			} else {
				sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
				for j := 0; j < value.Len(); j++ {
					elem := value.Index(j)
					sb.WriteString(fmt.Sprintf("%s  - %v\n", prefix, elem.Interface()))
				}
			}
		case reflect.Map:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: {}\n", prefix, fieldName))
			} else {
				sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
				for _, key := range value.MapKeys() {
					mapValue := value.MapIndex(key)
					sb.WriteString(fmt.Sprintf("%s  %v: %v\n", prefix, key.Interface(), mapValue.Interface()))
				}
			}
		default:
			sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, fieldName, value.Interface()))
		}
	}

	return sb.String()
}

func formatStructWithMask(v, mask reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		maskValue := mask.Field(i)

		if !value.CanInterface() {
			continue
		}

		fieldName := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			fieldName = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			sb.WriteString(formatStructWithMask(value, maskValue, prefix+"  "))
		case reflect.Slice:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: []\n", prefix, fieldName))
			} else {
				sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
				for j := 0; j < value.Len(); j++ {
					elem := value.Index(j)
					sb.WriteString(fmt.Sprintf("%s  - %v\n", prefix, elem.Interface()))
				}
			}
		case reflect.Map:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: {}\n", prefix, fieldName))
			} else {
				sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
				for _, key := range value.MapKeys() {
					mapValue := value.MapIndex(key)
					sb.WriteString(fmt.Sprintf("%s  %v: %v\n", prefix, key.Interface(), mapValue.Interface()))
				}
			}
		default:
			displayValue := value.Interface()
			// Mask any value the secrets file set
			if shouldRedact(maskValue) {
				displayValue = "***"
			}
			sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, fieldName, displayValue))
		}
	}

	return sb.String()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.Bool:
		return v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return false
	}
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
