package config

import (
	"reflect"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Settings returns the configuration as a nested map keyed by the same
// names the file format uses. Durations render in their flag form ("30s")
// so the output can be fed back in as a config file.
func (c *Config) Settings() map[string]any {
	return structSettings(reflect.ValueOf(c).Elem(), reflect.Value{})
}

// RedactedSettings is Settings with every value the secrets config set
// replaced by "***". Pass the secrets Config returned by LoadWithSecrets;
// nil redacts nothing.
func (c *Config) RedactedSettings(secrets *Config) map[string]any {
	if secrets == nil {
		return c.Settings()
	}
	return structSettings(reflect.ValueOf(c).Elem(), reflect.ValueOf(secrets).Elem())
}

func structSettings(v, mask reflect.Value) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if !value.CanInterface() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}

		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}
		out[name] = settingValue(value, maskValue)
	}

	return out
}

func settingValue(v, mask reflect.Value) any {
	switch {
	case v.Kind() == reflect.Struct:
		return structSettings(v, mask)
	case v.Kind() == reflect.Slice:
		items := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			items = append(items, settingValue(v.Index(i), reflect.Value{}))
		}
		return items
	case shouldRedact(mask):
		return "***"
	case v.Type() == durationType:
		return v.Interface().(time.Duration).String()
	default:
		return v.Interface()
	}
}
