package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration like Load but merges an optional
// secrets file between the config file and the environment, so precedence
// is: changed flags > env > secrets file > config file > defaults.
//
// Keeping credentials in a sibling file lets deployments mount them from a
// secret store while the config file stays plain:
//
//	config.yaml:
//	  store:
//	    sql:
//	      driver: postgres
//
//	secrets.yaml:
//	  store:
//	    sql:
//	      url: postgres://user:password@db:5432/flockwork
//
// The second return value carries only what the secrets file contained, so
// callers can redact exactly those values when printing the merged config.
// It is nil when no secrets file was found.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, l.defaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.secretsFilePath()
	if err != nil {
		return nil, nil, err
	}
	secrets, err := l.mergeSecretsFile(v, secretsFile)
	if err != nil {
		return nil, nil, err
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)
	l.bindFlags(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// mergeSecretsFile layers the secrets file over v and also returns its
// contents on their own. A blank path means there is nothing to merge.
func (l *ViperLoader) mergeSecretsFile(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	sv := viper.New()
	sv.SetConfigFile(path)
	if err := sv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var secrets Config
	if err := sv.Unmarshal(&secrets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge secrets into config: %w", err)
	}
	return &secrets, nil
}

// secretsFilePath resolves the secrets file location. <ENV_PREFIX>_SECRETS_FILE
// wins when set and must then point at a readable file. Otherwise a
// secrets.<ext> sibling of the config file is picked up, then a secrets
// file in the working directory. A blank result means no secrets file.
func (l *ViperLoader) secretsFilePath() (string, error) {
	envName := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(envName); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", envName)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("secrets file %s from %s is inaccessible: %w", path, envName, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("secrets file %s from %s is a directory", path, envName)
		}
		return path, nil
	}

	if l.configFile != "" {
		sibling := filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile))
		if isRegularFile(sibling) {
			return sibling, nil
		}
	}

	for _, ext := range []string{".yaml", ".yml", ".json", ".toml"} {
		if candidate := "secrets" + ext; isRegularFile(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
