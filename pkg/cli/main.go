package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/flockwork/flockwork/pkg/config"
	"github.com/flockwork/flockwork/pkg/health"
	"github.com/flockwork/flockwork/pkg/jobhost"
	"github.com/flockwork/flockwork/pkg/observability/logger"
	"github.com/flockwork/flockwork/pkg/server"
	"github.com/flockwork/flockwork/pkg/store"
	"github.com/flockwork/flockwork/pkg/version"
	"github.com/flockwork/flockwork/pkg/watchdog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ServiceCommandOptions defines callbacks for service-specific logic.
type ServiceCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Handlers attaches the executable behavior for each hosted queue.
	// Required when the configuration lists queues.
	Handlers map[uint8]jobhost.Handler

	// Optional: overrides the bundled work implementation of a watchdog kind.
	Works map[watchdog.Kind]watchdog.Work

	// Optional: lifecycle hooks run around the replica's main loop.
	StartupHooks        []server.LifecycleHook
	ShutdownHooks       []server.LifecycleHook
	ShutdownHookTimeout time.Duration

	// Optional: replaces the built-in replica runtime behind "serve".
	RunReplica func(ctx context.Context, cfg *config.Config, log logger.Logger) error

	// Optional: replaces the built-in store probe behind "healthcheck".
	CheckDependencies func(ctx context.Context, cfg *config.Config, log logger.Logger) error

	// Optional: custom config validation (runs after the built-in validation)
	ValidateConfig func(cfg *config.Config) error

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// NewServiceCommand creates a standardized CLI with serve, version,
// healthcheck, and config subcommands. Running the root command serves.
func NewServiceCommand(opts ServiceCommandOptions) *cobra.Command {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "FLOCKWORK"
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "flockwork"
	}

	rootCmd := &cobra.Command{
		Use:   name,
		Short: opts.Description,
	}

	var cfgPath string
	var secretFilePath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, secretFilePath, opts.ValidateConfig, flags, name)
	}

	// version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(name)
			cmd.Printf("Service:    %s\n", info.Service)
			cmd.Printf("Version:    %s\n", info.Version)
			cmd.Printf("Commit:     %s\n", info.Commit)
			cmd.Printf("Build Time: %s\n", info.BuildTime)
			cmd.Printf("Go Version: %s\n", info.GoVersion)
		},
	})

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.RunReplica != nil {
				return opts.RunReplica(runCtx, cfg, log)
			}
			return runReplica(runCtx, cfg, log, opts)
		},
	}
	serveCmd.Flags().String("replica-identity", "", "replica identity override")
	serveCmd.Flags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	// healthcheck command
	var onlyCheck string
	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the shared store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if opts.CheckDependencies != nil {
				return opts.CheckDependencies(cmd.Context(), cfg, log)
			}
			return checkDependencies(cmd, cfg, log, onlyCheck)
		},
	}
	healthcheckCmd.Flags().StringVar(&onlyCheck, "check", "", "probe a single named dependency (sql, redis)")
	rootCmd.AddCommand(healthcheckCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(opts.EnvPrefix, secretFilePath); err != nil {
				return err
			}
			loader := config.NewViperLoader(cfgPath, opts.EnvPrefix).WithServiceName(name)
			cfg, _, err := loader.LoadWithSecrets()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.ValidateConfig != nil {
				if err := opts.ValidateConfig(cfg); err != nil {
					return fmt.Errorf("custom validation failed: %w", err)
				}
			}
			cmd.Println("✓ Configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(opts.EnvPrefix, secretFilePath); err != nil {
				return err
			}
			loader := config.NewViperLoader(cfgPath, opts.EnvPrefix).WithServiceName(name)
			cfg, secrets, err := loader.LoadWithSecrets()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			settings := cfg.Settings()
			if !showSecrets {
				settings = cfg.RedactedSettings(secrets)
			}
			formatted, err := formatSettings(settings)
			if err != nil {
				return err
			}
			cmd.Print(formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	rootCmd.AddCommand(configCmd)

	// Add custom service-specific commands
	for _, customCmd := range opts.CustomCommands {
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()

	return rootCmd
}

// runReplica assembles the replica from configuration and runs it until the
// context ends.
func runReplica(ctx context.Context, cfg *config.Config, log logger.Logger, opts ServiceCommandOptions) error {
	replica, err := server.Build(ctx, server.Options{
		Config:              cfg,
		Logger:              log,
		Handlers:            opts.Handlers,
		Works:               opts.Works,
		StartupHooks:        opts.StartupHooks,
		ShutdownHooks:       opts.ShutdownHooks,
		ShutdownHookTimeout: opts.ShutdownHookTimeout,
	})
	if err != nil {
		return err
	}
	return replica.Run(ctx)
}

// checkDependencies opens the configured backends, runs their probes once
// and reports each result. The schema is never touched, so the command also
// works against a store no replica has bootstrapped yet. A non-empty only
// restricts the run to that single check.
func checkDependencies(cmd *cobra.Command, cfg *config.Config, log logger.Logger, only string) error {
	sqlStore, err := store.NewSQL(cfg.Store.SQL, log)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer func() { _ = sqlStore.DB.Close() }()

	registry := health.NewRegistry()
	registry.Register(health.NewStoreChecker("sql", sqlStore.DB))

	coordination, err := store.NewCoordinationAdapter(cfg.Store.Redis, log)
	if err != nil {
		return fmt.Errorf("open coordination store: %w", err)
	}
	if coordination != nil {
		defer func() { _ = coordination.Close() }()
		registry.Register(health.NewCoordinationChecker("redis", coordination))
	}

	if only != "" {
		return runSingleCheck(cmd, registry, only)
	}

	report := registry.Check(cmd.Context())
	for _, check := range report.Checks {
		printCheck(cmd, check)
	}
	if !report.IsHealthy() {
		return errors.New("one or more dependencies are unhealthy")
	}
	cmd.Println("✓ All dependencies are reachable")
	return nil
}

// runSingleCheck probes one named dependency out of the registry.
func runSingleCheck(cmd *cobra.Command, registry *health.Registry, name string) error {
	check, err := registry.CheckOne(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("unknown check %q, available: %s", name, strings.Join(registry.List(), ", "))
	}
	printCheck(cmd, check)
	if check.Status != health.StatusHealthy {
		return fmt.Errorf("dependency %s is unhealthy", name)
	}
	return nil
}

func printCheck(cmd *cobra.Command, check health.CheckResult) {
	if check.Status == health.StatusHealthy {
		cmd.Printf("✓ %s (%s)\n", check.Name, check.Duration.Round(time.Millisecond))
		return
	}
	cmd.Printf("✗ %s: %s\n", check.Name, check.Error)
}

// LoadConfigAndLogger resolves configuration the same way the built-in
// commands do and builds the service logger from it.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	customValidator func(*config.Config) error,
	flags *pflag.FlagSet,
	defaultServiceName string,
) (*config.Config, logger.Logger, error) {
	if envPrefix == "" {
		envPrefix = "FLOCKWORK"
	}
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	loader := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceName(defaultServiceName).
		WithFlags(flags)
	cfg, secrets, err := loader.LoadWithSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// Run custom validation if provided (the loader's own validation already ran)
	if customValidator != nil {
		if err := customValidator(cfg); err != nil {
			return nil, nil, fmt.Errorf("custom validation failed: %w", err)
		}
	}

	level, err := logger.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	format, err := logger.ParseLogFormat(cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg, secrets)
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func formatSettings(settings map[string]any) (string, error) {
	if settings == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logConfigIfDebug(log logger.Logger, cfg, secrets *config.Config) {
	if log == nil || cfg == nil {
		return
	}

	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}

	log.Debug("effective configuration", "config", cfg.Redacted(secrets))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "FLOCKWORK"
	}
	return strings.ToUpper(trimmed)
}
