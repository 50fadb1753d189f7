package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fibanez/aws-dash-architect-sub001/internal/config"
	"github.com/fibanez/aws-dash-architect-sub001/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool
	jsonLogs   bool

	// cfg is loaded once by the root pre-run hook.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "discover",
		Short: "Multi-account cloud resource discovery",
		Long: `discover enumerates cloud resources across accounts, regions and
resource types. Cheap list calls run first; per-resource detail calls
follow once a resource type has been fully listed.

Results are merged into an in-memory store, reported as a table or JSON,
and exported as Prometheus metrics in watch mode.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`discover {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON instead of console output")
}

// setup loads the configuration and configures the global logger.
func setup(_ *cobra.Command, _ []string) error {
	loaded := config.Default()
	if configPath != "" {
		var err error
		if loaded, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Log.Level
	if debug {
		level = zerolog.LevelDebugValue
	}
	logger, err := telemetry.NewLogger(telemetry.LoggerOptions{
		Service: cfg.OTEL.ServiceName,
		Level:   level,
		Console: !jsonLogs,
		Out:     os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = logger.Logger
	return nil
}
