package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdid/cmd/offline"
	"github.com/tphakala/birdid/cmd/reconcile"
	"github.com/tphakala/birdid/cmd/region"
	"github.com/tphakala/birdid/cmd/resolve"
	"github.com/tphakala/birdid/cmd/serve"
	"github.com/tphakala/birdid/internal/buildinfo"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	var shutdownTelemetry func()

	rootCmd := &cobra.Command{
		Use:           "birdid",
		Short:         "Geographic species filtering for bird identification",
		Version:       buildinfo.Current().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		resolve.Command(settings),
		region.Command(settings),
		reconcile.Command(settings),
		offline.Command(settings),
		serve.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initLogging(settings); err != nil {
			return err
		}
		shutdown, err := telemetry.Init(telemetry.Config{
			Enabled:     settings.Telemetry.Enabled,
			DSN:         settings.Telemetry.DSN,
			Environment: settings.Telemetry.Environment,
		})
		if err != nil {
			logger.Global().Module("cmd").Warn("telemetry disabled", logger.Error(err))
		}
		shutdownTelemetry = shutdown
		return nil
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if shutdownTelemetry != nil {
			shutdownTelemetry()
		}
		if err := logger.Global().Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to flush logs: %v\n", err)
		}
	}

	return rootCmd
}

// initLogging installs the global logger. --debug lowers every level to debug.
func initLogging(settings *conf.Settings) error {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		cfg.Console = &logger.ConsoleOutput{Enabled: true, Level: "debug"}
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

// setupFlags defines flags that are global to the command line interface.
// Flag defaults come from the loaded settings so config values show in --help.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.EBird.APIKey, "ebird-key", settings.EBird.APIKey, "eBird API v2 key")
	rootCmd.PersistentFlags().StringVar(&settings.Offline.Dir, "offline-dir", settings.Offline.Dir, "Directory holding the offline country lists")
	rootCmd.PersistentFlags().StringVar(&settings.Cache.Backend, "cache-backend", settings.Cache.Backend, "Species cache backend: file, sqlite, redis or memory")
	rootCmd.PersistentFlags().BoolVar(&settings.Geocoder.Enabled, "geocoder", settings.Geocoder.Enabled, "Resolve regions with the reverse geocoder")
}
