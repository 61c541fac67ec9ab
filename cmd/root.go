package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notargets/ResGather/config"
)

var (
	configPath string // YAML run description
	logLevel   string // Log verbosity level, overrides the config
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "resgather",
	Short: "Gather partitioned reservoir state onto one I/O rank",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or the built in case when none is given, and
// applies the log level
func loadConfig() *config.Config {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			logrus.Fatalf("%v", err)
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", cfg.LogLevel)
	}
	logrus.SetLevel(level)
	return cfg
}

// runContext ends on interrupt or after the configured timeout
func runContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if cfg.Transport.Timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, cfg.Transport.Timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
