package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/livetts/internal/config"
	"github.com/lexiqai/livetts/internal/observability"
)

var (
	// Global flags
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "livetts",
	Short: "livetts - live chat and gifts to speech",
	Long: `livetts connects to a live room, filters chat messages and gift
notifications and speaks them one at a time.

It also ships the signing proxy used by the live feed client:
  - listen  speaks a live room
  - proxy   forwards requests upstream with the API key attached

Configuration is read from the environment and an optional .env file.`,
	Version:       observability.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human readable console logs")
}

// loadConfig loads configuration and initialises the global logger with
// any flag overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logPretty {
		cfg.LogPretty = true
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)

	return cfg, nil
}
