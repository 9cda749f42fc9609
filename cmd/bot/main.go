// Package main is the entry point for the signal trading bot.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "signal-trader",
	Short: "Chat-signal driven stock and option order execution",
	Long: `Signal Trader listens for trade calls posted in chat, checks them against
pre-trade risk limits, submits orders to the brokerage and follows each order
until it fills, is canceled, or is converted to a market order.

Examples:
  signal-trader run --config config.yaml
  signal-trader parse "BTO 10 AAPL 150C 08/16 @ 2.50"
  signal-trader ledger --config config.yaml --orders 20
  signal-trader validate --config config.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func newLogger(json bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var logger *slog.Logger
	if json {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
