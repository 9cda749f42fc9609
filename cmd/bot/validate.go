package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tathienbao/signal-trader/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintf(out, "  Broker: %s (%s)\n", cfg.Broker.Type, cfg.Broker.Mode)
	fmt.Fprintf(out, "  Channels: %d, tracked users: %d\n", len(cfg.Discord.ChannelIDs), len(cfg.Discord.TrackedUsers))
	fmt.Fprintf(out, "  Max position value: $%.2f\n", cfg.Risk.MaxPositionValue)
	fmt.Fprintf(out, "  Buy/sell mode: %s/%s, TIF %s\n", cfg.Execution.BuyMode, cfg.Execution.SellMode, cfg.Execution.TIF)
	fmt.Fprintf(out, "  Timeouts: buy %ds, sell %ds\n", cfg.Execution.BuyTimeoutSec, cfg.Execution.SellTimeoutSec)
	fmt.Fprintf(out, "  Persistence: %s\n", cfg.Persistence.Type)
	if cfg.Execution.DryRun {
		fmt.Fprintln(out, "  Dry run: orders will not be submitted")
	}
	return nil
}
