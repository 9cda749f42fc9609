package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "signal-trader version %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Build time: %s\n", BuildTime)
		fmt.Fprintf(cmd.OutOrStdout(), "  Git commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
