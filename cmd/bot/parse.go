package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tathienbao/signal-trader/internal/parser"
	"github.com/tathienbao/signal-trader/internal/types"
)

var parseCmd = &cobra.Command{
	Use:   `parse "<message>"`,
	Short: "Parse a chat message and print the trade signal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	sig, ok := parser.Parse(text)
	if !ok {
		return errors.New("unrecognized signal")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Kind:     %s\n", sig.Kind)
	fmt.Fprintf(out, "Action:   %s\n", sig.Action)
	fmt.Fprintf(out, "Symbol:   %s\n", sig.Symbol)
	fmt.Fprintf(out, "Quantity: %d\n", sig.Quantity)
	if sig.Kind == types.AssetOption {
		fmt.Fprintf(out, "Strike:   %s\n", sig.Option.Strike)
		fmt.Fprintf(out, "Right:    %s\n", sig.Option.CallPut)
		fmt.Fprintf(out, "Expiry:   %s\n", sig.Option.Expiry)
	}
	fmt.Fprintf(out, "Type:     %s\n", sig.OrderType)
	if sig.LimitPrice.Valid {
		fmt.Fprintf(out, "Limit:    %s\n", sig.LimitPrice.Decimal)
	}
	return nil
}
