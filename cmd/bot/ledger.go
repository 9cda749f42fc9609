package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tathienbao/signal-trader/internal/config"
	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/persistence"
	"github.com/tathienbao/signal-trader/internal/types"
	"github.com/tathienbao/signal-trader/internal/ui"
)

var ledgerOrders int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Print holdings and today's realized P/L from the configured store",
	RunE:  runLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().IntVar(&ledgerOrders, "orders", 0, "also print the N most recent journaled orders (sqlite/postgres only)")
}

func runLedger(cmd *cobra.Command, args []string) error {
	newLogger(false)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx := cmd.Context()
	store, journal, err := persistence.Open(ctx, cfg.ToPersistenceConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := store.Load(ctx)
	switch {
	case errors.Is(err, types.ErrStateNotFound):
		state = ledger.NewState()
	case err != nil:
		return fmt.Errorf("load ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	painter := ui.NewPainterEnabled(false)
	if f, ok := out.(*os.File); ok {
		painter = ui.NewPainter(f)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tKIND\tQTY\tAVG COST")
	for _, h := range state.Holdings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Asset(), h.Kind, h.Quantity(), h.AvgCost.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	today := types.DateOf(time.Now())
	fmt.Fprintf(out, "\n%s %s: %s\n", painter.Bold("Realized P/L"), today, painter.PL(state.RealizedOn(today)))

	if ledgerOrders <= 0 {
		return nil
	}
	if journal == nil {
		return fmt.Errorf("order journal requires sqlite or postgres persistence")
	}

	orders, err := journal.RecentOrders(ctx, ledgerOrders)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tORDER\tASSET\tSIDE\tTYPE\tQTY\tFILLED\tAVG\tSTATUS")
	for _, o := range orders {
		typ := o.OrderType.String()
		if o.Fallback {
			typ += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.CreatedAt.Local().Format(time.DateTime), o.BrokerOrderID, o.Asset, o.Side, typ,
			o.Quantity, o.FilledQty, o.AvgFillPrice.StringFixed(2), painter.Status(o.Status))
	}
	return tw.Flush()
}
