package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ctrader_gateway/internal/symbols"
)

func newSymbolsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "Print the symbol mapping and verify it translates both ways",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			table, err := symbols.Load(cfg.SymbolsPath)
			if err != nil {
				return err
			}
			return printSymbols(cmd.OutOrStdout(), table)
		},
	}
}

// printSymbols writes one row per symbol and fails when any symbol does not
// map back to itself through its cTrader id.
func printSymbols(w io.Writer, table *symbols.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tCTRADER ID\tROUND TRIP")

	var broken []string
	for _, symbol := range table.All() {
		entry, _ := table.ToVendor(symbol)
		back, ok := table.ToNeutral(entry.CTraderID)
		result := "ok"
		if !ok || back != symbol {
			result = fmt.Sprintf("FAIL (%s)", back)
			broken = append(broken, symbol)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", symbol, entry.CTraderID, result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(broken) > 0 {
		return fmt.Errorf("%d symbol(s) do not round-trip: %v", len(broken), broken)
	}
	fmt.Fprintf(w, "%d symbols\n", table.Len())
	return nil
}
