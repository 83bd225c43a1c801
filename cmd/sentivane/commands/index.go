package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sentivane/sentivane/display"
	"github.com/sentivane/sentivane/index"
	"github.com/sentivane/sentivane/logger"
	"github.com/sentivane/sentivane/store"
	"github.com/sentivane/sentivane/sym"
)

// IndexCmd groups the composite index commands.
var IndexCmd = &cobra.Command{
	Use:   "index",
	Short: sym.Gauge + " Compute and inspect the composite index",
	Long: sym.Gauge + ` Composite index operations.

Calculation runs against the source records already persisted for the date;
use the collection jobs to fetch records first.

Examples:
  sentivane index calculate 2024-01-15
  sentivane index range 2024-01-01 2024-01-31
  sentivane index latest
  sentivane index history --limit 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var indexCalculateCmd = &cobra.Command{
	Use:   "calculate <date>",
	Short: "Compute the index for one date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndexCalculate(args[0], display.ShouldOutputJSON(cmd))
	},
}

var indexRangeCmd = &cobra.Command{
	Use:   "range <start> <end>",
	Short: "Compute the index for a date range",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndexRange(args[0], args[1])
	},
}

var indexLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent computed index",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndexLatest(display.ShouldOutputJSON(cmd))
	},
}

var indexHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent computed records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runIndexHistory(limit, display.ShouldOutputJSON(cmd))
	},
}

func init() {
	indexHistoryCmd.Flags().Int("limit", 14, "Number of records to display")

	IndexCmd.AddCommand(indexCalculateCmd)
	IndexCmd.AddCommand(indexRangeCmd)
	IndexCmd.AddCommand(indexLatestCmd)
	IndexCmd.AddCommand(indexHistoryCmd)
}

func buildEngine() (*index.Engine, func(), error) {
	cfg, database, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}

	records := store.NewStore(database)
	history := index.NewStore(database)
	engine := index.NewEngine(records, history, cfg.Index, logger.Logger)

	return engine, func() { database.Close() }, nil
}

func runIndexCalculate(date string, asJSON bool) error {
	engine, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	idx, err := engine.Calculate(context.Background(), date)
	if err != nil {
		return err
	}

	if asJSON {
		return display.OutputJSON(idx)
	}
	printIndex(idx)
	return nil
}

func runIndexRange(start, end string) error {
	engine, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	outcomes, err := engine.CalculateRange(context.Background(), start, end)
	if err != nil {
		return err
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			pterm.Warning.Printfln("%s  failed: %v", outcome.Date, outcome.Err)
			continue
		}
		succeeded++
		fmt.Printf("%s  %6.1f  %-13s confidence %.0f%%\n",
			outcome.Date, outcome.Index.Value, outcome.Index.Level, outcome.Index.Confidence)
	}

	fmt.Printf("\n%d/%d dates computed\n", succeeded, len(outcomes))
	return nil
}

func runIndexLatest(asJSON bool) error {
	engine, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	idx, err := engine.GetLatestIndex()
	if err != nil {
		return err
	}
	if idx == nil {
		fmt.Printf("%s No index computed yet\n", sym.Gauge)
		return nil
	}

	if asJSON {
		return display.OutputJSON(idx)
	}
	printIndex(idx)
	return nil
}

func runIndexHistory(limit int, asJSON bool) error {
	engine, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	history, err := engine.GetIndexHistory(limit)
	if err != nil {
		return err
	}
	if asJSON {
		return display.OutputJSON(history)
	}
	if len(history) == 0 {
		fmt.Printf("%s No index computed yet\n", sym.Gauge)
		return nil
	}

	fmt.Printf("%-12s %7s  %-13s %s\n", "DATE", "VALUE", "LEVEL", "CONFIDENCE")
	for _, idx := range history {
		fmt.Printf("%-12s %7.1f  %-13s %.0f%%\n", idx.Date, idx.Value, idx.Level, idx.Confidence)
	}
	return nil
}

func printIndex(idx *index.CompositeIndex) {
	pterm.DefaultSection.Printfln("%s %s", sym.Gauge, idx.Date)
	fmt.Printf("Value: %.1f (%s)\n", idx.Value, idx.Level)
	fmt.Printf("Confidence: %.0f%%\n", idx.Confidence)
	fmt.Printf("Computed: %s\n\n", idx.ComputedAt.Format("2006-01-02 15:04:05"))

	fmt.Printf("%-20s %7s %8s %s\n", "COMPONENT", "SCORE", "WEIGHT", "AVAILABLE")
	for _, name := range componentOrder(idx) {
		comp := idx.Components[name]
		avail := "yes"
		if !comp.Available {
			avail = "no (midpoint)"
		}
		fmt.Printf("%-20s %7.1f %7.0f%% %s\n", name, comp.Score, idx.Weights[name], avail)
	}
}

// componentOrder returns component names sorted for stable output.
func componentOrder(idx *index.CompositeIndex) []string {
	names := make([]string, 0, len(idx.Components))
	for name := range idx.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
