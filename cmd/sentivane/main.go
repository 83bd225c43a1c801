package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentivane/sentivane/cmd/sentivane/commands"
	"github.com/sentivane/sentivane/logger"
	"github.com/sentivane/sentivane/sym"
)

var rootCmd = &cobra.Command{
	Use:   "sentivane",
	Short: sym.Gauge + " Sentivane - composite market sentiment index",
	Long: sym.Gauge + ` Sentivane collects data from rate-limited external sources and
aggregates it into a daily composite sentiment index.

Available commands:
  daemon  - Run the job worker pool in the foreground
  jobs    - Enqueue and control background jobs
  index   - Compute and inspect the composite index
  migrate - Apply pending database migrations

Examples:
  sentivane daemon                                  # Start the daemon
  sentivane jobs enqueue daily_collection --date 2024-01-15
  sentivane jobs ls --status pending                # List pending jobs
  sentivane index calculate 2024-01-15              # Compute one date
  sentivane index latest                            # Show the latest index`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of human-readable output")
	rootCmd.PersistentFlags().Bool("json", false, "Emit command output as JSON")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.IndexCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
