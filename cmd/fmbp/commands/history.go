package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfelbr/FMBP/internal/printer"
	"github.com/tfelbr/FMBP/internal/timespec"
	"github.com/tfelbr/FMBP/internal/watch"
)

var (
	historySince  string
	historyUntil  string
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past reconfigurations of a program",
	Long: `List the reconfigurations 'fmbp run' has published to its bulletin,
oldest first.

Time filters accept a duration back from now ("1h30m"), an RFC3339
timestamp ("2025-10-29T13:00:00Z") or a date ("2025-10-29").

Examples:
  # Everything recorded for the instance in fmbp.yml
  fmbp history

  # The last ten minutes as JSON lines
  fmbp history --since 10m --output json

  # A fixed window on another instance
  fmbp history --name tank --since 2025-10-29 --until 2025-10-30`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&watchRedisURL, "redis", "", "Redis URL (default from config or REDIS_URL)")
	historyCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "", "Instance name (default from config or FMBP_INSTANCE)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only reconfigurations at or after this time")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Only reconfigurations at or before this time")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(historyOutput)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", historyOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	window, err := timespec.ParseRange(historySince, historyUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"Use a duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z' or a date like '2025-10-29'",
		})
	}

	bc, err := bulletinSettings()
	if err != nil {
		return err
	}

	ctx := context.Background()
	board, err := connectBulletin(ctx, bc)
	if err != nil {
		return err
	}
	defer board.Close()

	sinceMs, untilMs := window.Millis()
	history, err := board.History(ctx, sinceMs, untilMs)
	if err != nil {
		return printer.Error("failed to read history", err.Error(), nil)
	}

	if len(history) == 0 && format == watch.OutputFormatDefault {
		printer.Info("No reconfigurations recorded for %s\n", bc.Instance)
		return nil
	}
	return watch.WriteHistory(os.Stdout, format, history)
}
