package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfelbr/FMBP/internal/config"
	"github.com/tfelbr/FMBP/internal/printer"
	"github.com/tfelbr/FMBP/internal/watch"
)

var (
	watchRedisURL     string
	watchInstanceName string
	watchOutputFormat string
	watchNext         time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow reconfigurations of a running program",
	Long: `Stream reconfigurations and divergences published by 'fmbp run' to its
bulletin.

Output Formats:
  default - Human-readable lines with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow the instance named in fmbp.yml
  fmbp watch

  # Follow a specific instance
  fmbp watch --redis redis://localhost:6379 --name tank

  # Wait up to a minute for the next reconfiguration, then exit
  fmbp watch --next 1m`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchRedisURL, "redis", "", "Redis URL (default from config or REDIS_URL)")
	watchCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "", "Instance name (default from config or FMBP_INSTANCE)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().DurationVar(&watchNext, "next", 0, "Wait this long for the next reconfiguration and exit")
	rootCmd.AddCommand(watchCmd)
}

// bulletinSettings resolves where to watch from flags, then fmbp.yml, then
// the environment.
func bulletinSettings() (*config.BulletinConfig, error) {
	bc := &config.BulletinConfig{}
	cfg, err := config.Read(configPath)
	switch {
	case err == nil && cfg.Bulletin != nil:
		*bc = *cfg.Bulletin
	case err == nil || errors.Is(err, os.ErrNotExist):
		bc.RedisURL = os.Getenv("REDIS_URL")
		bc.Instance = os.Getenv("FMBP_INSTANCE")
	default:
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}

	if watchRedisURL != "" {
		bc.RedisURL = watchRedisURL
	}
	if watchInstanceName != "" {
		bc.Instance = watchInstanceName
	}

	if bc.RedisURL == "" || bc.Instance == "" {
		return nil, printer.Error(
			"no bulletin configured",
			"Both a Redis URL and an instance name are needed.",
			[]string{
				"Pass them as flags:\n  fmbp watch --redis redis://localhost:6379 --name tank",
				"Add a bulletin section to fmbp.yml",
			},
		)
	}
	return bc, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	bc, err := bulletinSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board, err := connectBulletin(ctx, bc)
	if err != nil {
		return err
	}
	defer board.Close()

	if watchNext > 0 {
		r, err := watch.PollForReconfiguration(ctx, board, time.Now().UnixMilli(), watchNext)
		if err != nil {
			return printer.Error("no reconfiguration", err.Error(), nil)
		}
		printer.Info("%s", watch.FormatRecord(r, nil))
		return nil
	}

	printer.Step("Watching instance %s\n", bc.Instance)
	return watch.StreamActivity(ctx, board, format, os.Stdout)
}
