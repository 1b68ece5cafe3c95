package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tfelbr/FMBP/internal/bprogram"
	"github.com/tfelbr/FMBP/internal/bulletin"
	"github.com/tfelbr/FMBP/internal/config"
	"github.com/tfelbr/FMBP/internal/consistency"
	"github.com/tfelbr/FMBP/internal/contextsrc"
	"github.com/tfelbr/FMBP/internal/printer"
	"github.com/tfelbr/FMBP/internal/provider"
	"github.com/tfelbr/FMBP/internal/reconfig"
	"github.com/tfelbr/FMBP/internal/watcher"
	"github.com/tfelbr/FMBP/internal/watertank"
)

var runMaxSteps int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the water tank program under model control",
	Long: `Run the water tank program. Before every step the model file is checked
for changes, the running threads are compared with the model, and the solver
is asked for a configuration matching the tank's level and temperature.

The run ends when the FINISHED event is selected, no event can be selected,
the step limit is reached, or on Ctrl-C. It fails as soon as the program and
the model diverge.

Examples:
  # Run with fmbp.yml in the current directory
  fmbp run

  # Run at most 20 steps
  fmbp run --max-steps 20

  # Publish reconfigurations for 'fmbp watch'
  REDIS_URL=redis://localhost:6379 FMBP_INSTANCE=tank fmbp run`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", -1, "Stop after this many events (0 = unbounded, default from config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Phase 1: Solver and model
	client, err := dialSolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	tank, err := watertank.FromModel(client.Model())
	if err != nil {
		return printer.Error(
			"model is not a water tank",
			err.Error(),
			[]string{"Add an Env feature with numeric temp and level attributes"},
		)
	}

	modelWatcher, err := watcher.NewMTimeWatcher(cfg.Model, client)
	if err != nil {
		return fmt.Errorf("failed to watch model: %w", err)
	}

	// Phase 2: Bulletin
	notifiers := []provider.Notifier{provider.LogNotifier{}}
	var board *bulletin.Client
	if cfg.Bulletin != nil {
		board, err = connectBulletin(ctx, cfg.Bulletin)
		if err != nil {
			return err
		}
		defer board.Close()
		notifiers = append(notifiers, bulletin.NewNotifier(board, client.URI()))
	}

	// Phase 3: Context
	source, cleanup, err := contextSources(ctx, cfg.Context, tank)
	if err != nil {
		return err
	}
	defer cleanup()

	// Phase 4: Program
	pipeline := provider.NewLogging(
		provider.NewCaching(provider.NewContext(source, client)),
		notifiers...,
	)
	checker := consistency.New(consistency.DynamicSource{Holder: client})
	controller := reconfig.New(watertank.NewListener(tank), pipeline, checker, modelWatcher)

	program, err := bprogram.New(watertank.Threads(), controller)
	if err != nil {
		return fmt.Errorf("failed to build program: %w", err)
	}
	program.MaxSteps = cfg.MaxSteps()
	if runMaxSteps >= 0 {
		program.MaxSteps = runMaxSteps
	}

	printer.Step("Running %s (tank at %s)\n", cfg.Model, tank)
	res, err := program.Run(ctx)
	if err != nil {
		return runError(ctx, cfg, board, client.URI(), err)
	}

	printer.Success("Run ended after %d steps: %s\n", res.Steps, res.Reason)
	printer.Info("Tank: %s\n", tank)
	return nil
}

func connectBulletin(ctx context.Context, bc *config.BulletinConfig) (*bulletin.Client, error) {
	board, err := bulletin.Dial(bc.RedisURL, bc.Instance)
	if err != nil {
		return nil, printer.Error("invalid bulletin settings", err.Error(), nil)
	}
	if err := board.Ping(ctx); err != nil {
		board.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", bc.RedisURL),
			map[string]string{"Instance": bc.Instance},
			[]string{
				"Start Redis:\n  docker run -p 6379:6379 redis:7-alpine",
				"Remove the bulletin section and unset REDIS_URL to run without it",
			},
		)
	}
	return board, nil
}

// contextSources merges the program's own context with the configured
// sources. The returned cleanup releases every connection opened here.
func contextSources(ctx context.Context, cc *config.ContextConfig, own provider.ContextSource) (contextsrc.Merged, func(), error) {
	sources := contextsrc.Merged{own}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cc == nil {
		return sources, cleanup, nil
	}

	if len(cc.Static) > 0 {
		sources = append(sources, contextsrc.Static(cc.Static))
	}

	if cc.Redis != nil {
		opts, err := redis.ParseURL(cc.Redis.URL)
		if err != nil {
			return nil, nil, printer.Error("invalid context settings", fmt.Sprintf("context.redis.url: %v", err), nil)
		}
		rdb := redis.NewClient(opts)
		closers = append(closers, func() { rdb.Close() })
		sources = append(sources, contextsrc.NewRedis(rdb, cc.Redis.Key))
	}

	if cc.MQTT != nil {
		m, err := contextsrc.DialMQTT(ctx, cc.MQTT.Broker, cc.MQTT.ClientID, cc.MQTT.Topics)
		if err != nil {
			cleanup()
			return nil, nil, printer.ErrorWithContext(
				"MQTT connection failed",
				err.Error(),
				map[string]string{"Broker": cc.MQTT.Broker},
				nil,
			)
		}
		closers = append(closers, m.Stop)
		sources = append(sources, m)
	}

	return sources, cleanup, nil
}

// runError renders a failed run and publishes divergences to the bulletin.
func runError(ctx context.Context, cfg *config.Config, board *bulletin.Client, model string, err error) error {
	if errors.Is(err, context.Canceled) {
		printer.Warning("Run interrupted\n")
		return nil
	}

	report, ok := consistency.DivergenceReport(err)
	if !ok {
		var unknown *consistency.UnknownThreadError
		if errors.As(err, &unknown) {
			return printer.Error("runtime and model have diverged", err.Error(), nil)
		}
		return solverError(cfg, err)
	}

	if board != nil {
		if d, ok := bulletin.DivergenceFromError(model, err); ok {
			if pubErr := board.PublishDivergence(context.WithoutCancel(ctx), d); pubErr != nil {
				log.Printf("[WARN] Failed to publish divergence: %v", pubErr)
			}
		}
	}
	return printer.Divergence(report)
}
