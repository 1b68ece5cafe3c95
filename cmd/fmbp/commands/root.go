package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tfelbr/FMBP/internal/config"
	"github.com/tfelbr/FMBP/internal/printer"
)

var (
	version string
	commit  string
	date    string

	configPath    string
	modelFlag     string
	solverCommand []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fmbp",
	Short: "FMBP - Feature-model-driven behavioral programs",
	Long: `FMBP runs behavioral programs whose threads are switched on and off by a
feature model. A UVL language server solves the model against the current
context, and every scheduling step checks that the running threads still bid
exactly what the model declares.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed in color by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Path to fmbp.yml")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "UVL model file (overrides config)")
	rootCmd.PersistentFlags().StringSliceVar(&solverCommand, "solver", nil, "Solver command and arguments (overrides config)")
}

// loadConfig reads the config file, falling back to flags alone when the
// default file does not exist. Flags override file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || configPath != config.DefaultFile {
			return nil, printer.Error(
				"invalid configuration",
				err.Error(),
				[]string{fmt.Sprintf("Fix %s or pass --model and --solver", configPath)},
			)
		}
		cfg = &config.Config{Version: "1.0"}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, printer.Error("invalid environment", err.Error(), nil)
		}
	}

	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if len(solverCommand) > 0 {
		cfg.Solver.Command = solverCommand
	}

	if err := cfg.Validate(); err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{
				fmt.Sprintf("Create %s next to your model", config.DefaultFile),
				"Pass the model and solver directly:\n  fmbp run --model tank.uvl --solver uvls",
			},
		)
	}
	return cfg, nil
}
