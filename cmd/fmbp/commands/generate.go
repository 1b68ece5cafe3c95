package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tfelbr/FMBP/internal/contextsrc"
	"github.com/tfelbr/FMBP/internal/printer"
)

var generateOutputFormat string

var generateCmd = &cobra.Command{
	Use:   "generate [NAME=VALUE ...]",
	Short: "Solve the model for one context",
	Long: `Ask the solver for a configuration that satisfies the model under the given
context values. Values are typed: true and false become booleans, numbers
become numbers, anything else stays a string.

Examples:
  # Configuration without context
  fmbp generate

  # Configuration for a half-full tank at 35 °C
  fmbp generate level=5 temp=35

  # As JSON
  fmbp generate level=5 --output=json`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(generateCmd)
}

// parseVars turns NAME=VALUE arguments into a context snapshot.
func parseVars(args []string) (map[string]interface{}, error) {
	if len(args) == 0 {
		return nil, nil
	}
	vars := make(map[string]interface{}, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected NAME=VALUE, got %q", arg)
		}
		vars[name] = contextsrc.ParseValue(value)
	}
	return vars, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if generateOutputFormat != "default" && generateOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", generateOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	vars, err := parseVars(args)
	if err != nil {
		return printer.Error("invalid context value", err.Error(), []string{"Pass context as NAME=VALUE, e.g. level=5"})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := dialSolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.GenerateConfiguration(ctx, vars)
	if err != nil {
		return solverError(cfg, err)
	}
	if result == nil {
		return printer.Error(
			"no configuration",
			"The solver's result file could not be decoded.",
			[]string{"Run again; the solver may still have been writing the file"},
		)
	}

	if generateOutputFormat == "json" {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	printer.Configuration(result)
	return nil
}
