package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tfelbr/FMBP/internal/printer"
)

var exportOutputFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Show the b-threads and events declared by the model",
	Long: `Start the solver, export the feature model and list every b-thread feature
with the events it declares.

Output Formats:
  default - Threads and their events
  json    - The full exported model

Examples:
  # List threads of the model named in fmbp.yml
  fmbp export

  # Dump the model for another tool
  fmbp export --model tank.uvl --solver uvls --output=json`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportOutputFormat != "default" && exportOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", exportOutputFormat),
			[]string{"Valid formats: default, json"},
		)
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

	model := client.Model()
	if exportOutputFormat == "json" {
		data, err := json.MarshalIndent(model.Features, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal model: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	threads, err := model.Threads()
	if err != nil {
		return printer.Error("invalid thread declarations", err.Error(), nil)
	}
	if len(threads) == 0 {
		printer.Warning("Model declares no b-threads\n")
		return nil
	}
	printer.Threads(threads)
	return nil
}
