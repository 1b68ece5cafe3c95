package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tfelbr/FMBP/internal/config"
	"github.com/tfelbr/FMBP/internal/lsp"
	"github.com/tfelbr/FMBP/internal/printer"
)

// dialSolver starts the language server and loads the model, rendering
// failures for the terminal.
func dialSolver(ctx context.Context, cfg *config.Config) (*lsp.Client, error) {
	client, err := lsp.Dial(ctx, cfg.Solver.Command, cfg.ClientOptions())
	if err != nil {
		return nil, solverError(cfg, err)
	}
	return client, nil
}

// solverError maps protocol client errors to user-facing messages.
func solverError(cfg *config.Config, err error) error {
	details := map[string]string{
		"Model":  cfg.Model,
		"Solver": strings.Join(cfg.Solver.Command, " "),
	}

	var defect *lsp.ModelDefectError
	var protocol *lsp.ProtocolError
	switch {
	case errors.As(err, &defect):
		return printer.ErrorWithContext(
			"model has errors",
			defect.Error(),
			details,
			[]string{"Fix the reported lines and run again"},
		)
	case errors.Is(err, lsp.ErrHandshake):
		return printer.ErrorWithContext(
			"solver handshake failed",
			err.Error(),
			details,
			[]string{
				"Check that the solver command starts a UVL language server on stdio",
				"Run the solver by hand to see its output",
			},
		)
	case errors.Is(err, lsp.ErrNoSolution):
		return printer.ErrorWithContext(
			"no configuration satisfies the model",
			"The solver found no SAT solution for the given context.",
			details,
			[]string{"Relax the model constraints or change the context values"},
		)
	case errors.Is(err, lsp.ErrSolverTimeout):
		return printer.ErrorWithContext(
			"solver timed out",
			err.Error(),
			details,
			[]string{"Raise solver.result_timeout in fmbp.yml (a negative value waits forever)"},
		)
	case errors.As(err, &protocol):
		return printer.ErrorWithContext("solver protocol error", protocol.Error(), details, nil)
	default:
		return printer.ErrorWithContext("solver failed", fmt.Sprintf("Error: %v", err), details, nil)
	}
}
