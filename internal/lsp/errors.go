package lsp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandshake is returned when the solver does not acknowledge initialize.
	ErrHandshake = errors.New("solver handshake failed")

	// ErrNoSolution is returned when the solver reports that no configuration
	// satisfies the model for the given context.
	ErrNoSolution = errors.New("no SAT solution for this model")

	// ErrSolverTimeout is returned when the result file does not appear in time.
	ErrSolverTimeout = errors.New("timed out waiting for solver result")
)

// ProtocolError reports a broken message stream. The connection is unusable
// afterwards.
type ProtocolError struct {
	Op     string
	Err    error
	Stderr string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
	if e.Stderr != "" {
		msg += "\nsolver stderr:\n" + e.Stderr
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Position is a zero-based line/character position in the model text.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Range is a span of model text.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is one entry of a publishDiagnostics notification.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity"`
	Message  string `json:"message"`
}

// SeverityError marks diagnostics that make the model unusable.
const SeverityError = 1

// ModelDefectError reports error-severity diagnostics for the model text.
type ModelDefectError struct {
	Defects []Diagnostic
}

func (e *ModelDefectError) Error() string {
	lines := make([]string, 0, len(e.Defects))
	for _, d := range e.Defects {
		lines = append(lines, fmt.Sprintf("%s to %s: %s", d.Range.Start, d.Range.End, d.Message))
	}
	return "UVL model has errors\n\n" + strings.Join(lines, "\n")
}

// IsModelDefect reports whether err means the model (or the context it was
// solved against) must change before the solver can succeed.
func IsModelDefect(err error) bool {
	if errors.Is(err, ErrNoSolution) {
		return true
	}
	var defect *ModelDefectError
	return errors.As(err, &defect)
}

// IsProtocolError reports whether err wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
