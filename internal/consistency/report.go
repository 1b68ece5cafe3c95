package consistency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tfelbr/FMBP/pkg/fm"
)

// Kind classifies a divergence between model and runtime.
type Kind int

const (
	MissingThread Kind = iota
	UnexpectedThread
	MissingEvent
	IncorrectEvent
	UnexpectedEvent
)

func (k Kind) String() string {
	switch k {
	case MissingThread:
		return "missing_thread"
	case UnexpectedThread:
		return "unexpected_thread"
	case MissingEvent:
		return "missing_event"
	case IncorrectEvent:
		return "incorrect_event"
	case UnexpectedEvent:
		return "unexpected_event"
	default:
		return "unknown"
	}
}

// Finding is one divergence. Model is set for MissingEvent and
// IncorrectEvent, Runtime for IncorrectEvent and UnexpectedEvent.
type Finding struct {
	Kind    Kind
	Thread  string
	Model   fm.EventSpec
	Runtime fm.EventSpec
}

func (f Finding) String() string {
	switch f.Kind {
	case MissingThread:
		return fmt.Sprintf("Missing b-thread: '%s' found in model but not in runtime", f.Thread)
	case UnexpectedThread:
		return fmt.Sprintf("Unexpected b-thread: '%s' found in runtime but not in model", f.Thread)
	case MissingEvent:
		return fmt.Sprintf("Event detected in model of b-thread '%s' but missing in runtime\n%s", f.Thread, f.Model)
	case IncorrectEvent:
		return fmt.Sprintf("Runtime event of b-thread '%s' does not match model\nRuntime:  %s\nModel:    %s",
			f.Thread, f.Runtime, f.Model)
	case UnexpectedEvent:
		return fmt.Sprintf("Runtime event of b-thread '%s' not found in model\n%s", f.Thread, f.Runtime)
	default:
		return fmt.Sprintf("unknown finding for b-thread '%s'", f.Thread)
	}
}

// Report is an ordered list of findings. It is recomputed on every check.
type Report []Finding

// Empty reports whether model and runtime agree.
func (r Report) Empty() bool {
	return len(r) == 0
}

// Count returns how many findings are of kind k.
func (r Report) Count(k Kind) int {
	n := 0
	for _, f := range r {
		if f.Kind == k {
			n++
		}
	}
	return n
}

func (r Report) join(sep string) string {
	lines := make([]string, 0, len(r))
	for _, f := range r {
		lines = append(lines, f.String())
	}
	return strings.Join(lines, sep)
}

// ErrInconsistent matches every divergence error.
var ErrInconsistent = errors.New("runtime and model have diverged")

// ThreadInconsistencyError reports a thread set that differs from the model.
type ThreadInconsistencyError struct {
	Report Report
}

func (e *ThreadInconsistencyError) Error() string {
	return "Runtime and model have diverged:\n\n" + e.Report.join("\n")
}

func (e *ThreadInconsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

// EventInconsistencyError reports runtime bids that differ from the model.
type EventInconsistencyError struct {
	Report Report
}

func (e *EventInconsistencyError) Error() string {
	return "Runtime and model have diverged:\n\n" + e.Report.join("\n\n")
}

func (e *EventInconsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

// UnknownThreadError reports a runtime thread that bids but has no
// counterpart in the model at all.
type UnknownThreadError struct {
	Thread string
}

func (e *UnknownThreadError) Error() string {
	return fmt.Sprintf("b-thread not in model: %s", e.Thread)
}

// DivergenceReport extracts the report carried by err, if any.
func DivergenceReport(err error) (Report, bool) {
	var te *ThreadInconsistencyError
	if errors.As(err, &te) {
		return te.Report, true
	}
	var ee *EventInconsistencyError
	if errors.As(err, &ee) {
		return ee.Report, true
	}
	return nil, false
}
