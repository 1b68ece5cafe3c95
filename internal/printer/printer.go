package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/tfelbr/FMBP/internal/consistency"
	"github.com/tfelbr/FMBP/pkg/fm"
)

func init() {
	// Users can disable colors with NO_COLOR
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Stdout and Stderr are where messages go; tests swap them.
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints a message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a message in yellow with a warning prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stdout, msg)
}

// Step prints a step of a multi-step operation
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error with title, explanation and suggestions to
// Stderr and returns an error holding only the title, for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the
// explanation and the suggestions.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(Stderr, "\n")
		keys := make([]string, 0, len(context))
		for key := range context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", key, context[key])
		}
	}

	printSuggestions(suggestions)

	// Cobra runs with SilenceErrors, so only the title travels on
	return fmt.Errorf("%s", title)
}

func printSuggestions(suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintf(Stderr, "\n")
	if len(suggestions) == 1 {
		fmt.Fprintf(Stderr, "%s\n", suggestions[0])
		return
	}
	fmt.Fprintf(Stderr, "Either:\n")
	for i, suggestion := range suggestions {
		fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
	}
}

// Configuration prints one line per feature, active ones in green.
func Configuration(cfg fm.Configuration) {
	if cfg == nil {
		faint.Fprintln(Stdout, "(no configuration)")
		return
	}
	for _, name := range cfg.Names() {
		if cfg[name] {
			green.Fprintf(Stdout, "  + %s\n", name)
		} else {
			faint.Fprintf(Stdout, "  - %s\n", name)
		}
	}
}

// Threads prints each b-thread with its modeled events, both sorted by name.
func Threads(threads map[string]fm.ThreadSpec) {
	names := make([]string, 0, len(threads))
	for name := range threads {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cyan.Fprintf(Stdout, "%s\n", name)
		spec := threads[name]
		for _, event := range spec.EventNames() {
			ev, _ := spec.Event(event)
			fmt.Fprintf(Stdout, "    %s\n", ev)
		}
	}
}

// Divergence prints a consistency report, missing items in yellow and
// everything else in red, and returns an error for Cobra.
func Divergence(report consistency.Report) error {
	red.Fprintf(Stderr, "Runtime and model have diverged\n\n")

	for _, f := range report {
		switch f.Kind {
		case consistency.MissingThread, consistency.MissingEvent:
			yellow.Fprintf(Stderr, "  %s\n", indent(f.String()))
		default:
			red.Fprintf(Stderr, "  %s\n", indent(f.String()))
		}
	}

	fmt.Fprintf(Stderr, "\n")
	printSuggestions([]string{
		"Update the model so its b-thread features match the program",
		"Change the program so its bids match the modeled events",
	})

	return fmt.Errorf("runtime and model have diverged (%d findings)", len(report))
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}

// Println prints a plain message
func Println(a ...any) {
	fmt.Fprintln(Stdout, a...)
}
