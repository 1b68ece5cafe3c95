// Package watch follows a running program through its bulletin: it streams
// reconfigurations and divergences as they are published, or waits for the
// next reconfiguration.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tfelbr/FMBP/internal/bulletin"
	"github.com/tfelbr/FMBP/pkg/fm"
)

// OutputFormat selects how streamed records are written.
type OutputFormat int

const (
	OutputFormatDefault OutputFormat = iota
	OutputFormatJSON
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "default":
		return OutputFormatDefault, nil
	case "json":
		return OutputFormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown output format: %s", s)
	}
}

// PollForReconfiguration polls for a reconfiguration created after afterMs
// (Unix milliseconds). Polls every 200ms until timeout.
func PollForReconfiguration(ctx context.Context, client *bulletin.Client, afterMs int64, timeout time.Duration) (*bulletin.Reconfiguration, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for reconfiguration after %v", timeout)

		case <-ticker.C:
			r, err := client.LatestReconfiguration(ctx)
			if err != nil {
				if bulletin.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query for reconfiguration: %w", err)
			}
			if r.CreatedAtMs <= afterMs {
				continue
			}
			return r, nil
		}
	}
}

// record is the line written in JSON mode.
type record struct {
	Event           string                    `json:"event"`
	Reconfiguration *bulletin.Reconfiguration `json:"reconfiguration,omitempty"`
	Divergence      *bulletin.Divergence      `json:"divergence,omitempty"`
}

// StreamActivity writes every reconfiguration and divergence published for
// the client's instance until ctx is cancelled. Decode errors are written
// inline and streaming continues.
func StreamActivity(ctx context.Context, client *bulletin.Client, format OutputFormat, w io.Writer) error {
	reconfigs, err := client.SubscribeReconfigurations(ctx)
	if err != nil {
		return err
	}
	defer reconfigs.Close()

	divergences, err := client.SubscribeDivergences(ctx)
	if err != nil {
		return err
	}
	defer divergences.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case r, ok := <-reconfigs.Events():
			if !ok {
				return nil
			}
			if err := write(w, format, record{Event: "reconfiguration", Reconfiguration: r}); err != nil {
				return err
			}

		case d, ok := <-divergences.Events():
			if !ok {
				return nil
			}
			if err := write(w, format, record{Event: "divergence", Divergence: d}); err != nil {
				return err
			}

		case err, ok := <-reconfigs.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)

		case err, ok := <-divergences.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)
		}
	}
}

func write(w io.Writer, format OutputFormat, rec record) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", rec.Event, err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	_, err := io.WriteString(w, FormatRecord(rec.Reconfiguration, rec.Divergence))
	return err
}

// FormatRecord renders one reconfiguration or divergence for humans.
func FormatRecord(r *bulletin.Reconfiguration, d *bulletin.Divergence) string {
	var b strings.Builder
	switch {
	case r != nil:
		fmt.Fprintf(&b, "[%s] 🔧 Reconfigured %s: %s\n", timestamp(r.CreatedAtMs), r.Model, fm.Configuration(r.Config))
	case d != nil:
		fmt.Fprintf(&b, "[%s] ❌ Diverged (%s) %s:\n", timestamp(d.CreatedAtMs), d.Kind, d.Model)
		for _, f := range d.Findings {
			fmt.Fprintf(&b, "    %s\n", strings.ReplaceAll(f, "\n", "\n    "))
		}
	}
	return b.String()
}

func timestamp(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}

// WriteHistory writes past reconfigurations, oldest first, in the same
// shape StreamActivity uses.
func WriteHistory(w io.Writer, format OutputFormat, history []*bulletin.Reconfiguration) error {
	for _, r := range history {
		if err := write(w, format, record{Event: "reconfiguration", Reconfiguration: r}); err != nil {
			return err
		}
	}
	return nil
}
