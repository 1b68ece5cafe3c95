// Package timespec parses the --since and --until flags of the CLI.
package timespec

import (
	"fmt"
	"time"
)

// Parse turns spec into a point in time. Accepted forms:
//   - a Go duration such as "90s" or "1h30m", meaning that long before now
//   - an RFC3339 timestamp such as "2025-10-29T13:00:00Z"
//   - a date "2025-10-29", meaning midnight UTC
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration %s", spec)
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, spec); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z' or a date like '2025-10-29')", spec)
}

// Range is a time window; a zero bound is open.
type Range struct {
	Since time.Time
	Until time.Time
}

// ParseRange parses the --since and --until flags. Empty flags leave that
// side open. Since must come before Until when both are given.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}
	return r, nil
}

// Millis returns both bounds as Unix milliseconds, 0 for an open side.
func (r Range) Millis() (sinceMs, untilMs int64) {
	if !r.Since.IsZero() {
		sinceMs = r.Since.UnixMilli()
	}
	if !r.Until.IsZero() {
		untilMs = r.Until.UnixMilli()
	}
	return sinceMs, untilMs
}
