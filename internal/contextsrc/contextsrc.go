// Package contextsrc provides context sources for the configuration
// pipeline. A snapshot is a flat map from variable name to a string,
// float64 or bool value, handed to the solver as is.
package contextsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

// Func adapts a function to a context source.
type Func func(ctx context.Context) (map[string]interface{}, error)

func (f Func) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	return f(ctx)
}

// Static is a fixed context.
type Static map[string]interface{}

func (s Static) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	return maps.Clone(map[string]interface{}(s)), nil
}

// Source is anything that can produce a context snapshot.
type Source interface {
	Snapshot(ctx context.Context) (map[string]interface{}, error)
}

// Merged combines several sources. Later sources win on name clashes.
type Merged []Source

func (m Merged) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for i, src := range m {
		snap, err := src.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("context source %d: %w", i, err)
		}
		maps.Copy(out, snap)
	}
	return out, nil
}

// ParseValue types a textual value: "true" and "false" become bools,
// finite numbers become float64 and anything else stays a string. NaN and
// infinities stay strings since JSON cannot carry them to the solver.
func ParseValue(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// parsePayload types a message payload. JSON scalars are decoded; anything
// else falls back to ParseValue on the raw text.
func parsePayload(payload []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err == nil {
		switch v.(type) {
		case string, float64, bool:
			return v
		}
	}
	return ParseValue(string(payload))
}
