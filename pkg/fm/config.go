package fm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Configuration maps thread names to whether the thread should be active.
// A nil Configuration means no configuration is available.
type Configuration map[string]bool

// AllActive returns a configuration that activates every given thread.
func AllActive(names []string) Configuration {
	cfg := make(Configuration, len(names))
	for _, name := range names {
		cfg[name] = true
	}
	return cfg
}

// Equal reports whether both configurations have the same keys with the same
// values. A nil configuration only equals another nil configuration.
func (c Configuration) Equal(other Configuration) bool {
	if (c == nil) != (other == nil) {
		return false
	}
	if len(c) != len(other) {
		return false
	}
	for name, active := range c {
		v, ok := other[name]
		if !ok || v != active {
			return false
		}
	}
	return true
}

// Names returns the configured thread names in sorted order.
func (c Configuration) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Configuration) String() string {
	if c == nil {
		return "<none>"
	}
	parts := make([]string, 0, len(c))
	for _, name := range c.Names() {
		parts = append(parts, fmt.Sprintf("%s=%t", name, c[name]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// ParseResult decodes a solver result file of the form
// {"config": {"<feature>": <value>, ...}}. Only boolean values whose key is
// not hierarchical (contains no '.') are kept. Failures are reported as
// *DecodeError.
func ParseResult(data []byte) (Configuration, error) {
	var result struct {
		Config map[string]json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &DecodeError{What: "configuration result", Err: err}
	}
	if result.Config == nil {
		return nil, &DecodeError{What: "configuration result", Err: fmt.Errorf("missing config object")}
	}

	cfg := make(Configuration, len(result.Config))
	for name, raw := range result.Config {
		if strings.Contains(name, ".") {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if active, ok := v.(bool); ok {
			cfg[name] = active
		}
	}
	return cfg, nil
}
