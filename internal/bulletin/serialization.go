package bulletin

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Redis stores records as string-to-string hashes. Maps and lists are
// JSON-encoded into single fields.

// ReconfigurationToHash converts a Reconfiguration to hash fields.
func ReconfigurationToHash(r *Reconfiguration) (map[string]interface{}, error) {
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return map[string]interface{}{
		"id":            r.ID,
		"model":         r.Model,
		"config":        string(configJSON),
		"created_at_ms": r.CreatedAtMs,
	}, nil
}

// HashToReconfiguration converts hash fields back to a Reconfiguration.
func HashToReconfiguration(hash map[string]string) (*Reconfiguration, error) {
	config := map[string]bool{}
	if raw := hash["config"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	return &Reconfiguration{
		ID:          hash["id"],
		Model:       hash["model"],
		Config:      config,
		CreatedAtMs: createdAtMs,
	}, nil
}

// DivergenceToHash converts a Divergence to hash fields.
func DivergenceToHash(d *Divergence) (map[string]interface{}, error) {
	findingsJSON, err := json.Marshal(d.Findings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal findings: %w", err)
	}

	return map[string]interface{}{
		"id":            d.ID,
		"model":         d.Model,
		"kind":          string(d.Kind),
		"findings":      string(findingsJSON),
		"created_at_ms": d.CreatedAtMs,
	}, nil
}

// HashToDivergence converts hash fields back to a Divergence.
func HashToDivergence(hash map[string]string) (*Divergence, error) {
	findings := []string{}
	if raw := hash["findings"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &findings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal findings: %w", err)
		}
	}

	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	return &Divergence{
		ID:          hash["id"],
		Model:       hash["model"],
		Kind:        DivergenceKind(hash["kind"]),
		Findings:    findings,
		CreatedAtMs: createdAtMs,
	}, nil
}
