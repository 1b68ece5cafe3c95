package bulletin

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/tfelbr/FMBP/internal/consistency"
	"github.com/tfelbr/FMBP/pkg/fm"
)

// Reconfiguration records one configuration applied to a program.
type Reconfiguration struct {
	ID          string          `json:"id"`
	Model       string          `json:"model"`
	Config      map[string]bool `json:"config"`
	CreatedAtMs int64           `json:"created_at_ms"`
}

// NewReconfiguration stamps cfg with a fresh ID and the current time.
func NewReconfiguration(model string, cfg fm.Configuration) *Reconfiguration {
	return &Reconfiguration{
		ID:          uuid.New().String(),
		Model:       model,
		Config:      maps.Clone(map[string]bool(cfg)),
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// Validate checks the record before it is written.
func (r *Reconfiguration) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid reconfiguration ID: not a valid UUID")
	}
	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if r.Config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	return nil
}

// DivergenceKind says which check found the divergence.
type DivergenceKind string

const (
	DivergenceThreads DivergenceKind = "threads"
	DivergenceEvents  DivergenceKind = "events"
)

// Validate checks if the DivergenceKind is a valid enum value.
func (k DivergenceKind) Validate() error {
	switch k {
	case DivergenceThreads, DivergenceEvents:
		return nil
	default:
		return fmt.Errorf("unknown divergence kind: %q", k)
	}
}

// Divergence records why a run stopped on a model/runtime mismatch.
type Divergence struct {
	ID          string         `json:"id"`
	Model       string         `json:"model"`
	Kind        DivergenceKind `json:"kind"`
	Findings    []string       `json:"findings"`
	CreatedAtMs int64          `json:"created_at_ms"`
}

// NewDivergence stamps the findings with a fresh ID and the current time.
func NewDivergence(model string, kind DivergenceKind, findings []string) *Divergence {
	if findings == nil {
		findings = []string{}
	}
	return &Divergence{
		ID:          uuid.New().String(),
		Model:       model,
		Kind:        kind,
		Findings:    findings,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// Validate checks the record before it is written.
func (d *Divergence) Validate() error {
	if !isValidUUID(d.ID) {
		return fmt.Errorf("invalid divergence ID: not a valid UUID")
	}
	if d.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if err := d.Kind.Validate(); err != nil {
		return err
	}
	if len(d.Findings) == 0 {
		return fmt.Errorf("divergence must carry at least one finding")
	}
	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// DivergenceFromError builds a Divergence from a consistency error.
// Returns false if err carries no divergence report.
func DivergenceFromError(model string, err error) (*Divergence, bool) {
	report, ok := consistency.DivergenceReport(err)
	if !ok || report.Empty() {
		return nil, false
	}

	kind := DivergenceEvents
	var te *consistency.ThreadInconsistencyError
	if errors.As(err, &te) {
		kind = DivergenceThreads
	}

	findings := make([]string, 0, len(report))
	for _, f := range report {
		findings = append(findings, f.String())
	}
	return NewDivergence(model, kind, findings), true
}
