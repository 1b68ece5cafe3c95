// Package watertank is a small demo program: four threads add hot water,
// add cold water, drain water and announce completion, while the feature
// model decides from the tank's level and temperature which of them run.
package watertank

import (
	"context"
	"fmt"
	"sync"

	"github.com/tfelbr/FMBP/pkg/fm"
)

// EnvFeature is the model feature holding the initial tank state.
const EnvFeature = "Env"

// Context variable names, matching the Env feature's attributes.
const (
	VarTemperature = "temp"
	VarLevel       = "level"
)

// Tank holds water at a uniform temperature. It is safe for concurrent use.
type Tank struct {
	mu          sync.Mutex
	level       int
	temperature int
}

// NewTank creates a tank with the given level in liters and temperature in °C.
func NewTank(level, temperature int) *Tank {
	return &Tank{level: level, temperature: temperature}
}

// FromModel creates a tank initialized from the Env feature's level and temp
// attributes.
func FromModel(m *fm.Model) (*Tank, error) {
	env, ok := m.Feature(EnvFeature)
	if !ok {
		return nil, fmt.Errorf("model has no %s feature", EnvFeature)
	}

	level, err := numberAttribute(env, VarLevel)
	if err != nil {
		return nil, err
	}
	temp, err := numberAttribute(env, VarTemperature)
	if err != nil {
		return nil, err
	}
	return NewTank(level, temp), nil
}

func numberAttribute(f fm.Feature, name string) (int, error) {
	attr, ok := f.Attribute(name)
	if !ok {
		return 0, fmt.Errorf("feature %s has no %s attribute", f.Name, name)
	}
	if attr.Value.Kind != fm.KindNumber {
		return 0, fmt.Errorf("feature %s: attribute %s is %s, not a number", f.Name, name, attr.Value.Kind)
	}
	return int(attr.Value.Num), nil
}

// AddWater mixes in amount liters at the given temperature. The resulting
// temperature is truncated to whole degrees.
func (t *Tank) AddWater(amount, temperature int) {
	if amount == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	mixed := (t.level*t.temperature + amount*temperature) / (t.level + amount)
	t.level += amount
	t.temperature = mixed
}

// RemoveWater drains amount liters if the tank holds that much.
func (t *Tank) RemoveWater(amount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.level >= amount {
		t.level -= amount
	}
}

// Level returns the water level in liters.
func (t *Tank) Level() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Temperature returns the water temperature in °C.
func (t *Tank) Temperature() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.temperature
}

// Snapshot exposes the tank state as solver context.
func (t *Tank) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		VarTemperature: float64(t.temperature),
		VarLevel:       float64(t.level),
	}, nil
}

func (t *Tank) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("%d L, %d °C", t.level, t.temperature)
}
