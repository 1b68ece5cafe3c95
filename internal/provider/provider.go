// Package provider implements the configuration pipeline. Each stage produces
// a configuration or none (a nil fm.Configuration) and stages compose by
// wrapping, outermost first: Logging(Caching(Context(...))).
package provider

import (
	"context"
	"fmt"
	"log"
	"maps"

	"github.com/tfelbr/FMBP/pkg/fm"
)

// Provider produces the next configuration. A nil configuration with a nil
// error means nothing new is available.
type Provider interface {
	Configuration(ctx context.Context) (fm.Configuration, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context) (fm.Configuration, error)

func (f Func) Configuration(ctx context.Context) (fm.Configuration, error) {
	return f(ctx)
}

// ContextSource supplies the context variables the solver solves against.
// Values are string, float64 or bool.
type ContextSource interface {
	Snapshot(ctx context.Context) (map[string]interface{}, error)
}

// Generator turns a context snapshot into a configuration.
type Generator interface {
	GenerateConfiguration(ctx context.Context, vars map[string]interface{}) (fm.Configuration, error)
}

// Static always returns the same configuration.
type Static struct {
	cfg fm.Configuration
}

// NewStatic returns a provider for a fixed configuration.
func NewStatic(cfg fm.Configuration) *Static {
	return &Static{cfg: maps.Clone(cfg)}
}

func (s *Static) Configuration(ctx context.Context) (fm.Configuration, error) {
	return maps.Clone(s.cfg), nil
}

// Context asks the generator for a configuration matching the current
// context snapshot. It keeps no state.
type Context struct {
	source    ContextSource
	generator Generator
}

// NewContext wires a context source to a generator.
func NewContext(source ContextSource, generator Generator) *Context {
	return &Context{source: source, generator: generator}
}

func (c *Context) Configuration(ctx context.Context) (fm.Configuration, error) {
	vars, err := c.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read context: %w", err)
	}
	return c.generator.GenerateConfiguration(ctx, vars)
}

// Caching suppresses configurations equal to the last one it returned, so
// downstream stages only see changes. An absent result from the wrapped
// stage passes through and leaves the cache untouched.
type Caching struct {
	next Provider
	last fm.Configuration
}

// NewCaching wraps next with change detection.
func NewCaching(next Provider) *Caching {
	return &Caching{next: next}
}

func (c *Caching) Configuration(ctx context.Context) (fm.Configuration, error) {
	cfg, err := c.next.Configuration(ctx)
	if err != nil || cfg == nil {
		return nil, err
	}
	if c.last != nil && cfg.Equal(c.last) {
		return nil, nil
	}
	c.last = maps.Clone(cfg)
	return cfg, nil
}

// Notifier is told about every configuration leaving the pipeline.
type Notifier interface {
	Notify(ctx context.Context, cfg fm.Configuration) error
}

// LogNotifier writes each configuration to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, cfg fm.Configuration) error {
	log.Printf("[INFO] Reconfiguring: %s", cfg)
	return nil
}

// Logging passes configurations through unchanged and notifies observers
// whenever one is present. Notifier failures are logged, not returned.
type Logging struct {
	next      Provider
	notifiers []Notifier
}

// NewLogging wraps next. Without notifiers, configurations are logged.
func NewLogging(next Provider, notifiers ...Notifier) *Logging {
	if len(notifiers) == 0 {
		notifiers = []Notifier{LogNotifier{}}
	}
	return &Logging{next: next, notifiers: notifiers}
}

func (l *Logging) Configuration(ctx context.Context) (fm.Configuration, error) {
	cfg, err := l.next.Configuration(ctx)
	if err != nil || cfg == nil {
		return cfg, err
	}
	for _, n := range l.notifiers {
		if err := n.Notify(ctx, cfg); err != nil {
			log.Printf("[WARN] Configuration notifier failed: %v", err)
		}
	}
	return cfg, nil
}
