// Package reconfig drives a running program from the feature model. On every
// scheduling step the controller refreshes the model if its file changed,
// asserts that model and runtime still agree, and applies any new
// configuration by enabling and disabling threads.
package reconfig

import (
	"context"
	"fmt"
	"log"

	"github.com/tfelbr/FMBP/internal/bprogram"
	"github.com/tfelbr/FMBP/internal/consistency"
	"github.com/tfelbr/FMBP/internal/provider"
	"github.com/tfelbr/FMBP/pkg/fm"
)

// Watcher refreshes the model when its backing file changed.
type Watcher interface {
	Check(ctx context.Context) (bool, error)
}

// Controller is a bprogram.Listener that reconfigures the program it
// listens to. Every collaborator is optional.
type Controller struct {
	inner    bprogram.Listener
	provider provider.Provider
	checker  *consistency.Checker
	watcher  Watcher
}

// New creates a controller. Without a provider, Starting installs one that
// activates every registered thread.
func New(inner bprogram.Listener, p provider.Provider, checker *consistency.Checker, w Watcher) *Controller {
	return &Controller{inner: inner, provider: p, checker: checker, watcher: w}
}

// Starting asserts the thread set, then applies the first configuration.
func (c *Controller) Starting(ctx context.Context, rt bprogram.Runtime) error {
	if err := c.assertThreadSet(rt); err != nil {
		return err
	}

	if c.inner != nil {
		if err := c.inner.Starting(ctx, rt); err != nil {
			return err
		}
	}

	if c.provider == nil {
		c.provider = provider.NewStatic(fm.AllActive(rt.ThreadNames()))
	}

	cfg, err := c.provider.Configuration(ctx)
	if err != nil {
		return fmt.Errorf("failed to get initial configuration: %w", err)
	}
	if cfg != nil {
		Apply(rt, cfg)
	}
	return nil
}

// EventSelected runs one reconfiguration step. The order is fixed: model
// refresh, consistency checks, inner listener, configuration pull, apply.
func (c *Controller) EventSelected(ctx context.Context, rt bprogram.Runtime, ev bprogram.Event) (bool, error) {
	if c.watcher != nil {
		if _, err := c.watcher.Check(ctx); err != nil {
			return false, err
		}
	}

	if err := c.assertThreadSet(rt); err != nil {
		return false, err
	}
	if c.checker != nil {
		if err := c.checker.AssertEventSet(bprogram.ThreadSpecs(rt)); err != nil {
			return false, err
		}
	}

	if c.inner != nil {
		halt, err := c.inner.EventSelected(ctx, rt, ev)
		if err != nil || halt {
			return halt, err
		}
	}

	if c.provider == nil {
		return false, nil
	}
	cfg, err := c.pull(ctx)
	if err != nil {
		return false, err
	}
	if cfg != nil {
		Apply(rt, cfg)
	}
	return false, nil
}

// pull asks the provider for a configuration, retrying for as long as the
// solver round trip produces undecodable output.
func (c *Controller) pull(ctx context.Context) (fm.Configuration, error) {
	for attempt := 1; ; attempt++ {
		cfg, err := c.provider.Configuration(ctx)
		if err == nil {
			return cfg, nil
		}
		if !fm.IsDecodeError(err) {
			return nil, err
		}

		log.Printf("[ERROR] Cannot decode configuration (attempt %d): %v", attempt, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
}

func (c *Controller) assertThreadSet(rt bprogram.Runtime) error {
	if c.checker == nil {
		return nil
	}
	return c.checker.AssertThreadSet(rt.ThreadNames())
}

// Apply enables every thread mapped to true and disables every thread mapped
// to false, in name order. It returns how many threads actually changed.
func Apply(rt bprogram.Runtime, cfg fm.Configuration) (enabled, disabled int) {
	for _, name := range cfg.Names() {
		if cfg[name] {
			if rt.EnableThread(name) {
				enabled++
			}
		} else if rt.DisableThread(name) {
			disabled++
		}
	}
	log.Printf("[DEBUG] [Reconfig] Applied configuration: enabled=%d disabled=%d", enabled, disabled)
	return enabled, disabled
}
