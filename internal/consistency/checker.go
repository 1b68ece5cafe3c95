// Package consistency compares what the feature model declares about threads
// and their events with what a running program actually bids.
package consistency

import (
	"fmt"
	"sort"

	"github.com/tfelbr/FMBP/pkg/fm"
)

// ModelSource supplies the model-side thread specs, keyed by thread name.
type ModelSource interface {
	ThreadSpecs() (map[string]fm.ThreadSpec, error)
}

// StaticSource is a fixed set of thread specs.
type StaticSource map[string]fm.ThreadSpec

func (s StaticSource) ThreadSpecs() (map[string]fm.ThreadSpec, error) {
	return s, nil
}

// ModelHolder exposes the current model, such as the solver client.
type ModelHolder interface {
	Model() *fm.Model
}

// DynamicSource extracts thread specs from the holder's current model on
// every call, so a refreshed model is picked up immediately.
type DynamicSource struct {
	Holder ModelHolder
}

func (s DynamicSource) ThreadSpecs() (map[string]fm.ThreadSpec, error) {
	model := s.Holder.Model()
	if model == nil {
		return nil, fmt.Errorf("no model loaded")
	}
	return model.Threads()
}

// Checker runs thread-set and event-set checks against a model source.
type Checker struct {
	source ModelSource
}

// New creates a checker over source.
func New(source ModelSource) *Checker {
	return &Checker{source: source}
}

// CheckThreadSet compares the runtime's registered thread names with the
// model. Missing threads come first in name order, then unexpected threads
// in runtime order.
func (c *Checker) CheckThreadSet(names []string) (Report, error) {
	model, err := c.source.ThreadSpecs()
	if err != nil {
		return nil, fmt.Errorf("failed to load model threads: %w", err)
	}

	present := make(map[string]bool, len(names))
	var unexpected []string
	for _, name := range names {
		present[name] = true
		if _, ok := model[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}

	var missing []string
	for name := range model {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	var report Report
	for _, name := range missing {
		report = append(report, Finding{Kind: MissingThread, Thread: name})
	}
	for _, name := range unexpected {
		report = append(report, Finding{Kind: UnexpectedThread, Thread: name})
	}
	return report, nil
}

// CheckEventSet compares each runtime thread's bid with the model's
// declaration for that thread. A runtime thread unknown to the model is an
// *UnknownThreadError rather than a finding.
func (c *Checker) CheckEventSet(threads []fm.ThreadSpec) (Report, error) {
	model, err := c.source.ThreadSpecs()
	if err != nil {
		return nil, fmt.Errorf("failed to load model threads: %w", err)
	}

	var report Report
	for _, runtime := range threads {
		declared, ok := model[runtime.Name]
		if !ok {
			return nil, &UnknownThreadError{Thread: runtime.Name}
		}

		for _, want := range declared.Events {
			got, found := runtime.Event(want.Name)
			switch {
			case !found:
				report = append(report, Finding{Kind: MissingEvent, Thread: declared.Name, Model: want})
			case got != want:
				report = append(report, Finding{Kind: IncorrectEvent, Thread: declared.Name, Model: want, Runtime: got})
			}
		}
		for _, got := range runtime.Events {
			if _, found := declared.Event(got.Name); !found {
				report = append(report, Finding{Kind: UnexpectedEvent, Thread: runtime.Name, Runtime: got})
			}
		}
	}
	return report, nil
}

// AssertThreadSet returns a *ThreadInconsistencyError if the thread sets differ.
func (c *Checker) AssertThreadSet(names []string) error {
	report, err := c.CheckThreadSet(names)
	if err != nil {
		return err
	}
	if !report.Empty() {
		return &ThreadInconsistencyError{Report: report}
	}
	return nil
}

// AssertEventSet returns an *EventInconsistencyError if any bid differs.
func (c *Checker) AssertEventSet(threads []fm.ThreadSpec) error {
	report, err := c.CheckEventSet(threads)
	if err != nil {
		return err
	}
	if !report.Empty() {
		return &EventInconsistencyError{Report: report}
	}
	return nil
}
