package fm

import (
	"fmt"
	"sort"
	"strings"
)

const (
	threadType = "BThread"
	eventType  = "BEvent"
)

// EventSpec is one event's role within a thread's bid. Equality is
// structural over all fields.
type EventSpec struct {
	Name      string `json:"name"`
	Requested bool   `json:"requested"`
	Blocked   bool   `json:"blocked"`
	WaitedFor bool   `json:"waited_for"`
	Priority  int    `json:"priority"`
}

func (e EventSpec) String() string {
	var roles []string
	if e.Requested {
		roles = append(roles, "requested")
	}
	if e.Blocked {
		roles = append(roles, "blocked")
	}
	if e.WaitedFor {
		roles = append(roles, "waited_for")
	}
	if len(roles) == 0 {
		roles = append(roles, "idle")
	}
	return fmt.Sprintf("%s{%s priority=%d}", e.Name, strings.Join(roles, ","), e.Priority)
}

// ThreadSpec is what a thread is declared (or observed) to bid.
// Event names are unique within one ThreadSpec.
type ThreadSpec struct {
	Name   string      `json:"name"`
	Events []EventSpec `json:"events"`
}

// Event returns the event spec with the given name.
func (t ThreadSpec) Event(name string) (EventSpec, bool) {
	for _, e := range t.Events {
		if e.Name == name {
			return e, true
		}
	}
	return EventSpec{}, false
}

// EventNames returns the thread's event names in sorted order.
func (t ThreadSpec) EventNames() []string {
	names := make([]string, 0, len(t.Events))
	for _, e := range t.Events {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Threads extracts the declared thread specs from the model, keyed by thread
// name. Candidate thread features are collected first, then each candidate's
// event attributes are turned into EventSpecs.
func (m *Model) Threads() (map[string]ThreadSpec, error) {
	if m == nil {
		return map[string]ThreadSpec{}, nil
	}

	var candidates []Feature
	for _, f := range m.Features {
		if hasType(f.Attributes, threadType) {
			candidates = append(candidates, f)
		}
	}

	specs := make(map[string]ThreadSpec, len(candidates))
	for _, f := range candidates {
		spec, err := threadSpec(f)
		if err != nil {
			return nil, err
		}
		specs[spec.Name] = spec
	}
	return specs, nil
}

// ThreadNames returns the names of all thread features in sorted order.
func (m *Model) ThreadNames() []string {
	if m == nil {
		return nil
	}
	var names []string
	for _, f := range m.Features {
		if hasType(f.Attributes, threadType) {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names
}

func threadSpec(f Feature) (ThreadSpec, error) {
	spec := ThreadSpec{Name: f.Name}
	seen := make(map[string]bool)

	for _, attr := range f.Attributes {
		if attr.Value.Kind != KindList || !hasType(attr.Value.List, eventType) {
			continue
		}
		if seen[attr.Name] {
			return ThreadSpec{}, fmt.Errorf("thread %q declares event %q more than once", f.Name, attr.Name)
		}
		seen[attr.Name] = true

		event, err := eventSpec(attr)
		if err != nil {
			return ThreadSpec{}, fmt.Errorf("thread %q: %w", f.Name, err)
		}
		spec.Events = append(spec.Events, event)
	}
	return spec, nil
}

func eventSpec(attr Attribute) (EventSpec, error) {
	event := EventSpec{Name: attr.Name}
	for _, sub := range attr.Value.List {
		switch sub.Name {
		case "requested":
			event.Requested = sub.Value.IsSet()
		case "blocked":
			event.Blocked = sub.Value.IsSet()
		case "waited_for":
			event.WaitedFor = sub.Value.IsSet()
		case "priority":
			if sub.Value.Kind != KindNumber {
				return EventSpec{}, fmt.Errorf("event %q has non-numeric priority %s", attr.Name, sub.Value)
			}
			event.Priority = int(sub.Value.Num)
		}
	}
	return event, nil
}
