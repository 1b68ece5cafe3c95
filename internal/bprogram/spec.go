package bprogram

import "github.com/tfelbr/FMBP/pkg/fm"

// Spec describes the ticket's bid in model terms. An event that appears in
// several roles of the bid yields a single EventSpec with all of those flags
// set; every event carries the bid's priority.
func (t Ticket) Spec() fm.ThreadSpec {
	spec := fm.ThreadSpec{Name: t.Thread}
	index := make(map[Event]int)

	mark := func(events []Event, set func(*fm.EventSpec)) {
		for _, ev := range events {
			i, ok := index[ev]
			if !ok {
				i = len(spec.Events)
				index[ev] = i
				spec.Events = append(spec.Events, fm.EventSpec{Name: string(ev), Priority: t.Bid.Priority})
			}
			set(&spec.Events[i])
		}
	}
	mark(t.Bid.Request, func(e *fm.EventSpec) { e.Requested = true })
	mark(t.Bid.Block, func(e *fm.EventSpec) { e.Blocked = true })
	mark(t.Bid.WaitFor, func(e *fm.EventSpec) { e.WaitedFor = true })

	return spec
}

// ThreadSpecs describes every active thread's current bid.
func ThreadSpecs(rt Runtime) []fm.ThreadSpec {
	tickets := rt.Tickets()
	specs := make([]fm.ThreadSpec, 0, len(tickets))
	for _, t := range tickets {
		specs = append(specs, t.Spec())
	}
	return specs
}
