// Package bprogram is a small cooperative runtime for behavioral programs:
// named threads bid to request, block or wait for events, and at each step
// the runtime selects one requested event that no active thread blocks.
//
// Threads are registered when the program is built and start inactive.
// Activation is controlled from outside through EnableThread and
// DisableThread, which is how a Listener reconfigures a running program.
package bprogram

import (
	"context"
	"fmt"
	"log"
)

// Event is the name of a discrete event.
type Event string

// Bid is what a thread declares for one step.
type Bid struct {
	Request  []Event
	Block    []Event
	WaitFor  []Event
	Priority int
}

func (b Bid) requests(ev Event) bool { return contains(b.Request, ev) }

func (b Bid) blocks(ev Event) bool { return contains(b.Block, ev) }

func (b Bid) waitsFor(ev Event) bool { return contains(b.WaitFor, ev) }

// StepFunc returns a thread's next bid. It is called with the empty event
// when the thread is enabled and with the selected event after each step in
// which the thread requested or waited for it. Returning false ends the
// thread.
type StepFunc func(last Event) (Bid, bool)

// Thread is a named unit of control logic.
type Thread struct {
	Name string
	Step StepFunc
}

// Loop returns a step function that makes the same bid forever.
func Loop(bid Bid) StepFunc {
	return func(Event) (Bid, bool) { return bid, true }
}

// Ticket is the current bid of one active thread.
type Ticket struct {
	Thread string
	Bid    Bid
}

// Runtime is the view of a running program given to listeners.
type Runtime interface {
	// ThreadNames returns every registered thread, active or not.
	ThreadNames() []string
	// EnableThread activates a registered thread. It returns false if the
	// thread is unknown or already active.
	EnableThread(name string) bool
	// DisableThread deactivates a thread. It returns false if the thread is
	// unknown or not active.
	DisableThread(name string) bool
	// Tickets returns the bids of all active threads in registration order.
	Tickets() []Ticket
}

// Listener observes a program run.
type Listener interface {
	// Starting is called once before the first event is selected.
	Starting(ctx context.Context, rt Runtime) error
	// EventSelected is called after ev was selected and before threads are
	// advanced. Returning halt ends the run.
	EventSelected(ctx context.Context, rt Runtime, ev Event) (halt bool, err error)
}

// StopReason says why Run returned without error.
type StopReason int

const (
	StopNoEvent StopReason = iota
	StopHalted
	StopMaxSteps
)

func (r StopReason) String() string {
	switch r {
	case StopNoEvent:
		return "no selectable event"
	case StopHalted:
		return "halted by listener"
	case StopMaxSteps:
		return "step limit reached"
	default:
		return "unknown"
	}
}

// Result summarises a finished run.
type Result struct {
	Steps  int
	Reason StopReason
}

// Program holds the registered threads and their activation state.
// It is not safe for concurrent use.
type Program struct {
	threads  []Thread
	index    map[string]int
	tickets  map[string]*Ticket
	listener Listener

	// MaxSteps bounds the number of selected events; zero means unbounded.
	MaxSteps int
}

// New registers threads in order. Thread names must be unique.
func New(threads []Thread, listener Listener) (*Program, error) {
	p := &Program{
		index:    make(map[string]int, len(threads)),
		tickets:  make(map[string]*Ticket),
		listener: listener,
	}
	for _, th := range threads {
		if th.Name == "" {
			return nil, fmt.Errorf("thread name is required")
		}
		if th.Step == nil {
			return nil, fmt.Errorf("thread %q has no step function", th.Name)
		}
		if _, dup := p.index[th.Name]; dup {
			return nil, fmt.Errorf("thread %q registered twice", th.Name)
		}
		p.index[th.Name] = len(p.threads)
		p.threads = append(p.threads, th)
	}
	return p, nil
}

func (p *Program) ThreadNames() []string {
	names := make([]string, 0, len(p.threads))
	for _, th := range p.threads {
		names = append(names, th.Name)
	}
	return names
}

func (p *Program) EnableThread(name string) bool {
	i, ok := p.index[name]
	if !ok {
		return false
	}
	if _, active := p.tickets[name]; active {
		return false
	}

	bid, alive := p.threads[i].Step("")
	if !alive {
		return false
	}
	p.tickets[name] = &Ticket{Thread: name, Bid: bid}
	return true
}

func (p *Program) DisableThread(name string) bool {
	if _, active := p.tickets[name]; !active {
		return false
	}
	delete(p.tickets, name)
	return true
}

func (p *Program) Tickets() []Ticket {
	tickets := make([]Ticket, 0, len(p.tickets))
	for _, th := range p.threads {
		if t, ok := p.tickets[th.Name]; ok {
			tickets = append(tickets, *t)
		}
	}
	return tickets
}

// Run drives the program until no event is selectable, the listener halts,
// MaxSteps is reached or ctx is cancelled. Listener errors end the run.
func (p *Program) Run(ctx context.Context) (Result, error) {
	var res Result

	if p.listener != nil {
		if err := p.listener.Starting(ctx, p); err != nil {
			return res, fmt.Errorf("starting: %w", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.MaxSteps > 0 && res.Steps >= p.MaxSteps {
			res.Reason = StopMaxSteps
			return res, nil
		}

		ev, ok := p.selectEvent()
		if !ok {
			res.Reason = StopNoEvent
			return res, nil
		}
		res.Steps++
		log.Printf("[DEBUG] Selected event: step=%d event=%s", res.Steps, ev)

		participants := p.participants(ev)

		if p.listener != nil {
			halt, err := p.listener.EventSelected(ctx, p, ev)
			if err != nil {
				return res, fmt.Errorf("step %d (%s): %w", res.Steps, ev, err)
			}
			if halt {
				res.Reason = StopHalted
				return res, nil
			}
		}

		p.advance(participants, ev)
	}
}

// selectEvent picks the requested, unblocked event of highest priority.
// Ties go to the thread registered first.
func (p *Program) selectEvent() (Event, bool) {
	tickets := p.Tickets()

	var (
		best     Event
		bestPrio int
		found    bool
	)
	for _, t := range tickets {
		for _, ev := range t.Bid.Request {
			if blocked(tickets, ev) {
				continue
			}
			if !found || t.Bid.Priority > bestPrio {
				best, bestPrio, found = ev, t.Bid.Priority, true
			}
		}
	}
	return best, found
}

// participants returns the active threads whose bid requests or waits for ev.
func (p *Program) participants(ev Event) []string {
	var names []string
	for _, t := range p.Tickets() {
		if t.Bid.requests(ev) || t.Bid.waitsFor(ev) {
			names = append(names, t.Thread)
		}
	}
	return names
}

func (p *Program) advance(names []string, ev Event) {
	for _, name := range names {
		ticket, active := p.tickets[name]
		if !active {
			continue
		}
		bid, alive := p.threads[p.index[name]].Step(ev)
		if !alive {
			delete(p.tickets, name)
			log.Printf("[DEBUG] Thread finished: thread=%s", name)
			continue
		}
		ticket.Bid = bid
	}
}

func blocked(tickets []Ticket, ev Event) bool {
	for _, t := range tickets {
		if t.Bid.blocks(ev) {
			return true
		}
	}
	return false
}

func contains(events []Event, ev Event) bool {
	for _, e := range events {
		if e == ev {
			return true
		}
	}
	return false
}
