package watertank

import (
	"context"
	"log"

	"github.com/tfelbr/FMBP/internal/bprogram"
)

// Events selected by the tank threads.
const (
	EventHot      bprogram.Event = "HOT"
	EventCold     bprogram.Event = "COLD"
	EventDrain    bprogram.Event = "DRAIN"
	EventFinished bprogram.Event = "FINISHED"
)

// Temperatures of the two inlets in °C.
const (
	hotInlet  = 80
	coldInlet = 0
)

// Threads returns the tank's threads. Names match the model's thread features.
func Threads() []bprogram.Thread {
	return []bprogram.Thread{
		{Name: "AddHot", Step: request(EventHot, 1)},
		{Name: "AddCold", Step: request(EventCold, 1)},
		{Name: "RemoveWater", Step: request(EventDrain, 2)},
		{Name: "Finished", Step: request(EventFinished, 1)},
	}
}

func request(ev bprogram.Event, priority int) bprogram.StepFunc {
	return bprogram.Loop(bprogram.Bid{Request: []bprogram.Event{ev}, Priority: priority})
}

// Listener gives the tank events their physical effect. Selecting FINISHED
// ends the run.
type Listener struct {
	tank *Tank
}

// NewListener creates a listener acting on tank.
func NewListener(tank *Tank) *Listener {
	return &Listener{tank: tank}
}

func (l *Listener) Starting(ctx context.Context, rt bprogram.Runtime) error {
	log.Printf("[INFO] [Tank] Starting at %s", l.tank)
	return nil
}

func (l *Listener) EventSelected(ctx context.Context, rt bprogram.Runtime, ev bprogram.Event) (bool, error) {
	switch ev {
	case EventFinished:
		log.Printf("[INFO] [Tank] Finished at %s", l.tank)
		return true, nil
	case EventHot:
		l.tank.AddWater(1, hotInlet)
	case EventCold:
		l.tank.AddWater(1, coldInlet)
	case EventDrain:
		l.tank.RemoveWater(1)
	default:
		log.Printf("[WARN] [Tank] Ignoring unknown event %s", ev)
		return false, nil
	}

	log.Printf("[INFO] [Tank] %s %s", ev, l.tank)
	return false, nil
}
