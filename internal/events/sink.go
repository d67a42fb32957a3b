package events

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives events in emission order. Publish must not block the caller
// for long; it runs on a market sequencer.
type Sink interface {
	Publish(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Event) {})

// Bus fans every event out to its sinks in registration order.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Add(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Publish(ev)
	}
}

// Recorder keeps every event it sees. Useful in tests and the simulator.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds lists the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	evs := r.Events()
	kinds := make([]Kind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind()
	}
	return kinds
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogSink writes each event to the global logger.
type LogSink struct {
	Level zerolog.Level
}

func (s LogSink) Publish(ev Event) {
	e := log.WithLevel(s.Level)
	if e == nil {
		return
	}
	e.Str("kind", ev.Kind().String()).
		Str("resource", ev.Market().String()).
		Interface("event", ev).
		Msg("event")
}
