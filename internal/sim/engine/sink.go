package engine

import "liftsim/internal/protocol"

// EventSink receives car events in order. Emit is called on the engine's
// goroutine and must not block for long.
type EventSink interface {
	Emit(ev protocol.CarEvent)
}

// Sinks fans every event out to each non-nil sink.
type Sinks []EventSink

func (s Sinks) Emit(ev protocol.CarEvent) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ev)
		}
	}
}
