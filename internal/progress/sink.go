package progress

import "context"

// Sink consumes batches of events. Consume may be called many times and must
// honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. Hub implements it; the pipeline only sees this.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(Event) {}
