package pipeline

import "context"

// EventKind discriminates stream events.
type EventKind string

const (
	// EventLayerStarted marks entry into a layer.
	EventLayerStarted EventKind = "layer_started"
	// EventLayerCompleted marks a layer's join point passing.
	EventLayerCompleted EventKind = "layer_completed"
	// EventChunk carries a text fragment from a unit in a streaming layer.
	EventChunk EventKind = "chunk"
	// EventRunCompleted is the final event; it carries the full run result
	// and, for aborted runs, the terminating error.
	EventRunCompleted EventKind = "run_completed"
)

// Event is one element of a run's event stream.
type Event struct {
	Kind  EventKind
	Layer string
	Unit  string
	Text  string

	// Result and Err are set only on EventRunCompleted.
	Result *RunResult
	Err    error
}

// RunStream executes the pipeline lazily, driven by the consumer: the
// returned channel is unbuffered, so no work races ahead of iteration. The
// stream is finite (it ends with EventRunCompleted and a close) and
// non-restartable; call RunStream again with a fresh context for a new run.
//
// Cancelling ctx stops the run; the stream still terminates with a final
// EventRunCompleted carrying the partial result.
func (o *Orchestrator) RunStream(ctx context.Context, pc *Context) <-chan Event {
	ch := make(chan Event)

	send := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		result, err := o.run(ctx, pc, send)
		send(Event{Kind: EventRunCompleted, Result: result, Err: err})
	}()

	return ch
}
