package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoUsableResults indicates a required layer produced no usable unit
// results, which aborts the run.
var ErrNoUsableResults = errors.New("pipeline: no usable unit results")

// TransportError wraps a failure to reach or stream from a backend. It is
// retryable in the sense that the runner advances to the next model in the
// fallback chain; it never triggers a retry against the same model.
type TransportError struct {
	Backend string
	Model   string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("pipeline: transport failure on %s/%s: %v", e.Backend, e.Model, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SchemaParseError wraps a model response that could not be parsed or did not
// validate against the unit's output schema. The runner degrades to the
// unit's default output instead of retrying.
type SchemaParseError struct {
	Unit string
	Raw  string
	Err  error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("pipeline: unit %s produced unparseable output: %v", e.Unit, e.Err)
}

func (e *SchemaParseError) Unwrap() error { return e.Err }

// LayerAbortError is returned when a required layer ends with zero usable
// unit results. It carries the partial information-flow trace accumulated up
// to the abort so callers can inspect what happened.
type LayerAbortError struct {
	Layer string
	Flow  []FlowRecord
}

func (e *LayerAbortError) Error() string {
	return fmt.Sprintf("pipeline: layer %s aborted: %v", e.Layer, ErrNoUsableResults)
}

func (e *LayerAbortError) Unwrap() error { return ErrNoUsableResults }
