package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aienhance/aienhance/internal/logging"
)

// State is the lifecycle state of a run. States advance strictly forward;
// Completed and Aborted are terminal.
type State string

const (
	StatePerceiving    State = "perceiving"
	StateCognizing     State = "cognizing"
	StateBehaving      State = "behaving"
	StateCollaborating State = "collaborating"
	StateCompleted     State = "completed"
	StateAborted       State = "aborted"
)

// Layer groups the units that run in one pipeline stage. Units within a
// layer have no ordering dependencies and may fan out concurrently; their
// outputs are merged serially at the layer join point in declaration order.
type Layer struct {
	// Name namespaces the layer's merge keys and flow records.
	Name string

	// State the run reports while this layer executes.
	State State

	// Units executed in this layer.
	Units []Unit

	// Optional layers never abort the run: zero usable results just means
	// nothing is merged.
	Optional bool

	// Streaming layers run serially and forward text chunks to the run's
	// event stream as they are generated.
	Streaming bool
}

// Recaller is the optional memory backend consulted at run start.
// Implemented by the SQLite memory store; absence or failure degrades to an
// empty recall set, never to an aborted run.
type Recaller interface {
	Recall(ctx context.Context, query, userID string, limit int) ([]MemoryItem, error)
}

// DefaultRecallLimit is how many memories are attached to a run's context.
const DefaultRecallLimit = 5

// RunResult is the complete outcome of one pipeline run.
type RunResult struct {
	RunID     string             `json:"run_id"`
	Query     string             `json:"query"`
	State     State              `json:"state"`
	Results   map[string]*Result `json:"results"`
	Flow      []FlowRecord       `json:"flow"`
	Output    string             `json:"output"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

// Orchestrator sequences layers over a shared context, records the
// information-flow trace, and exposes both a buffered and a streaming run
// surface.
type Orchestrator struct {
	runner      *Runner
	layers      []Layer
	recaller    Recaller
	recallLimit int
	log         *logging.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithRecaller attaches a memory backend consulted at run start.
func WithRecaller(rc Recaller) Option {
	return func(o *Orchestrator) {
		o.recaller = rc
	}
}

// WithRecallLimit sets how many memories are recalled per run.
func WithRecallLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.recallLimit = n
		}
	}
}

// NewOrchestrator creates an orchestrator over the given layers. Layer order
// is execution order.
func NewOrchestrator(runner *Runner, layers []Layer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:      runner,
		layers:      layers,
		recallLimit: DefaultRecallLimit,
		log:         logging.Global().WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline to completion and returns the full result.
// Streamed chunks are accumulated into the result rather than surfaced; use
// RunStream when the caller wants to render text as it is generated.
func (o *Orchestrator) Run(ctx context.Context, pc *Context) (*RunResult, error) {
	return o.run(ctx, pc, nil)
}

// run is the shared core. emit, if non-nil, receives events as they occur
// and reports false when the consumer is gone.
func (o *Orchestrator) run(ctx context.Context, pc *Context, emit func(Event) bool) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		RunID:     uuid.NewString(),
		Query:     pc.Query,
		Results:   make(map[string]*Result),
		Flow:      []FlowRecord{},
		StartedAt: start,
	}

	o.recallMemories(ctx, pc)

	for _, layer := range o.layers {
		result.State = layer.State
		o.log.Debug("run %s: entering layer %s (%d units)", result.RunID, layer.Name, len(layer.Units))

		if emit != nil && !emit(Event{Kind: EventLayerStarted, Layer: layer.Name}) {
			result.State = StateAborted
			result.Duration = time.Since(start)
			return result, ctx.Err()
		}

		results, err := o.runLayer(ctx, layer, pc, emit)
		if err != nil {
			result.State = StateAborted
			result.Duration = time.Since(start)
			return result, err
		}

		// Join point: merge outputs and append flow records serially, in
		// unit declaration order.
		usable := 0
		snapshot := pc.Snapshot()
		snapshot["query"] = pc.Query
		for i, res := range results {
			unit := layer.Units[i]
			key := layer.Name + "." + unit.Name()
			result.Results[key] = res

			var output map[string]interface{}
			if res.Success {
				usable++
				output = res.Output
				pc.Merge(layer.Name, unit.Name(), res.Output)
			}
			result.Flow = append(result.Flow, FlowRecord{
				Seq:       len(result.Flow) + 1,
				Layer:     layer.Name,
				Unit:      unit.Name(),
				Input:     snapshot,
				Output:    output,
				Success:   res.Success,
				Degraded:  res.Degraded,
				Timestamp: time.Now(),
				Duration:  res.Meta.Duration,
			})

			if layer.Streaming && res.Success && result.Output == "" {
				if text, ok := res.Output["text"].(string); ok {
					result.Output = text
				}
			}
		}

		if usable == 0 && !layer.Optional {
			o.log.Error("run %s: layer %s produced no usable results, aborting", result.RunID, layer.Name)
			result.State = StateAborted
			result.Duration = time.Since(start)
			return result, &LayerAbortError{Layer: layer.Name, Flow: result.Flow}
		}

		if emit != nil && !emit(Event{Kind: EventLayerCompleted, Layer: layer.Name}) {
			result.State = StateAborted
			result.Duration = time.Since(start)
			return result, ctx.Err()
		}
	}

	result.State = StateCompleted
	result.Duration = time.Since(start)
	o.log.Info("run %s completed in %v (%d flow records)", result.RunID, result.Duration, len(result.Flow))
	return result, nil
}

// runLayer executes a layer's units and returns their results indexed by
// declaration order. Non-streaming layers with multiple units fan out
// concurrently; streaming layers run serially so chunk order stays coherent.
func (o *Orchestrator) runLayer(ctx context.Context, layer Layer, pc *Context, emit func(Event) bool) ([]*Result, error) {
	results := make([]*Result, len(layer.Units))

	if layer.Streaming || len(layer.Units) == 1 {
		for i, unit := range layer.Units {
			var onChunk func(string)
			if layer.Streaming && emit != nil {
				name := unit.Name()
				onChunk = func(chunk string) {
					emit(Event{Kind: EventChunk, Layer: layer.Name, Unit: name, Text: chunk})
				}
			}
			res, err := o.runner.Run(ctx, unit, pc, onChunk)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
		return results, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(layer.Units))
	for i, unit := range layer.Units {
		wg.Add(1)
		go func(i int, u Unit) {
			defer wg.Done()
			res, err := o.runner.Run(ctx, u, pc, nil)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res
		}(i, unit)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// recallMemories attaches relevant memories to the run context. Backend
// failures degrade to an empty recall set.
func (o *Orchestrator) recallMemories(ctx context.Context, pc *Context) {
	if o.recaller == nil {
		pc.SetMemories([]MemoryItem{})
		return
	}

	items, err := o.recaller.Recall(ctx, pc.Query, pc.UserID, o.recallLimit)
	if err != nil {
		o.log.Warn("memory recall failed, continuing with empty set: %v", err)
		pc.SetMemories([]MemoryItem{})
		return
	}
	pc.SetMemories(items)
}
