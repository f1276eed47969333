package pipeline

import (
	"context"
	"encoding/json"

	"github.com/aienhance/aienhance/internal/routing"
)

// PromptSpec names the template a unit wants rendered for the current
// context. An empty Version resolves to the highest registered version.
type PromptSpec struct {
	Template  string
	Version   string
	Variables map[string]interface{}
}

// Unit is the contract every processing unit implements. A unit contributes
// only the four domain-specific hooks; the runner owns the invocation
// algorithm (resolve chain, render, generate with fallback, parse, degrade)
// so that no unit can diverge from it.
type Unit interface {
	// Name identifies the unit inside its layer (e.g. "domain_inference").
	Name() string

	// Function is the business function used to resolve the model chain.
	Function() string

	// BuildPrompt produces the template reference and variables for this
	// invocation. Errors here are configuration problems and fail the run.
	BuildPrompt(pc *Context) (PromptSpec, error)

	// OutputSchema declares the expected output shape. Nil means free-form
	// text, which the runner wraps as {"text": <content>}.
	OutputSchema() *Schema

	// BuildResult post-processes a parsed, schema-valid output before it is
	// merged into the context. Implementations that need no post-processing
	// return the output unchanged.
	BuildResult(pc *Context, output map[string]interface{}) map[string]interface{}

	// DefaultOutput produces a schema-shaped fallback when every model
	// attempt failed or the response could not be parsed. raw carries
	// whatever partial text was accumulated, possibly empty. Returning nil
	// means the unit has no meaningful fallback and the invocation fails.
	DefaultOutput(pc *Context, raw string) map[string]interface{}
}

// Gateway is the generation surface the runner calls. Implemented by
// llm.Registry; tests substitute fakes.
type Gateway interface {
	Generate(ctx context.Context, model routing.ModelConfig, prompt string, format json.RawMessage, onChunk func(chunk string)) (string, error)
}
