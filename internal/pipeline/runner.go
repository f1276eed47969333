package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/aienhance/aienhance/internal/logging"
	"github.com/aienhance/aienhance/internal/prompts"
	"github.com/aienhance/aienhance/internal/routing"
)

// DefaultAttemptTimeout bounds one generation attempt when the resolved model
// config carries no explicit timeout.
const DefaultAttemptTimeout = 2 * time.Minute

// Runner executes units with the fixed invocation algorithm:
//
//  1. resolve the unit's model chain from the routing table
//  2. render the unit's prompt (fail fast on missing variables)
//  3. walk [primary, fallbacks...], one bounded attempt per model; transport
//     and timeout errors advance the chain, they never retry the same model
//  4. parse and validate the response against the unit's schema
//  5. on unparseable output or an exhausted chain, degrade to the unit's
//     default output rather than failing the invocation
//
// An invocation only fails outright when the chain is exhausted with no
// partial text and the unit has no default output.
type Runner struct {
	prompts *prompts.Registry
	routes  *routing.Table
	gateway Gateway
	log     *logging.Logger
}

// NewRunner wires a runner from its three collaborators.
func NewRunner(reg *prompts.Registry, routes *routing.Table, gw Gateway) *Runner {
	return &Runner{
		prompts: reg,
		routes:  routes,
		gateway: gw,
		log:     logging.Global().WithComponent("runner"),
	}
}

// Run invokes one unit against the shared context. onChunk, if non-nil,
// receives streamed text fragments from whichever model attempt succeeds.
//
// The returned error is non-nil only for configuration problems (unknown
// template, missing prompt variables); those fail fast instead of degrading
// because they indicate broken wiring, not a flaky backend.
func (r *Runner) Run(ctx context.Context, u Unit, pc *Context, onChunk func(chunk string)) (*Result, error) {
	start := time.Now()

	res := &Result{
		Unit:     u.Name(),
		Function: u.Function(),
	}

	spec, err := u.BuildPrompt(pc)
	if err != nil {
		return nil, err
	}
	prompt, err := r.prompts.Render(spec.Template, spec.Variables, spec.Version)
	if err != nil {
		return nil, err
	}

	cfg := r.routes.Resolve(u.Function())
	chain := cfg.Chain()

	schema := u.OutputSchema()
	var format []byte
	if schema != nil {
		format = schema.JSON()
	}

	// partial accumulates streamed text across attempts so a degraded
	// default output can still see what the models produced.
	var partial strings.Builder
	accumulate := func(chunk string) {
		partial.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	var content string
	generated := false

	for i, model := range chain {
		timeout := model.Timeout
		if timeout <= 0 {
			timeout = DefaultAttemptTimeout
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		text, err := r.gateway.Generate(attemptCtx, model, prompt, format, accumulate)
		cancel()

		res.Meta.Attempts = i + 1
		if err != nil {
			terr := &TransportError{Backend: model.Backend, Model: model.Model, Err: err}
			r.log.Warn("unit %s attempt %d/%d failed: %v", u.Name(), i+1, len(chain), terr)
			if ctx.Err() != nil {
				// Run-level cancellation: no point walking the rest of the chain.
				break
			}
			continue
		}

		content = text
		generated = true
		res.Meta.Backend = model.Backend
		res.Meta.Model = model.Model
		res.Meta.FallbackUsed = i > 0
		break
	}

	if !generated {
		raw := partial.String()
		fallback := u.DefaultOutput(pc, raw)
		if fallback == nil && raw == "" {
			res.Success = false
			res.Err = &TransportError{Backend: cfg.Primary.Backend, Model: cfg.Primary.Model, Err: ErrNoUsableResults}
			res.Meta.Duration = time.Since(start)
			return res, nil
		}
		if fallback == nil {
			fallback = map[string]interface{}{"text": raw}
		}
		res.Success = true
		res.Degraded = true
		res.Output = u.BuildResult(pc, fallback)
		res.Meta.Provenance = "default_output"
		res.Meta.Duration = time.Since(start)
		return res, nil
	}

	output, perr := r.parse(u, schema, content)
	if perr != nil {
		r.log.Warn("unit %s: %v, degrading to default output", u.Name(), perr)
		fallback := u.DefaultOutput(pc, content)
		if fallback == nil {
			res.Success = false
			res.Err = perr
			res.Meta.Duration = time.Since(start)
			return res, nil
		}
		res.Success = true
		res.Degraded = true
		res.Output = u.BuildResult(pc, fallback)
		res.Meta.Provenance = "default_output"
		res.Meta.Duration = time.Since(start)
		return res, nil
	}

	res.Success = true
	res.Output = u.BuildResult(pc, output)
	res.Meta.Duration = time.Since(start)
	return res, nil
}

// parse turns raw model text into the unit's output object. Schema-less
// units get the raw text wrapped under "text".
func (r *Runner) parse(u Unit, schema *Schema, content string) (map[string]interface{}, *SchemaParseError) {
	if schema == nil {
		return map[string]interface{}{"text": content}, nil
	}

	output, err := ExtractJSON(content)
	if err != nil {
		return nil, &SchemaParseError{Unit: u.Name(), Raw: content, Err: err}
	}
	if err := schema.Validate(output); err != nil {
		return nil, &SchemaParseError{Unit: u.Name(), Raw: content, Err: err}
	}
	return output, nil
}
