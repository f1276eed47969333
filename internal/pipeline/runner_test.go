package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aienhance/aienhance/internal/prompts"
	"github.com/aienhance/aienhance/internal/routing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TEST FAKES
// ═══════════════════════════════════════════════════════════════════════════════

// fakeGateway scripts per-model responses and records every call.
type fakeGateway struct {
	mu        sync.Mutex
	responses map[string]string // "backend/model" -> response text
	failures  map[string]error  // "backend/model" -> error
	partials  map[string]string // text streamed before a failure
	calls     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: make(map[string]string),
		failures:  make(map[string]error),
		partials:  make(map[string]string),
	}
}

func (g *fakeGateway) Generate(ctx context.Context, model routing.ModelConfig, prompt string, format json.RawMessage, onChunk func(string)) (string, error) {
	key := model.Backend + "/" + model.Model

	g.mu.Lock()
	g.calls = append(g.calls, key)
	g.mu.Unlock()

	if err, ok := g.failures[key]; ok {
		if partial := g.partials[key]; partial != "" && onChunk != nil {
			onChunk(partial)
		}
		return "", err
	}
	text := g.responses[key]
	if onChunk != nil {
		onChunk(text)
	}
	return text, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeUnit is a fully scriptable unit.
type fakeUnit struct {
	name       string
	function   string
	template   string
	schema     *Schema
	defaultOut map[string]interface{}
	promptErr  error
}

func (u *fakeUnit) Name() string     { return u.name }
func (u *fakeUnit) Function() string { return u.function }

func (u *fakeUnit) BuildPrompt(pc *Context) (PromptSpec, error) {
	if u.promptErr != nil {
		return PromptSpec{}, u.promptErr
	}
	tmpl := u.template
	if tmpl == "" {
		tmpl = "echo"
	}
	return PromptSpec{
		Template:  tmpl,
		Variables: map[string]interface{}{"query": pc.Query},
	}, nil
}

func (u *fakeUnit) OutputSchema() *Schema { return u.schema }

func (u *fakeUnit) BuildResult(pc *Context, output map[string]interface{}) map[string]interface{} {
	return output
}

func (u *fakeUnit) DefaultOutput(pc *Context, raw string) map[string]interface{} {
	if u.defaultOut == nil {
		return nil
	}
	out := make(map[string]interface{}, len(u.defaultOut))
	for k, v := range u.defaultOut {
		out[k] = v
	}
	return out
}

func scoredSchema() *Schema {
	return &Schema{Fields: []Field{
		{Name: "label", Type: FieldString, Required: true},
		{Name: "score", Type: FieldNumber, Required: true},
	}}
}

func testPrompts(t *testing.T) *prompts.Registry {
	t.Helper()
	r := prompts.NewRegistry()
	err := r.Register(prompts.Template{
		Name: "echo", Version: "1.0", Variables: []string{"query"}, Body: "Q: {{.query}}",
	})
	if err != nil {
		t.Fatalf("register template: %v", err)
	}
	err = r.Register(prompts.Template{
		Name: "needs_more", Version: "1.0", Variables: []string{"query", "audience"}, Body: "{{.query}} {{.audience}}",
	})
	if err != nil {
		t.Fatalf("register template: %v", err)
	}
	return r
}

func testTable(fallbacks ...routing.ModelConfig) *routing.Table {
	table := routing.NewTable(routing.ModelConfig{Backend: "fake", Model: "primary"})
	table.Register("classify", routing.FunctionConfig{
		Primary:   routing.ModelConfig{Backend: "fake", Model: "primary"},
		Fallbacks: fallbacks,
	})
	return table
}

// ═══════════════════════════════════════════════════════════════════════════════
// RUNNER TESTS
// ═══════════════════════════════════════════════════════════════════════════════

func TestRunner_SuccessfulParse(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = `{"label": "technology", "score": 0.9}`

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{name: "u1", function: "classify", schema: scoredSchema()}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success || res.Degraded {
		t.Errorf("Success=%v Degraded=%v, want success, not degraded", res.Success, res.Degraded)
	}
	if res.Output["label"] != "technology" {
		t.Errorf("Output = %v", res.Output)
	}
	if res.Meta.Attempts != 1 || res.Meta.FallbackUsed {
		t.Errorf("Meta = %+v, want one attempt on primary", res.Meta)
	}
}

func TestRunner_TransportFailureAdvancesChain(t *testing.T) {
	gw := newFakeGateway()
	gw.failures["fake/primary"] = errors.New("connection refused")
	gw.responses["fake/backup"] = `{"label": "x", "score": 1}`

	table := testTable(routing.ModelConfig{Backend: "fake", Model: "backup"})
	runner := NewRunner(testPrompts(t), table, gw)
	u := &fakeUnit{name: "u1", function: "classify", schema: scoredSchema()}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success || res.Degraded {
		t.Errorf("fallback success should not be degraded: %+v", res)
	}
	if !res.Meta.FallbackUsed || res.Meta.Attempts != 2 || res.Meta.Model != "backup" {
		t.Errorf("Meta = %+v, want second attempt on backup", res.Meta)
	}
}

func TestRunner_AllTransportFailuresDegrade(t *testing.T) {
	gw := newFakeGateway()
	gw.failures["fake/primary"] = errors.New("down")
	gw.failures["fake/backup"] = errors.New("also down")

	table := testTable(routing.ModelConfig{Backend: "fake", Model: "backup"})
	runner := NewRunner(testPrompts(t), table, gw)
	u := &fakeUnit{
		name: "u1", function: "classify", schema: scoredSchema(),
		defaultOut: map[string]interface{}{"label": "general", "score": 0.0},
	}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success || !res.Degraded {
		t.Errorf("Success=%v Degraded=%v, want degraded success", res.Success, res.Degraded)
	}
	if res.Output["label"] != "general" {
		t.Errorf("Output = %v, want default output", res.Output)
	}
	if res.Meta.Provenance != "default_output" {
		t.Errorf("Provenance = %q", res.Meta.Provenance)
	}
	if gw.callCount() != 2 {
		t.Errorf("gateway calls = %d, want one per chain entry", gw.callCount())
	}
}

func TestRunner_NoDefaultNoPartialFails(t *testing.T) {
	gw := newFakeGateway()
	gw.failures["fake/primary"] = errors.New("down")

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{name: "u1", function: "classify", schema: scoredSchema()}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run returned config error: %v", err)
	}
	if res.Success {
		t.Error("invocation with no text and no default must fail")
	}
	var terr *TransportError
	if !errors.As(res.Err, &terr) {
		t.Errorf("Err = %v, want TransportError", res.Err)
	}
}

func TestRunner_UnparseableOutputDegradesWithoutRetry(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = "I cannot answer in JSON, sorry."

	table := testTable(routing.ModelConfig{Backend: "fake", Model: "backup"})
	runner := NewRunner(testPrompts(t), table, gw)
	u := &fakeUnit{
		name: "u1", function: "classify", schema: scoredSchema(),
		defaultOut: map[string]interface{}{"label": "general", "score": 0.0},
	}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded || res.Output["label"] != "general" {
		t.Errorf("want degraded default output, got %+v", res)
	}
	// Malformed output never re-queries: not the same model, not the fallback.
	if gw.callCount() != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.callCount())
	}
}

func TestRunner_SchemaViolationDegrades(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = `{"label": 42, "score": "high"}`

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{
		name: "u1", function: "classify", schema: scoredSchema(),
		defaultOut: map[string]interface{}{"label": "general", "score": 0.0},
	}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Degraded {
		t.Error("type-violating output must degrade")
	}
}

func TestRunner_MissingVariableFailsFast(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = "never reached"

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{name: "u1", function: "classify", template: "needs_more"}

	_, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	var mv *prompts.MissingVariableError
	if !errors.As(err, &mv) {
		t.Fatalf("expected MissingVariableError, got %v", err)
	}
	if gw.callCount() != 0 {
		t.Errorf("gateway calls = %d, render failures must precede generation", gw.callCount())
	}
}

func TestRunner_SchemalessWrapsText(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = "a plain markdown answer"

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{name: "u1", function: "classify"}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output["text"] != "a plain markdown answer" {
		t.Errorf("Output = %v", res.Output)
	}
}

func TestRunner_FencedJSONIsExtracted(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = "Here you go:\n```json\n{\"label\": \"x\", \"score\": 1}\n```\n"

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{name: "u1", function: "classify", schema: scoredSchema()}

	res, err := runner.Run(context.Background(), u, NewContext("hello", ""), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Degraded || res.Output["label"] != "x" {
		t.Errorf("fenced JSON should parse cleanly, got %+v", res)
	}
}

func TestRunner_StreamsChunksToCaller(t *testing.T) {
	gw := newFakeGateway()
	gw.responses["fake/primary"] = "streamed text"

	runner := NewRunner(testPrompts(t), testTable(), gw)
	u := &fakeUnit{name: "u1", function: "classify"}

	var got string
	_, err := runner.Run(context.Background(), u, NewContext("hello", ""), func(chunk string) {
		got += chunk
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "streamed text" {
		t.Errorf("streamed %q", got)
	}
}

// Guard against a unit mutating a shared default map across invocations.
func TestFakeUnit_DefaultOutputCopies(t *testing.T) {
	u := &fakeUnit{defaultOut: map[string]interface{}{"k": "v"}}
	a := u.DefaultOutput(nil, "")
	a["k"] = "changed"
	b := u.DefaultOutput(nil, "")
	if b["k"] != "v" {
		t.Error("DefaultOutput must return a fresh map")
	}
}
