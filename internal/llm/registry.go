package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aienhance/aienhance/internal/logging"
	"github.com/aienhance/aienhance/internal/routing"
)

// ErrUnknownBackend indicates a model config names a backend with no
// registered provider.
var ErrUnknownBackend = fmt.Errorf("llm: unknown backend")

// Registry maps backend names to providers and is the single generation
// surface the pipeline talks to. Processing units never see providers
// directly; they hand the registry a resolved model config and a prompt.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]StreamingProvider
	log       *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]StreamingProvider),
		log:       logging.Global().WithComponent("llm"),
	}
}

// Register adds a provider under its Name(). Last registration wins.
func (r *Registry) Register(p StreamingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for a backend name.
func (r *Registry) Get(backend string) (StreamingProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	return p, nil
}

// Backends lists registered backend names.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Generate runs one generation attempt against the backend and model named by
// the config. format, if non-nil, constrains the output to a JSON schema.
// onChunk, if non-nil, receives text fragments as they stream in. The full
// accumulated text is returned either way; callers that only need the final
// text pass a nil onChunk.
func (r *Registry) Generate(ctx context.Context, model routing.ModelConfig, prompt string, format json.RawMessage, onChunk func(chunk string)) (string, error) {
	p, err := r.Get(model.Backend)
	if err != nil {
		return "", err
	}

	req := &ChatRequest{
		Model:       model.Model,
		Prompt:      prompt,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
		Format:      format,
	}

	resp, err := p.ChatStream(ctx, req, onChunk)
	if err != nil {
		return "", fmt.Errorf("generate via %s/%s: %w", model.Backend, model.Model, err)
	}

	r.log.Debug("generated %d chars via %s/%s in %v",
		len(resp.Content), model.Backend, resp.Model, resp.Duration)
	return resp.Content, nil
}

// HealthCheck reports availability per registered backend.
func (r *Registry) HealthCheck() map[string]bool {
	r.mu.RLock()
	providers := make(map[string]StreamingProvider, len(r.providers))
	for name, p := range r.providers {
		providers[name] = p
	}
	r.mu.RUnlock()

	out := make(map[string]bool, len(providers))
	for name, p := range providers {
		out[name] = p.Available()
	}
	return out
}
