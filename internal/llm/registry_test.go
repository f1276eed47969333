package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aienhance/aienhance/internal/routing"
)

type stubProvider struct {
	name      string
	available bool
	lastReq   *ChatRequest
	response  string
}

func (p *stubProvider) Name() string    { return p.name }
func (p *stubProvider) Available() bool { return p.available }

func (p *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

func (p *stubProvider) ChatStream(ctx context.Context, req *ChatRequest, onChunk func(string)) (*ChatResponse, error) {
	p.lastReq = req
	if onChunk != nil {
		for _, c := range []string{p.response[:len(p.response)/2], p.response[len(p.response)/2:]} {
			onChunk(c)
		}
	}
	return &ChatResponse{Content: p.response, Model: req.Model}, nil
}

func TestRegistry_GenerateRoutesToBackend(t *testing.T) {
	reg := NewRegistry()
	ollama := &stubProvider{name: "ollama", response: "local answer"}
	openai := &stubProvider{name: "openai", response: "cloud answer"}
	reg.Register(ollama)
	reg.Register(openai)

	var chunks []string
	format := json.RawMessage(`{"type":"object"}`)
	text, err := reg.Generate(context.Background(),
		routing.ModelConfig{Backend: "openai", Model: "gpt-4o-mini", Temperature: 0.3},
		"prompt", format,
		func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "cloud answer", text)
	assert.Nil(t, ollama.lastReq, "wrong backend was invoked")
	require.NotNil(t, openai.lastReq)
	assert.Equal(t, "gpt-4o-mini", openai.lastReq.Model)
	assert.Equal(t, format, openai.lastReq.Format)
	assert.Equal(t, "cloud answer", chunks[0]+chunks[1])
}

func TestRegistry_UnknownBackend(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Generate(context.Background(),
		routing.ModelConfig{Backend: "anthropic", Model: "claude"}, "prompt", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = reg.Get("anthropic")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegistry_HealthCheck(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{name: "ollama", available: true})
	reg.Register(&stubProvider{name: "openai", available: false})

	health := reg.HealthCheck()
	assert.True(t, health["ollama"])
	assert.False(t, health["openai"])
}
