package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamingHandler(tokens []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		for i, token := range tokens {
			chunk := ollamaChatResponse{
				Model:   "test-model",
				Message: ollamaMessage{Role: "assistant", Content: token},
				Done:    i == len(tokens)-1,
			}
			if chunk.Done {
				chunk.PromptEvalCount = 10
				chunk.EvalCount = len(tokens)
			}
			json.NewEncoder(w).Encode(chunk)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func TestOllamaChatStream_NormalCompletion(t *testing.T) {
	server := httptest.NewServer(streamingHandler([]string{"Hello", " ", "world", "!"}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "test-model",
	})

	var chunks []string
	resp, err := provider.ChatStream(context.Background(), &ChatRequest{Prompt: "test"}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "Hello world!", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)
	assert.Equal(t, []string{"Hello", " ", "world", "!"}, chunks)
}

func TestOllamaChatStream_RequestShape(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		streamingHandler([]string{"ok"})(w, r)
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "default-model",
	})

	schema := json.RawMessage(`{"type":"object"}`)
	_, err := provider.ChatStream(context.Background(), &ChatRequest{
		SystemPrompt: "be terse",
		Prompt:       "classify this",
		Format:       schema,
		Temperature:  0.2,
		MaxTokens:    64,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "default-model", got.Model)
	assert.True(t, got.Stream)
	assert.JSONEq(t, string(schema), string(got.Format))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be terse", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, 0.2, got.Options.Temperature)
	assert.Equal(t, 64, got.Options.NumPredict)
}

func TestOllamaFirstTokenTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Stall with headers sent until the client gives up.
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "test-model",
	}, WithFirstTokenTimeout(200*time.Millisecond))

	start := time.Now()
	_, err := provider.Chat(context.Background(), &ChatRequest{Prompt: "test"})

	require.Error(t, err)
	assert.True(t,
		strings.Contains(err.Error(), "timeout waiting for first token") ||
			strings.Contains(err.Error(), "timeout awaiting response headers"),
		"unexpected error: %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOllamaStreamIdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		chunk := ollamaChatResponse{
			Model:   "test-model",
			Message: ollamaMessage{Role: "assistant", Content: "first "},
		}
		json.NewEncoder(w).Encode(chunk)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Never send the next token.
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "test-model",
	}, WithStreamIdleTimeout(100*time.Millisecond))

	resp, err := provider.Chat(context.Background(), &ChatRequest{Prompt: "test"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream idle timeout")
	assert.Nil(t, resp)
}

func TestOllamaChatStream_MalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		chunk := ollamaChatResponse{
			Model:   "test-model",
			Message: ollamaMessage{Role: "assistant", Content: "token"},
		}
		json.NewEncoder(w).Encode(chunk)
		w.Write([]byte("{invalid json\n"))
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "test-model",
	})

	_, err := provider.Chat(context.Background(), &ChatRequest{Prompt: "test"})
	assert.Error(t, err)
}

func TestOllamaChatStream_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "missing-model",
	})

	_, err := provider.Chat(context.Background(), &ChatRequest{Prompt: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOllamaContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		for i := 0; i < 10; i++ {
			chunk := ollamaChatResponse{
				Model:   "test-model",
				Message: ollamaMessage{Role: "assistant", Content: "token "},
				Done:    i == 9,
			}
			json.NewEncoder(w).Encode(chunk)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}))
	defer server.Close()

	provider := NewOllamaProvider(&ProviderConfig{
		Endpoint: server.URL,
		Model:    "test-model",
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := provider.Chat(ctx, &ChatRequest{Prompt: "test"})
		done <- err
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Chat did not return after cancellation")
	}
}

func TestOllamaTimeoutOptions(t *testing.T) {
	t.Run("local_defaults", func(t *testing.T) {
		cfg := DefaultTimeoutConfig()
		assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
		assert.Equal(t, 120*time.Second, cfg.FirstTokenTimeout)
		assert.Equal(t, 30*time.Second, cfg.StreamIdleTimeout)
	})

	t.Run("remote_defaults", func(t *testing.T) {
		cfg := RemoteTimeoutConfig()
		assert.Equal(t, 60*time.Second, cfg.ConnectionTimeout)
		assert.Equal(t, 300*time.Second, cfg.FirstTokenTimeout)
		assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	})

	t.Run("custom_config", func(t *testing.T) {
		custom := TimeoutConfig{
			ConnectionTimeout: 10 * time.Second,
			FirstTokenTimeout: 20 * time.Second,
			StreamIdleTimeout: 5 * time.Second,
		}
		provider := NewOllamaProvider(&ProviderConfig{
			Endpoint: "http://localhost:11434",
			Model:    "test",
		}, WithTimeoutConfig(custom))
		assert.Equal(t, custom, provider.timeoutConfig)
	})

	t.Run("remote_endpoint_gets_remote_defaults", func(t *testing.T) {
		provider := NewOllamaProvider(&ProviderConfig{
			Endpoint: "https://ollama.example.com",
			Model:    "test",
		})
		assert.Equal(t, RemoteTimeoutConfig(), provider.timeoutConfig)
	})
}

func TestIsRemoteEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"http://localhost:11434", false},
		{"http://127.0.0.1:11434", false},
		{"http://[::1]:11434", false},
		{"http://host.docker.internal:11434", false},
		{"http://192.168.1.100:11434", true},
		{"https://api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, isRemoteEndpoint(tt.endpoint))
		})
	}
}
