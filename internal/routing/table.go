// Package routing maps logical business functions to model chains.
//
// A business function is a task name such as "domain_inference" or
// "adaptive_output". Each function resolves to a primary model configuration
// plus an ordered list of fallbacks. The table performs no network I/O; it is
// pure lookup and merge logic so that processing units stay backend-agnostic.
package routing

import (
	"sync"
	"time"

	"github.com/aienhance/aienhance/internal/logging"
)

// ModelConfig describes one model on one backend, together with the
// generation parameters to use when calling it. It is a value object and is
// compared by content.
type ModelConfig struct {
	// Backend identifies the provider (e.g. "ollama", "openai").
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Model is the backend-specific model name.
	Model string `mapstructure:"model" yaml:"model"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`

	// Timeout bounds a single generation attempt against this model.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// Endpoint optionally overrides the backend's configured endpoint.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// IsZero reports whether the config carries no usable model selection.
func (c ModelConfig) IsZero() bool {
	return c.Backend == "" && c.Model == ""
}

// FunctionConfig is the resolved model chain for one business function.
type FunctionConfig struct {
	Function  string        `mapstructure:"function" yaml:"function"`
	Primary   ModelConfig   `mapstructure:"primary" yaml:"primary"`
	Fallbacks []ModelConfig `mapstructure:"fallbacks" yaml:"fallbacks,omitempty"`
}

// Chain returns the full model chain in invocation order: primary first,
// then the fallbacks. The chain is never empty for a resolved config.
func (c FunctionConfig) Chain() []ModelConfig {
	chain := make([]ModelConfig, 0, 1+len(c.Fallbacks))
	chain = append(chain, c.Primary)
	chain = append(chain, c.Fallbacks...)
	return chain
}

// Table maps business function names to model chains. Entries are expected
// to be registered once during startup and read-only afterwards; Register is
// last-write-wins so startup code may layer defaults and overrides freely.
type Table struct {
	mu      sync.RWMutex
	entries map[string]FunctionConfig
	def     ModelConfig
	log     *logging.Logger
}

// NewTable creates a routing table with the given process-wide default model.
// The default is substituted for any function that has no explicit entry.
func NewTable(def ModelConfig) *Table {
	return &Table{
		entries: make(map[string]FunctionConfig),
		def:     def,
		log:     logging.Global().WithComponent("routing"),
	}
}

// Register installs or replaces the chain for a business function.
func (t *Table) Register(function string, cfg FunctionConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cfg.Function = function
	if _, exists := t.entries[function]; exists {
		t.log.Debug("replacing routing entry for %s", function)
	}
	t.entries[function] = cfg
}

// Resolve returns the model chain for a business function. Functions without
// an explicit entry resolve to the process-wide default with no fallbacks, so
// the returned chain is always usable.
func (t *Table) Resolve(function string) FunctionConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if cfg, ok := t.entries[function]; ok {
		return cfg
	}
	return FunctionConfig{
		Function: function,
		Primary:  t.def,
	}
}

// Default returns the process-wide default model config.
func (t *Table) Default() ModelConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.def
}

// Functions lists the explicitly registered business functions.
func (t *Table) Functions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	return names
}
