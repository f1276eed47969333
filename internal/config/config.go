// Package config loads the application configuration. Configuration is read
// once at startup from ~/.aienhance/config.yaml (created with defaults on
// first run) and merged with AIENHANCE_* environment variables; nothing
// watches the file afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/aienhance/aienhance/internal/domain"
	"github.com/aienhance/aienhance/internal/routing"
)

// Config holds all application configuration.
type Config struct {
	Logging   LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Routing   RoutingConfig             `mapstructure:"routing" yaml:"routing"`
	Pipeline  PipelineConfig            `mapstructure:"pipeline" yaml:"pipeline"`
	Memory    MemoryConfig              `mapstructure:"memory" yaml:"memory"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File, if set, receives an uncolored copy of every log line.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// ProviderConfig configures one backend provider.
type ProviderConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the provider's default model, used when a routing entry
	// names the backend without a model.
	Model       string  `mapstructure:"model" yaml:"model,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// RoutingConfig declares the process-wide default model and per-function
// chains.
type RoutingConfig struct {
	Default   routing.ModelConfig      `mapstructure:"default" yaml:"default"`
	Functions []routing.FunctionConfig `mapstructure:"functions" yaml:"functions,omitempty"`
}

// PipelineConfig tunes the orchestrator and the keyword fallback.
type PipelineConfig struct {
	// KeywordMinScore is the matched-keyword count a domain needs to rank
	// as primary in the fallback classification.
	KeywordMinScore int `mapstructure:"keyword_min_score" yaml:"keyword_min_score"`

	// Domains overrides the built-in classification vocabulary.
	Domains []domain.DomainKeywords `mapstructure:"domains" yaml:"domains,omitempty"`

	// RequireCollaboration aborts runs that produce no perspective.
	RequireCollaboration bool `mapstructure:"require_collaboration" yaml:"require_collaboration"`

	// SkipCollaboration drops the collaboration layer.
	SkipCollaboration bool `mapstructure:"skip_collaboration" yaml:"skip_collaboration"`

	// RecallLimit is how many memories are attached to each run.
	RecallLimit int `mapstructure:"recall_limit" yaml:"recall_limit"`
}

// MemoryConfig locates the SQLite stores.
type MemoryConfig struct {
	// Path is the memory database file.
	Path string `mapstructure:"path" yaml:"path"`
	// FlowPath is the information-flow trace database file.
	FlowPath string `mapstructure:"flow_path" yaml:"flow_path"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Endpoint: "http://127.0.0.1:11434",
				Model:    "llama3",
			},
			"openai": {
				Model: "gpt-4o-mini",
			},
		},
		Routing: RoutingConfig{
			Default: routing.ModelConfig{
				Backend: "ollama",
				Model:   "llama3",
			},
		},
		Pipeline: PipelineConfig{
			KeywordMinScore: 1,
			RecallLimit:     5,
		},
		Memory: MemoryConfig{
			Path:     "~/.aienhance/memory.db",
			FlowPath: "~/.aienhance/flow.db",
		},
	}
}

// Load reads configuration from ~/.aienhance/config.yaml.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".aienhance", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file, creating it with
// defaults when absent, and merges environment overrides. Example override:
// AIENHANCE_ROUTING_DEFAULT_BACKEND=openai.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AIENHANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	cfg.Memory.Path = expandPath(cfg.Memory.Path)
	cfg.Memory.FlowPath = expandPath(cfg.Memory.FlowPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// applyDefaults fills in zero values that the pipeline cannot work without.
func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Routing.Default.IsZero() {
		c.Routing.Default = defaults.Routing.Default
	}
	if c.Pipeline.KeywordMinScore == 0 {
		c.Pipeline.KeywordMinScore = defaults.Pipeline.KeywordMinScore
	}
	if c.Pipeline.RecallLimit == 0 {
		c.Pipeline.RecallLimit = defaults.Pipeline.RecallLimit
	}
	if c.Memory.Path == "" {
		c.Memory.Path = defaults.Memory.Path
	}
	if c.Memory.FlowPath == "" {
		c.Memory.FlowPath = defaults.Memory.FlowPath
	}
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}
