package routing

import "testing"

func TestTable_ResolveUnknownSynthesizesDefault(t *testing.T) {
	def := ModelConfig{Backend: "ollama", Model: "llama3"}
	table := NewTable(def)

	cfg := table.Resolve("never_registered")
	if cfg.Function != "never_registered" {
		t.Errorf("Function = %q", cfg.Function)
	}
	if cfg.Primary != def {
		t.Errorf("Primary = %+v, want process default", cfg.Primary)
	}
	if len(cfg.Fallbacks) != 0 {
		t.Errorf("Fallbacks = %v, want none", cfg.Fallbacks)
	}
	if len(cfg.Chain()) != 1 {
		t.Errorf("Chain length = %d, want 1", len(cfg.Chain()))
	}
}

func TestTable_RegisterLastWriteWins(t *testing.T) {
	table := NewTable(ModelConfig{Backend: "ollama", Model: "llama3"})

	table.Register("domain_inference", FunctionConfig{
		Primary: ModelConfig{Backend: "ollama", Model: "qwen2"},
	})
	table.Register("domain_inference", FunctionConfig{
		Primary: ModelConfig{Backend: "openai", Model: "gpt-4o-mini"},
	})

	cfg := table.Resolve("domain_inference")
	if cfg.Primary.Backend != "openai" {
		t.Errorf("Primary.Backend = %q, want openai (last registration)", cfg.Primary.Backend)
	}
}

func TestFunctionConfig_ChainOrder(t *testing.T) {
	cfg := FunctionConfig{
		Primary: ModelConfig{Backend: "openai", Model: "gpt-4o"},
		Fallbacks: []ModelConfig{
			{Backend: "ollama", Model: "llama3"},
			{Backend: "ollama", Model: "qwen2"},
		},
	}

	chain := cfg.Chain()
	want := []string{"gpt-4o", "llama3", "qwen2"}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i, model := range want {
		if chain[i].Model != model {
			t.Errorf("chain[%d].Model = %q, want %q", i, chain[i].Model, model)
		}
	}
}

func TestModelConfig_IsZero(t *testing.T) {
	if !(ModelConfig{}).IsZero() {
		t.Error("empty config should be zero")
	}
	if (ModelConfig{Backend: "ollama"}).IsZero() {
		t.Error("config with backend should not be zero")
	}
}
