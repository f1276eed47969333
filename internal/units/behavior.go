package units

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aienhance/aienhance/internal/pipeline"
)

// AdaptiveOutputUnit generates the final answer in the behavior layer,
// adapting it to what perception and cognition learned. It is the streaming
// unit: its text chunks drive the run's event stream.
type AdaptiveOutputUnit struct{}

// NewAdaptiveOutputUnit creates the unit.
func NewAdaptiveOutputUnit() *AdaptiveOutputUnit { return &AdaptiveOutputUnit{} }

func (u *AdaptiveOutputUnit) Name() string     { return "adaptive_output" }
func (u *AdaptiveOutputUnit) Function() string { return "adaptive_output" }

func (u *AdaptiveOutputUnit) BuildPrompt(pc *pipeline.Context) (pipeline.PromptSpec, error) {
	var sb strings.Builder
	for _, key := range []string{
		"perception.domain_inference",
		"perception.context_analysis",
		"cognition.memory_activation",
	} {
		if out, ok := pc.Get(key); ok {
			encoded, err := json.Marshal(out)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "%s: %s\n", key, encoded)
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("(no prior analysis available)")
	}

	return pipeline.PromptSpec{
		Template: "adaptive_output",
		Variables: map[string]interface{}{
			"query":   pc.Query,
			"context": sb.String(),
		},
	}, nil
}

// OutputSchema is nil: the final answer is free-form markdown.
func (u *AdaptiveOutputUnit) OutputSchema() *pipeline.Schema { return nil }

func (u *AdaptiveOutputUnit) BuildResult(pc *pipeline.Context, output map[string]interface{}) map[string]interface{} {
	return output
}

// DefaultOutput keeps whatever partial answer streamed in before the failure.
// With nothing at all to show, the unit fails and the behavior layer aborts
// the run: there is no meaningful answer to degrade to.
func (u *AdaptiveOutputUnit) DefaultOutput(pc *pipeline.Context, raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	return map[string]interface{}{"text": raw}
}
