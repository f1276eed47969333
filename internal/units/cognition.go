package units

import (
	"fmt"
	"strings"

	"github.com/aienhance/aienhance/internal/pipeline"
)

// MemoryActivationUnit relates the run's recalled memories to the query
// during the cognition layer.
type MemoryActivationUnit struct{}

// NewMemoryActivationUnit creates the unit.
func NewMemoryActivationUnit() *MemoryActivationUnit { return &MemoryActivationUnit{} }

func (u *MemoryActivationUnit) Name() string     { return "memory_activation" }
func (u *MemoryActivationUnit) Function() string { return "memory_activation" }

func (u *MemoryActivationUnit) BuildPrompt(pc *pipeline.Context) (pipeline.PromptSpec, error) {
	memories := pc.Memories()
	var sb strings.Builder
	if len(memories) == 0 {
		sb.WriteString("(no stored memories)")
	}
	for i, m := range memories {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, m.Content)
	}

	return pipeline.PromptSpec{
		Template: "memory_activation",
		Variables: map[string]interface{}{
			"query":    pc.Query,
			"memories": sb.String(),
		},
	}, nil
}

func (u *MemoryActivationUnit) OutputSchema() *pipeline.Schema {
	return &pipeline.Schema{
		Fields: []pipeline.Field{
			{Name: "relevant_points", Type: pipeline.FieldStringArray, Required: true},
			{Name: "connections", Type: pipeline.FieldStringArray},
			{Name: "gaps", Type: pipeline.FieldStringArray},
		},
	}
}

func (u *MemoryActivationUnit) BuildResult(pc *pipeline.Context, output map[string]interface{}) map[string]interface{} {
	return output
}

// DefaultOutput falls back to the raw recalled memories: without a model to
// rank them, every recalled item counts as relevant.
func (u *MemoryActivationUnit) DefaultOutput(pc *pipeline.Context, raw string) map[string]interface{} {
	points := []string{}
	for _, m := range pc.Memories() {
		points = append(points, m.Content)
	}
	return map[string]interface{}{
		"relevant_points": points,
		"connections":     []string{},
		"gaps":            []string{},
	}
}
