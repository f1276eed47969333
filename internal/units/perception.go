// Package units provides the concrete processing units of the four pipeline
// layers: perception analyzes the query, cognition activates memory,
// behavior generates the adapted answer, collaboration challenges it.
package units

import (
	"github.com/aienhance/aienhance/internal/pipeline"
)

// ContextAnalysisUnit extracts intent, complexity, and key concepts from the
// query during the perception layer.
type ContextAnalysisUnit struct{}

// NewContextAnalysisUnit creates the unit.
func NewContextAnalysisUnit() *ContextAnalysisUnit { return &ContextAnalysisUnit{} }

func (u *ContextAnalysisUnit) Name() string     { return "context_analysis" }
func (u *ContextAnalysisUnit) Function() string { return "context_analysis" }

func (u *ContextAnalysisUnit) BuildPrompt(pc *pipeline.Context) (pipeline.PromptSpec, error) {
	return pipeline.PromptSpec{
		Template:  "context_analysis",
		Variables: map[string]interface{}{"query": pc.Query},
	}, nil
}

func (u *ContextAnalysisUnit) OutputSchema() *pipeline.Schema {
	return &pipeline.Schema{
		Fields: []pipeline.Field{
			{Name: "intent", Type: pipeline.FieldString, Required: true},
			{Name: "complexity", Type: pipeline.FieldString, Required: true},
			{Name: "key_concepts", Type: pipeline.FieldStringArray, Required: true},
			{Name: "question_type", Type: pipeline.FieldString},
		},
	}
}

func (u *ContextAnalysisUnit) BuildResult(pc *pipeline.Context, output map[string]interface{}) map[string]interface{} {
	return output
}

// DefaultOutput gives a neutral analysis so downstream layers still get a
// usable signal when generation fails.
func (u *ContextAnalysisUnit) DefaultOutput(pc *pipeline.Context, raw string) map[string]interface{} {
	return map[string]interface{}{
		"intent":        "answer the user's question",
		"complexity":    "moderate",
		"key_concepts":  []string{},
		"question_type": "factual",
	}
}
