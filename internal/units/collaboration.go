package units

import (
	"github.com/aienhance/aienhance/internal/pipeline"
)

// PerspectiveUnit challenges the drafted answer with alternative viewpoints
// during the collaboration layer.
type PerspectiveUnit struct{}

// NewPerspectiveUnit creates the unit.
func NewPerspectiveUnit() *PerspectiveUnit { return &PerspectiveUnit{} }

func (u *PerspectiveUnit) Name() string     { return "dialectical_perspective" }
func (u *PerspectiveUnit) Function() string { return "dialectical_perspective" }

func (u *PerspectiveUnit) BuildPrompt(pc *pipeline.Context) (pipeline.PromptSpec, error) {
	answer := "(no answer was generated)"
	if out, ok := pc.Get("behavior.adaptive_output"); ok {
		if text, ok := out["text"].(string); ok && text != "" {
			answer = text
		}
	}

	return pipeline.PromptSpec{
		Template: "dialectical_perspective",
		Variables: map[string]interface{}{
			"query":  pc.Query,
			"answer": answer,
		},
	}, nil
}

// OutputSchema is nil: the counterpoint is free-form text.
func (u *PerspectiveUnit) OutputSchema() *pipeline.Schema { return nil }

func (u *PerspectiveUnit) BuildResult(pc *pipeline.Context, output map[string]interface{}) map[string]interface{} {
	return output
}

// DefaultOutput keeps partial text; an empty result just means no
// counterpoint, which the optional collaboration layer tolerates.
func (u *PerspectiveUnit) DefaultOutput(pc *pipeline.Context, raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	return map[string]interface{}{"text": raw}
}
