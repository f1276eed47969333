package units

import (
	"github.com/aienhance/aienhance/internal/domain"
	"github.com/aienhance/aienhance/internal/pipeline"
)

// LayerOptions tunes the default layer assembly.
type LayerOptions struct {
	// RequireCollaboration makes the collaboration layer mandatory: a run
	// then aborts when no perspective can be produced.
	RequireCollaboration bool

	// SkipCollaboration drops the collaboration layer entirely.
	SkipCollaboration bool
}

// DefaultLayers assembles the standard four-layer pipeline. Perception fans
// out domain inference and context analysis concurrently; behavior and
// collaboration stream their text.
func DefaultLayers(classifier *domain.Classifier, opts LayerOptions) []pipeline.Layer {
	layers := []pipeline.Layer{
		{
			Name:  "perception",
			State: pipeline.StatePerceiving,
			Units: []pipeline.Unit{
				domain.NewInferenceUnit(classifier),
				NewContextAnalysisUnit(),
			},
		},
		{
			Name:  "cognition",
			State: pipeline.StateCognizing,
			Units: []pipeline.Unit{
				NewMemoryActivationUnit(),
			},
			// Cognition enriches but never gates: a failed memory pass
			// still leaves behavior with the perception outputs.
			Optional: true,
		},
		{
			Name:  "behavior",
			State: pipeline.StateBehaving,
			Units: []pipeline.Unit{
				NewAdaptiveOutputUnit(),
			},
			Streaming: true,
		},
	}

	if !opts.SkipCollaboration {
		layers = append(layers, pipeline.Layer{
			Name:  "collaboration",
			State: pipeline.StateCollaborating,
			Units: []pipeline.Unit{
				NewPerspectiveUnit(),
			},
			Optional:  !opts.RequireCollaboration,
			Streaming: true,
		})
	}

	return layers
}
