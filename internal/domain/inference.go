package domain

import (
	"strings"

	"github.com/aienhance/aienhance/internal/pipeline"
)

// Function is the business function name the routing table resolves for
// domain inference.
const Function = "domain_inference"

// InferenceUnit classifies a query's knowledge domains via the model chain,
// degrading to the keyword classifier when generation or parsing fails. The
// degraded payload is shape-identical to the model-produced one.
type InferenceUnit struct {
	classifier *Classifier
}

// NewInferenceUnit creates the unit around a classifier. The classifier's
// vocabulary doubles as the domain list offered to the model.
func NewInferenceUnit(classifier *Classifier) *InferenceUnit {
	if classifier == nil {
		classifier = NewClassifier(nil, 1)
	}
	return &InferenceUnit{classifier: classifier}
}

// Name identifies the unit.
func (u *InferenceUnit) Name() string { return "domain_inference" }

// Function names the business function for model routing.
func (u *InferenceUnit) Function() string { return Function }

// BuildPrompt fills the domain inference template with the query and the
// known vocabulary.
func (u *InferenceUnit) BuildPrompt(pc *pipeline.Context) (pipeline.PromptSpec, error) {
	return pipeline.PromptSpec{
		Template: "domain_inference",
		Variables: map[string]interface{}{
			"query":   pc.Query,
			"domains": strings.Join(u.classifier.Domains(), ", "),
		},
	}, nil
}

// OutputSchema declares the classification payload.
func (u *InferenceUnit) OutputSchema() *pipeline.Schema {
	return &pipeline.Schema{
		Fields: []pipeline.Field{
			{Name: "primary_domains", Type: pipeline.FieldStringArray, Required: true,
				Description: "domains central to answering the query"},
			{Name: "secondary_domains", Type: pipeline.FieldStringArray,
				Description: "relevant but peripheral domains"},
			{Name: "confidence_scores", Type: pipeline.FieldNumberMap,
				Description: "confidence between 0 and 1 per domain"},
			{Name: "interdisciplinary", Type: pipeline.FieldBool},
			{Name: "reasoning", Type: pipeline.FieldString},
		},
	}
}

// BuildResult normalizes the model's classification. An empty primary list
// is replaced so downstream layers can always count on at least one domain.
func (u *InferenceUnit) BuildResult(pc *pipeline.Context, output map[string]interface{}) map[string]interface{} {
	primaries, _ := output["primary_domains"].([]interface{})
	if len(primaries) == 0 {
		if existing, ok := output["primary_domains"].([]string); !ok || len(existing) == 0 {
			output["primary_domains"] = []string{GeneralDomain}
		}
	}
	return output
}

// DefaultOutput produces the deterministic keyword classification in the
// same shape the model would have returned.
func (u *InferenceUnit) DefaultOutput(pc *pipeline.Context, raw string) map[string]interface{} {
	c := u.classifier.Classify(pc.Query)

	secondary := c.Secondary
	if secondary == nil {
		secondary = []string{}
	}
	return map[string]interface{}{
		"primary_domains":   c.Primary,
		"secondary_domains": secondary,
		"confidence_scores": c.Scores,
		"interdisciplinary": len(c.Primary) > 1,
		"reasoning":         "deterministic keyword classification over the configured vocabulary",
		"provenance":        "keyword_fallback",
	}
}
