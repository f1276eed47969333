package prompts

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed static/templates.yaml
var templatesYAML []byte

type yamlFile struct {
	Templates []Template `yaml:"templates"`
}

// Load builds a registry seeded with the embedded templates. A broken seed
// file is a build artifact problem, so loading fails rather than degrading.
func Load() (*Registry, error) {
	var data yamlFile
	if err := yaml.Unmarshal(templatesYAML, &data); err != nil {
		return nil, fmt.Errorf("prompts: parse embedded templates: %w", err)
	}

	r := NewRegistry()
	for _, t := range data.Templates {
		if err := r.Register(t); err != nil {
			return nil, fmt.Errorf("prompts: seed template %s v%s: %w", t.Name, t.Version, err)
		}
	}
	return r, nil
}
