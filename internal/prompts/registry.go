// Package prompts provides the versioned prompt template registry.
//
// Templates are immutable once registered under a (name, version) pair.
// Versions are "major.minor" strings ordered by integer pair, so callers that
// omit the version always get the newest template while callers that pin a
// version are insulated from later registrations.
package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
)

var (
	// ErrNotFound indicates the requested template or version does not exist.
	ErrNotFound = errors.New("prompts: template not found")

	// ErrDuplicateVersion indicates a (name, version) pair was registered twice.
	ErrDuplicateVersion = errors.New("prompts: duplicate template version")

	// ErrBadVersion indicates a version string is not "major.minor".
	ErrBadVersion = errors.New("prompts: malformed version")
)

// MissingVariableError reports required variables absent from a render call.
// Rendering fails before any substitution is attempted.
type MissingVariableError struct {
	Template string
	Missing  []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("prompts: template %q missing variables: %s",
		e.Template, strings.Join(e.Missing, ", "))
}

// Template is a versioned prompt template with declared variables and
// recommended generation parameters.
type Template struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description,omitempty"`
	Category    string   `yaml:"category,omitempty"`
	Variables   []string `yaml:"variables"`
	Body        string   `yaml:"body"`

	// Recommended generation parameters for this prompt.
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// version is a parsed "major.minor" pair.
type version struct {
	major int
	minor int
}

func parseVersion(s string) (version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return version{}, fmt.Errorf("%w: %q", ErrBadVersion, s)
	}
	return version{major: major, minor: minor}, nil
}

func (v version) less(o version) bool {
	if v.major != o.major {
		return v.major < o.major
	}
	return v.minor < o.minor
}

// Registry holds templates in memory. Registration is expected at startup;
// reads are safe for concurrent use afterwards.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]map[string]Template // name -> version -> template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]map[string]Template)}
}

// Register adds a template. It fails with ErrDuplicateVersion if the
// (name, version) pair already exists and ErrBadVersion if the version string
// is malformed. Registered templates are never overwritten.
func (r *Registry) Register(t Template) error {
	if t.Name == "" {
		return fmt.Errorf("prompts: template has no name")
	}
	if _, err := parseVersion(t.Version); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.templates[t.Name]
	if !ok {
		versions = make(map[string]Template)
		r.templates[t.Name] = versions
	}
	if _, exists := versions[t.Version]; exists {
		return fmt.Errorf("%w: %s v%s", ErrDuplicateVersion, t.Name, t.Version)
	}
	versions[t.Version] = t
	return nil
}

// Get returns the template for a name. With an empty version it resolves to
// the greatest registered version; with an explicit version it fails with
// ErrNotFound unless that exact version exists.
func (r *Registry) Get(name, ver string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.templates[name]
	if !ok || len(versions) == 0 {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if ver != "" {
		t, ok := versions[ver]
		if !ok {
			return Template{}, fmt.Errorf("%w: %s v%s", ErrNotFound, name, ver)
		}
		return t, nil
	}

	var best Template
	var bestVer version
	first := true
	for vs, t := range versions {
		pv, err := parseVersion(vs)
		if err != nil {
			continue // unreachable: Register validates versions
		}
		if first || bestVer.less(pv) {
			best = t
			bestVer = pv
			first = false
		}
	}
	return best, nil
}

// Render resolves the template and substitutes variables. It fails with
// MissingVariableError naming every absent declared variable before any
// substitution happens; there are no partial renders. Rendering the same
// (name, version, variables) tuple twice yields byte-identical output.
func (r *Registry) Render(name string, variables map[string]interface{}, ver string) (string, error) {
	t, err := r.Get(name, ver)
	if err != nil {
		return "", err
	}

	var missing []string
	for _, v := range t.Variables {
		if _, ok := variables[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", &MissingVariableError{Template: name, Missing: missing}
	}

	tmpl, err := template.New(t.Name).Option("missingkey=error").Parse(t.Body)
	if err != nil {
		return "", fmt.Errorf("prompts: parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("prompts: execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// List returns all templates, optionally filtered by category.
func (r *Registry) List(category string) []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Template
	for _, versions := range r.templates {
		for _, t := range versions {
			if category == "" || t.Category == category {
				out = append(out, t)
			}
		}
	}
	return out
}

// Versions returns the registered version strings for a template name.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for vs := range r.templates[name] {
		out = append(out, vs)
	}
	return out
}
