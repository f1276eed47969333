package prompts

import (
	"errors"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	templates := []Template{
		{Name: "greeting", Version: "1.0", Variables: []string{"name"}, Body: "Hello, {{.name}}!"},
		{Name: "greeting", Version: "1.2", Variables: []string{"name"}, Body: "Hi there, {{.name}}!"},
		{Name: "greeting", Version: "2.0", Variables: []string{"name"}, Body: "Greetings, {{.name}}."},
		{Name: "summary", Version: "1.0", Variables: []string{"topic", "audience"}, Body: "Summarize {{.topic}} for {{.audience}}."},
	}
	for _, tmpl := range templates {
		if err := r.Register(tmpl); err != nil {
			t.Fatalf("Register(%s v%s) failed: %v", tmpl.Name, tmpl.Version, err)
		}
	}
	return r
}

func TestRegistry_DuplicateVersion(t *testing.T) {
	r := testRegistry(t)
	err := r.Register(Template{Name: "greeting", Version: "1.2", Body: "duplicate"})
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Fatalf("expected ErrDuplicateVersion, got %v", err)
	}

	// The original registration must be untouched.
	tmpl, err := r.Get("greeting", "1.2")
	if err != nil {
		t.Fatalf("Get after duplicate rejection failed: %v", err)
	}
	if tmpl.Body != "Hi there, {{.name}}!" {
		t.Errorf("duplicate registration overwrote template: %q", tmpl.Body)
	}
}

func TestRegistry_MalformedVersion(t *testing.T) {
	r := NewRegistry()
	for _, ver := range []string{"1", "1.2.3", "v1.0", "1.x", ""} {
		err := r.Register(Template{Name: "bad", Version: ver, Body: "x"})
		if !errors.Is(err, ErrBadVersion) {
			t.Errorf("version %q: expected ErrBadVersion, got %v", ver, err)
		}
	}
}

func TestRegistry_GetLatest(t *testing.T) {
	r := testRegistry(t)

	tmpl, err := r.Get("greeting", "")
	if err != nil {
		t.Fatalf("Get latest failed: %v", err)
	}
	if tmpl.Version != "2.0" {
		t.Errorf("latest version = %s, want 2.0", tmpl.Version)
	}
}

func TestRegistry_GetPinned(t *testing.T) {
	r := testRegistry(t)

	tmpl, err := r.Get("greeting", "1.0")
	if err != nil {
		t.Fatalf("Get pinned failed: %v", err)
	}
	if tmpl.Body != "Hello, {{.name}}!" {
		t.Errorf("pinned version body = %q", tmpl.Body)
	}

	if _, err := r.Get("greeting", "3.0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown version: expected ErrNotFound, got %v", err)
	}
	if _, err := r.Get("missing", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown template: expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_VersionOrderingIsNumeric(t *testing.T) {
	r := NewRegistry()
	// Lexicographic comparison would rank "1.9" above "1.10".
	for _, ver := range []string{"1.9", "1.10"} {
		if err := r.Register(Template{Name: "t", Version: ver, Body: ver}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	tmpl, err := r.Get("t", "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tmpl.Version != "1.10" {
		t.Errorf("latest version = %s, want 1.10", tmpl.Version)
	}
}

func TestRegistry_RenderMissingVariables(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Render("summary", map[string]interface{}{}, "")
	var mv *MissingVariableError
	if !errors.As(err, &mv) {
		t.Fatalf("expected MissingVariableError, got %v", err)
	}
	// Every absent variable is named, not just the first.
	if len(mv.Missing) != 2 {
		t.Errorf("Missing = %v, want both declared variables", mv.Missing)
	}
}

func TestRegistry_RenderIdempotent(t *testing.T) {
	r := testRegistry(t)
	vars := map[string]interface{}{"topic": "caching", "audience": "operators"}

	first, err := r.Render("summary", vars, "1.0")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	second, err := r.Render("summary", vars, "1.0")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if first != second {
		t.Errorf("re-render differs:\n%q\n%q", first, second)
	}
	if first != "Summarize caching for operators." {
		t.Errorf("rendered = %q", first)
	}
}

func TestLoad_EmbeddedSeed(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, name := range []string{"domain_inference", "context_analysis", "memory_activation", "adaptive_output", "dialectical_perspective"} {
		if _, err := r.Get(name, ""); err != nil {
			t.Errorf("seed template %s missing: %v", name, err)
		}
	}

	// domain_inference ships two versions; unpinned resolves to 1.1.
	tmpl, err := r.Get("domain_inference", "")
	if err != nil {
		t.Fatalf("Get domain_inference failed: %v", err)
	}
	if tmpl.Version != "1.1" {
		t.Errorf("domain_inference latest = %s, want 1.1", tmpl.Version)
	}
}
