package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType enumerates the value types a schema field may declare. Schemas
// are deliberately flat: one level of named fields, no nested objects. The
// one structured exception is a map of numbers, which covers per-key score
// outputs without opening the door to arbitrary nesting.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldNumber      FieldType = "number"
	FieldBool        FieldType = "bool"
	FieldStringArray FieldType = "array<string>"
	FieldNumberMap   FieldType = "map<number>"
)

// Field declares one named field of a unit's output schema.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
}

// Schema is the flat output schema a unit constrains generation with.
type Schema struct {
	Fields []Field
}

// JSON emits the schema as a JSON Schema object suitable for backends that
// support constrained decoding (Ollama's format field, OpenAI's
// json_schema response format).
func (s *Schema) JSON() json.RawMessage {
	props := make(map[string]interface{}, len(s.Fields))
	var required []string

	for _, f := range s.Fields {
		var prop map[string]interface{}
		switch f.Type {
		case FieldString:
			prop = map[string]interface{}{"type": "string"}
		case FieldNumber:
			prop = map[string]interface{}{"type": "number"}
		case FieldBool:
			prop = map[string]interface{}{"type": "boolean"}
		case FieldStringArray:
			prop = map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			}
		case FieldNumberMap:
			prop = map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"type": "number"},
			}
		default:
			prop = map[string]interface{}{}
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	obj := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		obj["required"] = required
	}

	out, _ := json.Marshal(obj)
	return out
}

// Validate checks a parsed output object against the schema. Unknown fields
// are tolerated; missing required fields and type mismatches are not.
func (s *Schema) Validate(output map[string]interface{}) error {
	for _, f := range s.Fields {
		v, ok := output[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}

		switch f.Type {
		case FieldString:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("field %q: expected string, got %T", f.Name, v)
			}
		case FieldNumber:
			if !isNumber(v) {
				return fmt.Errorf("field %q: expected number, got %T", f.Name, v)
			}
		case FieldBool:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("field %q: expected bool, got %T", f.Name, v)
			}
		case FieldStringArray:
			arr, ok := v.([]interface{})
			if !ok {
				if _, ok := v.([]string); ok {
					continue
				}
				return fmt.Errorf("field %q: expected array of strings, got %T", f.Name, v)
			}
			for i, item := range arr {
				if _, ok := item.(string); !ok {
					return fmt.Errorf("field %q[%d]: expected string, got %T", f.Name, i, item)
				}
			}
		case FieldNumberMap:
			m, ok := v.(map[string]interface{})
			if !ok {
				if _, ok := v.(map[string]float64); ok {
					continue
				}
				return fmt.Errorf("field %q: expected map of numbers, got %T", f.Name, v)
			}
			for k, item := range m {
				if !isNumber(item) {
					return fmt.Errorf("field %q[%s]: expected number, got %T", f.Name, k, item)
				}
			}
		}
	}
	return nil
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

// ExtractJSON pulls a JSON object out of a model response. Models frequently
// wrap JSON in markdown fences or surround it with prose; this strips fences
// and falls back to the outermost brace pair.
func ExtractJSON(raw string) (map[string]interface{}, error) {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```json"); idx != -1 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end != -1 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx != -1 {
		text = text[idx+len("```"):]
		if end := strings.Index(text, "```"); end != -1 {
			text = text[:end]
		}
	}
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start == -1 || end == -1 || end < start {
			return nil, fmt.Errorf("no JSON object in response")
		}
		text = text[start : end+1]
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return out, nil
}
