package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// StructuredValidator validates model responses against a JSON Schema.
type StructuredValidator struct {
	schema     *jsonschema.Schema
	schemaJSON json.RawMessage
}

// NewStructuredValidator compiles a JSON Schema for validation.
func NewStructuredValidator(schemaJSON json.RawMessage) (*StructuredValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &StructuredValidator{schema: schema, schemaJSON: schemaJSON}, nil
}

// SchemaJSON returns the raw schema for prompt injection.
func (sv *StructuredValidator) SchemaJSON() json.RawMessage {
	return sv.schemaJSON
}

// StructuredResult is the outcome of a successful validation.
type StructuredResult struct {
	Raw    string
	JSON   string
	Parsed any
}

// ValidationError describes a schema validation failure.
type ValidationError struct {
	Message string
	Raw     string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateResponse extracts JSON from the model's response text and
// validates it against the schema.
func (sv *StructuredValidator) ValidateResponse(responseText string) (*StructuredResult, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return nil, &ValidationError{
			Message: "response does not contain valid JSON",
			Raw:     responseText,
		}
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("invalid JSON: %s", err),
			Raw:     responseText,
		}
	}

	if err := sv.schema.Validate(parsed); err != nil {
		return nil, &ValidationError{
			Message: fmt.Sprintf("schema validation failed: %s", err),
			Raw:     responseText,
		}
	}

	return &StructuredResult{Raw: responseText, JSON: jsonStr, Parsed: parsed}, nil
}

// extractJSON finds a JSON object or array in the response text.
func extractJSON(text string) string {
	// 1. Fenced JSON block: ```json\n...\n```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	// 2. Generic fenced block: ```\n...\n```
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	// 3. Raw JSON: first { or [ with a balanced close.
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON structure from the start of the
// string.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
