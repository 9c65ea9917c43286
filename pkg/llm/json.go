package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema validates model output before it is decoded.
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// NewSchema compiles a JSON schema document.
func NewSchema(name, document string) (*Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	return &Schema{name: name, schema: schema}, nil
}

// MustSchema is NewSchema for package-level schemas.
func MustSchema(name, document string) *Schema {
	s, err := NewSchema(name, document)
	if err != nil {
		panic(err)
	}

	return s
}

// Decode extracts the JSON document from raw, validates it and unmarshals it into out.
func (s *Schema) Decode(raw string, out any) error {
	doc := ExtractJSON(raw)
	if doc == "" {
		return fmt.Errorf("%w: %s: no JSON document in output", ErrInvalidResponse, s.name)
	}

	result, err := s.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, s.name, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return fmt.Errorf("%w: %s: %s", ErrInvalidResponse, s.name, strings.Join(problems, "; "))
	}

	err = json.Unmarshal([]byte(doc), out)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, s.name, err)
	}

	return nil
}

// ExtractJSON strips markdown fences and surrounding prose from model output,
// returning the outermost object or array, or "" when there is none.
func ExtractJSON(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}

	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}

	end := strings.LastIndexByte(text, closer)
	if end < start {
		return ""
	}

	return text[start : end+1]
}
