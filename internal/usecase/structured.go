package usecase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"qianfan-chat/internal/domain"
)

// JSONOnlyInstruction is the system prompt used when a caller asks for
// schema-conforming output.
const JSONOnlyInstruction = "You are a JSON-only function. " +
	"Return ONLY a valid JSON value. " +
	"Do not wrap in markdown fences. " +
	"Do not include commentary."

// StructuredOutput validates model output against a JSON Schema.
type StructuredOutput struct {
	schema *jsonschema.Schema
}

// NewStructuredOutput compiles schema. An invalid schema fails with
// domain.ErrSchemaParse.
func NewStructuredOutput(schema []byte) (*StructuredOutput, error) {
	compiled, err := jsonschema.NewCompiler().Compile(schema)
	if err != nil {
		return nil, domain.NewDomainError("StructuredOutput", domain.ErrSchemaParse, err.Error())
	}
	return &StructuredOutput{schema: compiled}, nil
}

// Parse extracts the JSON value from content and validates it. Markdown code
// fences around the value are tolerated.
func (s *StructuredOutput) Parse(content string) (any, error) {
	raw := stripCodeFences(content)
	if raw == "" {
		return nil, domain.NewDomainError("StructuredOutput.Parse", domain.ErrValidation, "empty output")
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, domain.NewDomainError("StructuredOutput.Parse", domain.ErrValidation,
			fmt.Sprintf("invalid JSON: %v", err))
	}

	result := s.schema.Validate(parsed)
	if !result.IsValid() {
		return nil, domain.NewDomainError("StructuredOutput.Parse", domain.ErrValidation,
			fmt.Sprintf("output did not match schema: %s", result.Error()))
	}
	return parsed, nil
}

// Format parses content and re-renders it as indented JSON.
func (s *StructuredOutput) Format(content string) (string, error) {
	parsed, err := s.Parse(content)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format JSON: %w", err)
	}
	return string(out), nil
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
