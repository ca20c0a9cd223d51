package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Schema wraps a compiled JSON schema used to check structured model output.
type Schema struct {
	compiled *gojsonschema.Schema
}

// CompileSchema compiles a JSON schema document once at construction time.
func CompileSchema(schemaJSON string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// MustCompileSchema panics on a malformed schema. Only for package-level
// schema literals.
func MustCompileSchema(schemaJSON string) *Schema {
	s, err := CompileSchema(schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateJSON checks a raw JSON document against the schema.
func (s *Schema) ValidateJSON(doc []byte) *ValidationResult {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(document)",
				Message: err.Error(),
				Code:    "INVALID_JSON",
			}},
		}
	}
	return toValidationResult(result)
}

// Validate checks an already-decoded value against the schema.
func (s *Schema) Validate(value interface{}) *ValidationResult {
	doc, err := json.Marshal(value)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(document)",
				Message: err.Error(),
				Code:    "MARSHAL_FAILED",
			}},
		}
	}
	return s.ValidateJSON(doc)
}

func toValidationResult(result *gojsonschema.Result) *ValidationResult {
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}
	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    e.Type(),
		})
	}
	return &ValidationResult{Valid: false, Errors: errs}
}
