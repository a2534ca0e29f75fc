// file: internal/schema/errors.go
package schema

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrorCode classifies a ValidationError.
type ErrorCode string

const (
	ErrSchemaNotFound      ErrorCode = "schema_not_found"
	ErrSchemaLoadFailed    ErrorCode = "schema_load_failed"
	ErrSchemaCompileFailed ErrorCode = "schema_compile_failed"
	ErrValidationFailed    ErrorCode = "validation_failed"
	ErrInvalidJSONFormat   ErrorCode = "invalid_json"
)

// Violation is one leaf failure reported by the schema library.
type Violation struct {
	// Field is the JSON pointer into the backend response, "" for the root.
	Field string `json:"field"`
	// Keyword is the JSON pointer of the failing schema keyword.
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// ValidationError reports a schema that could not be loaded or a backend
// response that does not match its definition.
type ValidationError struct {
	Code    ErrorCode
	Message string
	// Schema names the $defs entry validated against, if any.
	Schema     string
	Violations []Violation
	Cause      error
	// Context carries diagnostics such as the source URI or a data preview.
	Context map[string]any
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Schema != "" {
		b.WriteString(" (")
		b.WriteString(e.Schema)
		b.WriteString(")")
	}
	if len(e.Violations) > 0 {
		v := e.Violations[0]
		b.WriteString(": ")
		if v.Field != "" {
			b.WriteString(v.Field)
			b.WriteString(" ")
		}
		b.WriteString(v.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// WithContext records a diagnostic value and returns e.
func (e *ValidationError) WithContext(key string, value any) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewValidationError creates a ValidationError. cause may be nil.
func NewValidationError(code ErrorCode, message string, cause error) *ValidationError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &ValidationError{Code: code, Message: message, Cause: cause}
}

// fromSchemaError turns a jsonschema failure into a ValidationError listing
// its leaf violations. The library error is not kept as Cause; its message
// repeats every violation.
func fromSchemaError(valErr *jsonschema.ValidationError, name string, data []byte) *ValidationError {
	e := NewValidationError(ErrValidationFailed, "backend response does not match schema", nil)
	e.Schema = name
	e.Violations = leafViolations(valErr, nil)
	return e.WithContext("dataPreview", calculatePreview(data))
}

func leafViolations(valErr *jsonschema.ValidationError, out []Violation) []Violation {
	if len(valErr.Causes) == 0 {
		return append(out, Violation{
			Field:   valErr.InstanceLocation,
			Keyword: valErr.KeywordLocation,
			Message: valErr.Message,
		})
	}
	for _, c := range valErr.Causes {
		out = leafViolations(c, out)
	}
	return out
}
