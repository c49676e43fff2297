package policy

import "fmt"

// ErrorCategory mirrors the original implementation's PolicyError enum —
// carried here as a Go sentinel-error taxonomy so reload-failure metrics can
// be labelled by category, the way the original's reload path reports its
// error variant.
type ErrorCategory string

const (
	CategoryFileNotFound      ErrorCategory = "file_not_found"
	CategoryParseError        ErrorCategory = "parse_error"
	CategorySchemaValidation  ErrorCategory = "schema_validation"
	CategoryIdentityError     ErrorCategory = "identity_error"
	CategoryCedarError        ErrorCategory = "cedar_error"
)

// LoadError wraps a failure encountered while loading or reloading a policy
// bundle, tagged with the category that drives failure-metric labelling.
type LoadError struct {
	Category ErrorCategory
	Path     string
	Line     int
	Err      error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("policy load (%s) %s: %v", e.Category, e.Path, e.Err)
	}
	return fmt.Sprintf("policy load (%s): %v", e.Category, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewFileNotFound builds a LoadError for a missing policy file.
func NewFileNotFound(path string, err error) *LoadError {
	return &LoadError{Category: CategoryFileNotFound, Path: path, Err: err}
}

// NewParseError builds a LoadError for a malformed policy bundle.
func NewParseError(path string, line int, err error) *LoadError {
	return &LoadError{Category: CategoryParseError, Path: path, Line: line, Err: err}
}

// NewSchemaValidationError builds a LoadError for a bundle that fails
// schema validation. The previous bundle remains active; the caller never
// swaps it in.
func NewSchemaValidationError(path string, err error) *LoadError {
	return &LoadError{Category: CategorySchemaValidation, Path: path, Err: err}
}

// NewIdentityError builds a LoadError for a bundle referencing an unknown
// principal or resource entity shape.
func NewIdentityError(path string, err error) *LoadError {
	return &LoadError{Category: CategoryIdentityError, Path: path, Err: err}
}

// NewCedarError builds a LoadError for a rule whose condition failed to
// compile against the authorization expression backend.
func NewCedarError(path string, err error) *LoadError {
	return &LoadError{Category: CategoryCedarError, Path: path, Err: err}
}
