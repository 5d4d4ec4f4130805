/*
errors.go - Centralized error types for the claims engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Not-found: a claim reference or record does not exist
  2. Validation: missing fields, out-of-range percentages, missing documents
  3. Conflict: the case is locked by another officer
  4. Reference data: a required system parameter is absent
  5. Store errors: data-source failures, surfaced verbatim

USAGE:
  if errors.Is(err, generic.ErrCaseNotFound) {
      // "No claim found"
  }

  var verr *generic.ValidationError
  if errors.As(err, &verr) {
      // verr.Fields, verr.MissingDocuments
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
  - submission/validate.go: Builds ValidationError
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrCaseNotFound is returned when a claim reference matches no case.
	ErrCaseNotFound = errors.New("no claim found")

	// ErrValidation is returned when user input fails a business rule.
	ErrValidation = errors.New("validation failed")

	// ErrMissingDocuments is returned when mandatory documents are absent.
	ErrMissingDocuments = errors.New("mandatory documents missing")

	// ErrLockConflict is returned when another officer holds the case lock.
	ErrLockConflict = errors.New("case locked by another officer")

	// ErrReferenceData is returned when reference tables are incomplete.
	ErrReferenceData = errors.New("reference data incomplete")

	// ErrUnauthorized is returned when no staff identity is present.
	ErrUnauthorized = errors.New("unauthorized")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrValidation }

// ValidationError collects every failure of a submission so the officer
// sees all of them at once.
type ValidationError struct {
	Fields           []FieldError
	MissingDocuments []string
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) AddErr(err error) {
	var fe *FieldError
	if errors.As(err, &fe) {
		e.Fields = append(e.Fields, *fe)
		return
	}
	e.Fields = append(e.Fields, FieldError{Field: "input", Message: err.Error()})
}

// HasErrors reports whether anything was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0 || len(e.MissingDocuments) > 0
}

// OrNil returns nil when nothing was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields)+1)
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	if len(e.MissingDocuments) > 0 {
		parts = append(parts, "missing documents: "+strings.Join(e.MissingDocuments, ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrMissingDocuments:
		return len(e.MissingDocuments) > 0
	}
	return false
}

// LockConflictError names the officer currently holding a case.
type LockConflictError struct {
	IRN    IRN
	HeldBy StaffID
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("case %s is locked by %s", e.IRN, e.HeldBy)
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }

// MissingParameterError names an absent system parameter.
type MissingParameterError struct {
	Key string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("system parameter %q is not configured", e.Key)
}

func (e *MissingParameterError) Unwrap() error { return ErrReferenceData }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingDocuments)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCaseNotFound)
}

// IsConflict returns true if the error indicates a lock held elsewhere.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}
