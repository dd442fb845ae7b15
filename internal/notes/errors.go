package notes

import (
	"errors"
	"fmt"
)

var (
	// ErrNoteNotFound indicates that no record exists for the referenced note id.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrSettingNotFound indicates that the settings bag has no value for a key.
	ErrSettingNotFound = errors.New("notes: setting not found")
	// ErrValidation marks malformed input rejected before touching storage.
	ErrValidation = errors.New("notes: validation failed")
	// ErrStore marks an underlying persistence failure.
	ErrStore = errors.New("notes: store failure")
	// ErrStoreClosed indicates that the store no longer accepts operations.
	ErrStoreClosed = errors.New("notes: store closed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a dotted machine-readable code, the error kind it belongs to,
// and the underlying cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches the error kind so callers can use errors.Is(err, ErrStore).
func (e *ServiceError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

func newStoreError(operation, reason string, cause error) error {
	return newServiceError(operation, reason, ErrStore, cause)
}

// NewNotFoundError reports that the operation referenced a note with no record.
func NewNotFoundError(operation, noteID string) error {
	return newServiceError(operation, "not_found", ErrNoteNotFound, fmt.Errorf("note %q does not exist", noteID))
}

// ValidationError describes malformed input at the command boundary.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

// NewValidationError constructs a ValidationError for the offending field and value.
func NewValidationError(field, value, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Code returns the machine-readable code for the validation failure.
func (e *ValidationError) Code() string {
	return fmt.Sprintf("notes.validation.invalid_%s", e.Field)
}
