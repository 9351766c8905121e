package core

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrMalformed     = errors.New("malformed syntax")
	ErrInvalidPath   = errors.New("invalid document path")
	ErrReadOnly      = errors.New("repository is in read-only mode")
	ErrInvalidQuery  = errors.New("invalid jsonpath")
)

// ValidationError is returned when a write is rejected by the schema gate.
// It carries every violation found, never just the first one.
type ValidationError struct {
	Errors []FieldError
	// Cause is ErrMalformed when the content could not be parsed at all.
	Cause error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Path == "" {
			msgs = append(msgs, fe.Message)
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s (%s)", fe.Message, fe.Path))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// MalformedError builds the validation error reported for unparsable content.
func MalformedError(cause error) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Path: "", Message: ErrMalformed.Error()}},
		Cause:  fmt.Errorf("%w: %v", ErrMalformed, cause),
	}
}

// StorageError wraps an I/O failure of the underlying store.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
