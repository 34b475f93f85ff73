package errors

import (
	"fmt"
	"strings"
)

// NotFoundError represents a record that vanished between read and use,
// typically because of a concurrent deletion. Callers may retry.
type NotFoundError struct {
	Kind string
	ID   string
}

func (err NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", err.Kind, err.ID)
}

// ValidationError represents input that was rejected before any side
// effect took place. Nothing is retried.
type ValidationError struct {
	Reason string
}

func (err ValidationError) Error() string {
	return err.Reason
}

// NewValidationError creates a ValidationError from a format string.
func NewValidationError(format string, args ...interface{}) error {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when removing an Alternative raced a
// concurrent mirror addition. NewMirrorIDs lists the mirrors that were
// added after the caller took its snapshot, so the caller can decide to
// retry deterministically.
type ConflictError struct {
	AlternativeID string
	NewMirrorIDs  []string
}

func (err ConflictError) Error() string {
	return fmt.Sprintf("alternative %q changed during removal: new mirrors [%s]",
		err.AlternativeID, strings.Join(err.NewMirrorIDs, ", "))
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}
