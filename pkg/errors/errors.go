package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goerrors.New(msg)
}

// As is a convenience re-export so that callers don't need to import both
// this package and the standard library's errors package.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// ContextError wraps an error with a short description of the operation
// that failed. Chained contexts read outermost-first, e.g.
// "sync mirror: snapshot source: open: permission denied".
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap returns the wrapped error so that errors.Is and errors.As see
// through the context.
func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext annotates err with a short description of the failed
// operation.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// FriendlyError is an error with a message meant to be shown to the
// operator directly, without any "context: context: ..." chaining.
type FriendlyError struct {
	Message string
}

func (err FriendlyError) Error() string {
	return err.Message
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{Message: fmt.Sprintf(format, args...)}
}

// GetPrintableMessage returns the message that should be shown to the
// operator for the given error. FriendlyErrors are printed as-is, other
// errors with their full context chain.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if goerrors.As(err, &friendly) {
		return friendly.Message
	}
	return err.Error()
}
