// Package errs defines the error taxonomy shared by every warren component.
//
// Callers match on the sentinel values with errors.Is. Operations return
// *Error values that carry the attempted operation and the resource they
// touched so the failure can be logged and a retry decision made.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for warren operations.
var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrNotFound          = errors.New("not found")
	ErrLockTimeout       = errors.New("lock timeout")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStorage           = errors.New("storage error")

	// ErrInvalidKind and ErrMessageTooLong are validation errors.
	ErrInvalidKind    = fmt.Errorf("%w: invalid kind", ErrValidation)
	ErrMessageTooLong = fmt.Errorf("%w: message too long", ErrValidation)
)

// Error annotates a failure with the operation and resource involved.
type Error struct {
	Op       string // e.g. "queue.claim"
	Resource string // e.g. "queued_files"
	ID       string // channel, file, or agent id when known
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Resource != "" {
		b.WriteString(" ")
		b.WriteString(e.Resource)
	}
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with operation context. It returns nil when err is nil so
// call sites can wrap unconditionally. An existing *Error is not wrapped
// twice; the innermost context is the most precise.
func E(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, Resource: resource, ID: id, Err: err}
}

// Validation returns a ValidationError with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns a NotFoundError naming the missing thing.
func NotFound(what, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, what, id)
}

// Transition returns an InvalidTransitionError between two states.
func Transition(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Storage marks err as a backend failure. Errors that already carry a
// taxonomy sentinel are returned unchanged.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// Classified reports whether err already matches one of the sentinels.
func Classified(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrDuplicateName, ErrNotFound,
		ErrLockTimeout, ErrInvalidTransition, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Retryable reports whether the caller may retry the operation. Only lock
// timeouts are transient; everything else needs a different input.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
