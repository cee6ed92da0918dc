package chat

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input rejection made locally,
// before any network call.
var ErrValidation = errors.New("validation error")

var (
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", ErrValidation)
	ErrEmptyTitle   = fmt.Errorf("%w: title is empty", ErrValidation)
	ErrBadRole      = fmt.Errorf("%w: role must be user or assistant", ErrValidation)
	ErrMissingTime  = fmt.Errorf("%w: message time is required", ErrValidation)

	ErrChatNotFound = errors.New("chat not found")
	ErrTurnInFlight = errors.New("a reply is already being generated")
)

// PersistenceError reports a failed call to the Persister.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GenerationError reports an in-band or transport failure of the
// generation call.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Message
}

func (e *GenerationError) Unwrap() error { return e.Err }
