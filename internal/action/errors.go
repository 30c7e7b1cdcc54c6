package action

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("action timed out")
	ErrHandlerPanic     = errors.New("handler panicked")
	ErrRegistryFrozen   = errors.New("handler registry is frozen")
	ErrDuplicateHandler = errors.New("handler already registered")
)

// HandlerNotFoundError is returned when an action type has no handler.
// It is a configuration error and never retried.
type HandlerNotFoundError struct {
	ActionType string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for action type %q", e.ActionType)
}

// ExecutionError describes a failed action after all attempts.
type ExecutionError struct {
	ActionType string
	Order      int
	Attempts   int
	Transient  bool
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed after %d attempt(s): %v", e.Order, e.ActionType, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
