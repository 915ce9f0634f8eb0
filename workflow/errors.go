package workflow

import (
	"errors"
	"fmt"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/storage"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// Standard error definitions. Use errors.Is for matching:
//
//	if errors.Is(err, workflow.ErrGuardRejected) { ... }
var (
	// ErrInvalidTransition is returned when the requested event has no edge
	// from the content item's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrGuardRejected is matched by every *GuardRejectedError.
	ErrGuardRejected = errors.New("guard rejected transition")

	// ErrRollbackTargetNotFound is returned when no history entry visited the
	// requested rollback state.
	ErrRollbackTargetNotFound = errors.New("rollback target not found in history")

	// ErrHandlerNotRegistered is returned by NewEngine when an edge names a
	// guard or action without a handler.
	ErrHandlerNotRegistered = errors.New("guard or action not registered")
)

// Error codes reported by Code.
const (
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeGuardRejected          = "GUARD_REJECTED"
	CodeRollbackTargetNotFound = "ROLLBACK_TARGET_NOT_FOUND"
	CodeStateConflict          = "STATE_CONFLICT"
	CodeInternal               = "INTERNAL"
)

// GuardRejectedError names the guard that stopped a transition.
type GuardRejectedError struct {
	Guard GuardName
	State types.WorkflowState
	Event types.Event
	// Cause is set when the guard failed with an error or panic instead of returning false.
	Cause error
}

func (e *GuardRejectedError) Error() string {
	msg := fmt.Sprintf("%s: %s refused %s from %s", ErrGuardRejected, e.Guard, e.Event, e.State)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is reports ErrGuardRejected as a match.
func (e *GuardRejectedError) Is(target error) bool {
	return target == ErrGuardRejected
}

// Unwrap returns the guard's own failure, if any.
func (e *GuardRejectedError) Unwrap() error {
	return e.Cause
}

// Code maps an engine error to its stable code, or "" for nil.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrGuardRejected):
		return CodeGuardRejected
	case errors.Is(err, ErrRollbackTargetNotFound):
		return CodeRollbackTargetNotFound
	case errors.Is(err, storage.ErrStateConflict):
		return CodeStateConflict
	default:
		return CodeInternal
	}
}
