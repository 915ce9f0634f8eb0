package storage

import (
	"context"
	"errors"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// Errors
var (
	// ErrNotFound is returned when a content item has no persisted workflow record.
	ErrNotFound = errors.New("content workflow record not found")
	// ErrStateConflict is returned by Append when the stored state no longer
	// matches the state the caller read.
	ErrStateConflict = errors.New("content workflow state changed concurrently")
	// ErrInvalidID is returned for an empty content id.
	ErrInvalidID = errors.New("content id is required")
)

// Store persists the current state and history of content items.
type Store interface {
	// Load returns the record for contentID, or ErrNotFound if it never transitioned.
	Load(ctx context.Context, contentID string) (types.Entity, error)

	// Append commits rec as the next history entry and sets the current state to
	// rec.To in one atomic step. The commit only happens if the current state
	// (InitialState for unseen items) equals expected; otherwise ErrStateConflict.
	Append(ctx context.Context, contentID string, expected types.WorkflowState, rec types.StateTransition) (types.Entity, error)

	// ClearArchived evicts every record whose current state is archived and
	// returns how many were removed.
	ClearArchived(ctx context.Context) (int, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// apply appends rec to ent after checking the expected state.
func apply(ent types.Entity, expected types.WorkflowState, rec types.StateTransition) (types.Entity, error) {
	if ent.State != expected {
		return types.Entity{}, ErrStateConflict
	}
	history := make([]types.StateTransition, len(ent.History), len(ent.History)+1)
	copy(history, ent.History)
	ent.History = append(history, rec)
	ent.State = rec.To
	ent.UpdatedAt = rec.Timestamp
	return ent, nil
}
