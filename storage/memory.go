package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	entities map[string]types.Entity
	mu       sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]types.Entity),
	}
}

// Load retrieves a content record from memory.
func (s *MemoryStore) Load(ctx context.Context, contentID string) (types.Entity, error) {
	return withContext(ctx, func() (types.Entity, error) {
		if contentID == "" {
			return types.Entity{}, ErrInvalidID
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		ent, ok := s.entities[contentID]
		if !ok {
			return types.Entity{}, fmt.Errorf("%w: content_id=%s", ErrNotFound, contentID)
		}
		return clone(ent), nil
	})
}

// Append commits a transition record under a single lock.
func (s *MemoryStore) Append(ctx context.Context, contentID string, expected types.WorkflowState, rec types.StateTransition) (types.Entity, error) {
	return withContext(ctx, func() (types.Entity, error) {
		if contentID == "" {
			return types.Entity{}, ErrInvalidID
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		ent, ok := s.entities[contentID]
		if !ok {
			ent = types.NewEntity(contentID)
		}
		next, err := apply(ent, expected, rec)
		if err != nil {
			return types.Entity{}, fmt.Errorf("%w: content_id=%s expected=%s actual=%s", err, contentID, expected, ent.State)
		}
		s.entities[contentID] = next
		return clone(next), nil
	})
}

// ClearArchived removes archived content records.
func (s *MemoryStore) ClearArchived(ctx context.Context) (int, error) {
	return withContext(ctx, func() (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		removed := 0
		for id, ent := range s.entities {
			if ent.State == types.StateArchived {
				delete(s.entities, id)
				removed++
			}
		}
		return removed, nil
	})
}

func clone(ent types.Entity) types.Entity {
	history := make([]types.StateTransition, len(ent.History))
	copy(history, ent.History)
	ent.History = history
	return ent
}
