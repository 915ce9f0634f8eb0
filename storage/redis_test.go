package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

// setupRedisStore creates a test Redis store backed by miniredis
func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	t.Run("NewRedisStore", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		assert.NotNil(t, store.client)
		assert.Equal(t, defaultKeyPrefix, store.prefix)

		// Test connection failure
		_, err := NewRedisStore(RedisOptions{Addr: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("AppendAndLoad", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		ctx := context.Background()

		_, err := store.Load(ctx, "c1")
		assert.ErrorIs(t, err, ErrNotFound)

		rec := newTransition(1, types.StateDraft, types.StateReview, types.EventSubmitForReview)
		ent, err := store.Append(ctx, "c1", types.StateDraft, rec)
		require.NoError(t, err)
		assert.Equal(t, types.StateReview, ent.State)
		assert.True(t, mr.Exists("content:c1"))

		got, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, types.StateReview, got.State)
		require.Len(t, got.History, 1)
		assert.Equal(t, rec.Event, got.History[0].Event)
		assert.True(t, rec.Timestamp.Equal(got.History[0].Timestamp))
	})

	t.Run("AppendConflict", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		ctx := context.Background()

		_, err := store.Append(ctx, "c1", types.StateDraft, newTransition(1, types.StateDraft, types.StateReview, types.EventSubmitForReview))
		require.NoError(t, err)

		_, err = store.Append(ctx, "c1", types.StateDraft, newTransition(2, types.StateDraft, types.StateReview, types.EventSubmitForReview))
		assert.ErrorIs(t, err, ErrStateConflict)

		got, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, got.History, 1)
	})

	t.Run("AppendWatchConflict", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		ctx := context.Background()
		other := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
		defer other.Close()

		// Another writer commits between our read and our EXEC.
		store.watched = func(ctx context.Context, key string) {
			_, err := other.Append(ctx, "c1", types.StateDraft, newTransition(7, types.StateDraft, types.StateReview, types.EventSubmitForReview))
			assert.NoError(t, err)
		}

		_, err := store.Append(ctx, "c1", types.StateDraft, newTransition(1, types.StateDraft, types.StateReview, types.EventSubmitForReview))
		assert.ErrorIs(t, err, ErrStateConflict)

		got, err := other.Load(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, got.History, 1)
		assert.Equal(t, uint64(7), got.History[0].ID)
	})

	t.Run("InvalidID", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		_, err := store.Load(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("CustomPrefix", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store := NewRedisStoreFromClient(client, "cms:")
		defer store.Close()

		_, err := store.Append(context.Background(), "c9", types.StateDraft, newTransition(1, types.StateDraft, types.StateReview, types.EventSubmitForReview))
		require.NoError(t, err)
		assert.True(t, mr.Exists("cms:c9"))
	})

	t.Run("ClearArchived", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		ctx := context.Background()

		_, err := store.Append(ctx, "live", types.StateDraft, newTransition(1, types.StateDraft, types.StateReview, types.EventSubmitForReview))
		require.NoError(t, err)
		_, err = store.Append(ctx, "gone", types.StateDraft, newTransition(2, types.StateDraft, types.StateArchived, types.EventArchive))
		require.NoError(t, err)

		removed, err := store.ClearArchived(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.Load(ctx, "live")
		assert.NoError(t, err)
		_, err = store.Load(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ClearArchivedSkipsRestored", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		ctx := context.Background()
		other := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
		defer other.Close()

		_, err := store.Append(ctx, "c1", types.StateDraft, newTransition(1, types.StateDraft, types.StateArchived, types.EventArchive))
		require.NoError(t, err)
		_, err = store.Append(ctx, "c2", types.StateDraft, newTransition(2, types.StateDraft, types.StateArchived, types.EventArchive))
		require.NoError(t, err)

		// c1 is rolled back to published after ClearArchived has read it.
		store.watched = func(ctx context.Context, key string) {
			if key != "content:c1" {
				return
			}
			_, err := other.Append(ctx, "c1", types.StateArchived, newTransition(3, types.StateArchived, types.StatePublished, types.EventRollback))
			assert.NoError(t, err)
		}

		removed, err := store.ClearArchived(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		got, err := store.Load(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, types.StatePublished, got.State)
		assert.Len(t, got.History, 2)
		_, err = store.Load(ctx, "c2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.Load(ctx, "c1")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.Append(ctx, "c1", types.StateDraft, newTransition(1, types.StateDraft, types.StateReview, types.EventSubmitForReview))
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.ClearArchived(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
