package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
)

const defaultKeyPrefix = "content:"

// RedisStore is a Redis-backed implementation of the Store interface.
// Each content item is one JSON document; Append uses WATCH/MULTI so that
// processes sharing the same Redis cannot commit against a stale state.
type RedisStore struct {
	client *redis.Client
	prefix string
	// watched runs inside each WATCH callback after the key is read. Tests use
	// it to interleave a competing write.
	watched func(ctx context.Context, key string)
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	KeyPrefix    string
}

// NewRedisStore creates a new RedisStore instance with configurable options.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, opts.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client. An empty prefix selects "content:".
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getFromRedis retrieves and unmarshals the record stored under key.
func getFromRedis(ctx context.Context, g getter, key string) (types.Entity, error) {
	data, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Entity{}, fmt.Errorf("%w: key=%s", ErrNotFound, key)
	} else if err != nil {
		return types.Entity{}, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}

	var ent types.Entity
	if err := json.Unmarshal(data, &ent); err != nil {
		return types.Entity{}, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return ent, nil
}

func (s *RedisStore) key(contentID string) string {
	return s.prefix + contentID
}

// Load retrieves a content record from Redis.
func (s *RedisStore) Load(ctx context.Context, contentID string) (types.Entity, error) {
	return withContext(ctx, func() (types.Entity, error) {
		if contentID == "" {
			return types.Entity{}, ErrInvalidID
		}
		return getFromRedis(ctx, s.client, s.key(contentID))
	})
}

// Append commits a transition record inside an optimistic Redis transaction.
func (s *RedisStore) Append(ctx context.Context, contentID string, expected types.WorkflowState, rec types.StateTransition) (types.Entity, error) {
	return withContext(ctx, func() (types.Entity, error) {
		if contentID == "" {
			return types.Entity{}, ErrInvalidID
		}
		key := s.key(contentID)
		var committed types.Entity

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			ent, err := getFromRedis(ctx, tx, key)
			if errors.Is(err, ErrNotFound) {
				ent = types.NewEntity(contentID)
			} else if err != nil {
				return err
			}

			if s.watched != nil {
				s.watched(ctx, key)
			}

			next, err := apply(ent, expected, rec)
			if err != nil {
				return fmt.Errorf("%w: content_id=%s expected=%s actual=%s", err, contentID, expected, ent.State)
			}
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", key, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			if err != nil {
				return err
			}
			committed = next
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			return types.Entity{}, fmt.Errorf("%w: content_id=%s", ErrStateConflict, contentID)
		}
		if err != nil {
			return types.Entity{}, err
		}
		return committed, nil
	})
}

// ClearArchived removes archived content records from Redis. Each key is
// deleted in its own WATCH transaction that re-reads the state, so a record
// moved out of archived after the scan is left alone.
func (s *RedisStore) ClearArchived(ctx context.Context) (int, error) {
	removed := 0
	err := withContextError(ctx, func() error {
		var candidates []string
		iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			candidates = append(candidates, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan content keys: %w", err)
		}

		for _, key := range candidates {
			deleted, err := s.deleteIfArchived(ctx, key)
			if err != nil {
				return err
			}
			if deleted {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// deleteIfArchived deletes key only if it still holds an archived record when
// the transaction commits.
func (s *RedisStore) deleteIfArchived(ctx context.Context, key string) (bool, error) {
	deleted := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		ent, err := getFromRedis(ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		if ent.State != types.StateArchived {
			return nil
		}
		if s.watched != nil {
			s.watched(ctx, key)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return deleted, nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
