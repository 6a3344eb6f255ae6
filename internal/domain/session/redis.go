package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/infrastructure/logging"
	"github.com/termgate/termgate/internal/infrastructure/resilience"
)

const defaultKeyPrefix = "termgate:session:"

// RedisStore is the production Store backed by Redis. Optimistic concurrency
// is implemented with WATCH/MULTI transactions keyed on the session record;
// a circuit breaker guards the connection so a dead store fails fast with
// ErrStoreUnavailable instead of stalling every delivery.
type RedisStore struct {
	client    *redis.Client
	breaker   *resilience.Breaker
	keyPrefix string
	ttl       time.Duration
	logger    *logging.Logger
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets a time-to-live applied on every write. Zero means no expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) { r.ttl = ttl }
}

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) { r.keyPrefix = prefix }
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redis.Client, logger *logging.Logger, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.breaker = resilience.New("session-store", resilience.Settings{
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("store breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return r
}

func (r *RedisStore) key(userID string) string {
	return r.keyPrefix + userID
}

// do runs op through the breaker. Business outcomes (ErrNotFound,
// ErrRevisionConflict) pass through without tripping it; everything else is
// an infrastructure failure surfaced as ErrStoreUnavailable.
func (r *RedisStore) do(op func() error) error {
	var bizErr error
	err := r.breaker.Execute(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRevisionConflict) {
			bizErr = err
			return nil
		}
		return err
	})
	if bizErr != nil {
		return bizErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	var sess *Session
	err := r.do(func() error {
		raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("corrupt session record for %s: %v", userID, err)
		}
		sess = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateIfAbsent implements Store.
func (r *RedisStore) CreateIfAbsent(ctx context.Context, userID string) (*Session, error) {
	fresh := New(userID)
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	var created bool
	err = r.do(func() error {
		ok, err := r.client.SetNX(ctx, r.key(userID), data, r.ttl).Result()
		if err != nil {
			return err
		}
		created = ok
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		return fresh, nil
	}
	return r.Get(ctx, userID)
}

// PutIfRevision implements Store.
func (r *RedisStore) PutIfRevision(ctx context.Context, s *Session, expected uint64) error {
	key := r.key(s.UserID)

	return r.do(func() error {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			var cur Session
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("corrupt session record for %s: %v", s.UserID, err)
			}
			if cur.Revision != expected {
				return ErrRevisionConflict
			}

			next := s.Clone()
			next.Revision = expected + 1
			data, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, r.ttl)
				return nil
			})
			return err
		}, key)

		// The key changed between WATCH and EXEC: somebody else wrote it.
		if errors.Is(err, redis.TxFailedErr) {
			return ErrRevisionConflict
		}
		return err
	})
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	return r.do(func() error {
		return r.client.Del(ctx, r.key(userID)).Err()
	})
}

// Scan implements Store.
func (r *RedisStore) Scan(ctx context.Context, fn func(*Session) bool) error {
	return r.do(func() error {
		iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			raw, err := r.client.Get(ctx, iter.Val()).Bytes()
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			if err != nil {
				return err
			}
			var s Session
			if err := json.Unmarshal(raw, &s); err != nil {
				r.logger.Warn("skipping corrupt session record", zap.String("key", iter.Val()))
				continue
			}
			if !fn(&s) {
				return nil
			}
		}
		return iter.Err()
	})
}

// Ping verifies connectivity to Redis.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.do(func() error {
		return r.client.Ping(ctx).Err()
	})
}
