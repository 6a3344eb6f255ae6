package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termgate/termgate/internal/infrastructure/logging"
)

// Tests in this file need a live Redis; set REDIS_ADDR to run them.
func redisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	prefix := "termgate:test:" + uuid.NewString() + ":"
	store := NewRedis(client, logging.NewNop(),
		WithKeyPrefix(prefix),
		WithTTL(time.Minute),
	)
	return store
}

func TestRedisRoundTrip(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := store.CreateIfAbsent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Revision)

	s.WorkingDir = "/srv"
	s.Env["TERM"] = "xterm"
	require.NoError(t, store.PutIfRevision(ctx, s, 1))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "/srv", got.WorkingDir)
	assert.Equal(t, "xterm", got.Env["TERM"])
	assert.Equal(t, uint64(2), got.Revision)

	require.NoError(t, store.Delete(ctx, "alice"))
	_, err = store.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisRevisionConflict(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	s, err := store.CreateIfAbsent(ctx, "bob")
	require.NoError(t, err)

	first := s.Clone()
	first.WorkingDir = "/first"
	require.NoError(t, store.PutIfRevision(ctx, first, 1))

	second := s.Clone()
	second.WorkingDir = "/second"
	err = store.PutIfRevision(ctx, second, 1)
	assert.ErrorIs(t, err, ErrRevisionConflict)

	got, err := store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "/first", got.WorkingDir)
}

func TestRedisScan(t *testing.T) {
	store := redisStore(t)
	ctx := context.Background()

	for _, uid := range []string{"s1", "s2", "s3"} {
		_, err := store.CreateIfAbsent(ctx, uid)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	err := store.Scan(ctx, func(s *Session) bool {
		seen[s.UserID] = true
		return true
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}
