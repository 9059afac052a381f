//go:build integration

package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProgressStore(t *testing.T) *ProgressStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewProgressStore(rdb, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Health(ctx); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	return store
}

func TestProgressStore_SetGet(t *testing.T) {
	store := newTestProgressStore(t)
	ctx := context.Background()
	id := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { store.rdb.Del(context.Background(), progressKey(id)) })

	p, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, store.Set(ctx, id, Progress{Stage: "chunking", Percent: 25}))
	require.NoError(t, store.Set(ctx, id, Progress{Stage: "provisioning", Percent: 35}))

	p, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "provisioning", p.Stage)
	assert.Equal(t, 35, p.Percent)
	assert.False(t, p.UpdatedAt.IsZero())

	ttl, err := store.rdb.TTL(ctx, progressKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
