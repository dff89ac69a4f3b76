package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	sum := sha256.Sum256([]byte("secret"))
	want := "10.0.0.9:" + hex.EncodeToString(sum[:])[:16]
	assert.Equal(t, want, Identity("10.0.0.9", "secret"))

	// Missing key collapses to the shared anonymous budget for that IP.
	assert.Equal(t, Identity("10.0.0.9", "anonymous"), Identity("10.0.0.9", ""))

	// Same IP, different keys: separate budgets.
	assert.NotEqual(t, Identity("10.0.0.9", "alpha"), Identity("10.0.0.9", "beta"))
	// Same key, different IPs: separate budgets.
	assert.NotEqual(t, Identity("10.0.0.9", "alpha"), Identity("10.0.0.10", "alpha"))
}

func TestMemoryAllowsUpToMax(t *testing.T) {
	m := NewMemory(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := m.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySlidingWindow(t *testing.T) {
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute, 2)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "caller")
	assert.True(t, ok)
	clock = clock.Add(30 * time.Second)
	ok, _ = m.Allow(ctx, "caller")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "caller")
	assert.False(t, ok)

	// 31 seconds later the first stamp has slid out; one slot reopens.
	clock = clock.Add(31 * time.Second)
	ok, _ = m.Allow(ctx, "caller")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "caller")
	assert.False(t, ok)
}

func TestMemoryPrunesIdleIdentities(t *testing.T) {
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute, 5)
	m.now = func() time.Time { return clock }
	ctx := context.Background()

	m.Allow(ctx, "idle")
	m.Allow(ctx, "busy")
	require.Len(t, m.hits, 2)

	clock = clock.Add(2 * time.Minute)
	m.Allow(ctx, "busy")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.hits, 1)
	assert.Contains(t, m.hits, "busy")
}

func TestMemoryIndependentBudgets(t *testing.T) {
	m := NewMemory(time.Minute, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "alpha")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "alpha")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "beta")
	assert.True(t, ok)
}

func TestMemoryDefaults(t *testing.T) {
	m := NewMemory(0, 0)
	assert.Equal(t, DefaultWindow, m.window)
	assert.Equal(t, DefaultMax, m.max)
}

func openTestRedis(t *testing.T, window time.Duration, max int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, window, max), mr
}

func TestRedisFixedWindow(t *testing.T) {
	r, mr := openTestRedis(t, time.Minute, 2)
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	ctx := context.Background()

	ok, err := r.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = r.Allow(ctx, "caller")
	assert.True(t, ok)
	ok, _ = r.Allow(ctx, "caller")
	assert.False(t, ok)

	key := fmt.Sprintf("kadenverify:rate_limit:%d:caller", clock.Unix()/60)
	require.True(t, mr.Exists(key), "expected %q, have %v", key, mr.Keys())
	assert.Equal(t, time.Minute+2*time.Second, mr.TTL(key))

	// Next window, fresh counter.
	clock = clock.Add(time.Minute)
	ok, _ = r.Allow(ctx, "caller")
	assert.True(t, ok)
}

func TestRedisIndependentBudgets(t *testing.T) {
	r, _ := openTestRedis(t, time.Minute, 1)
	ctx := context.Background()

	ok, _ := r.Allow(ctx, "alpha")
	assert.True(t, ok)
	ok, _ = r.Allow(ctx, "alpha")
	assert.False(t, ok)
	ok, _ = r.Allow(ctx, "beta")
	assert.True(t, ok)
}

func TestRedisFallsBackWhenUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	r := NewRedis(client, time.Minute, 1)
	mr.Close()

	ctx := context.Background()

	// The budget still holds, enforced by the embedded memory window.
	ok, err := r.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, ok)
}
