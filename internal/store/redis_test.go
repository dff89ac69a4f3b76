package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

func openTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisRoundTrip(t *testing.T) {
	s, _ := openTestRedis(t)
	ctx := context.Background()

	in := sampleResult("alice@example.com", models.ReachabilitySafe)
	require.NoError(t, s.Upsert(ctx, in))

	out, err := s.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", out.Email)
	assert.Equal(t, models.ReachabilitySafe, out.Reachability)
	require.NotNil(t, out.IsDeliverable)
	assert.True(t, *out.IsDeliverable)
	assert.Equal(t, in.VerifiedAt, out.VerifiedAt)
	assert.Equal(t, time.UTC, out.VerifiedAt.Location())
}

func TestRedisLookupMissing(t *testing.T) {
	s, _ := openTestRedis(t)

	_, err := s.Lookup(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisKeysAreNamespacedAndExpire(t *testing.T) {
	s, mr := openTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, sampleResult("Alice@Example.com", models.ReachabilitySafe)))

	key := "kadenverify:verified:alice@example.com"
	require.True(t, mr.Exists(key), "expected key %q, have %v", key, mr.Keys())
	assert.Equal(t, 30*24*time.Hour, mr.TTL(key))

	mr.FastForward(31 * 24 * time.Hour)
	_, err := s.Lookup(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisUpsertBatch(t *testing.T) {
	s, _ := openTestRedis(t)
	ctx := context.Background()

	var results []*models.VerificationResult
	for i := 0; i < 7; i++ {
		results = append(results, sampleResult(fmt.Sprintf("user%d@example.com", i), models.ReachabilityRisky))
	}

	written, err := s.UpsertBatch(ctx, results, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, written)

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRedisCountFilters(t *testing.T) {
	s, _ := openTestRedis(t)
	seedMixed(t, s)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int64
	}{
		{"all", Filter{}, 4},
		{"by reachability", Filter{Reachability: "invalid"}, 1},
		{"by domain", Filter{Domain: "one.com"}, 2},
		{"catch-all true", Filter{IsCatchAll: models.Bool(true)}, 1},
		{"disposable true", Filter{IsDisposable: models.Bool(true)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.Count(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestRedisQuery(t *testing.T) {
	s, _ := openTestRedis(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), QuerySpec{
		Select:  []string{"email", "reachability"},
		OrderBy: "email",
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b@one.com", rows[0]["email"])
	assert.Equal(t, "c@two.com", rows[1]["email"])
	_, hasDomain := rows[0]["domain"]
	assert.False(t, hasDomain)
}

func TestRedisQueryDescending(t *testing.T) {
	s, _ := openTestRedis(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), QuerySpec{
		Select:  []string{"email"},
		OrderBy: "email",
		Desc:    true,
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d@three.com", rows[0]["email"])
}

func TestRedisStats(t *testing.T) {
	s, _ := openTestRedis(t)
	seedMixed(t, s)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.ByReachability["safe"])
	assert.Equal(t, int64(1), stats.CatchAllCount)
	assert.Equal(t, int64(1), stats.DisposableCount)
	require.NotEmpty(t, stats.TopDomains)
	assert.Equal(t, "one.com", stats.TopDomains[0].Domain)
	assert.Equal(t, int64(2), stats.TopDomains[0].Count)
}

func TestRedisPing(t *testing.T) {
	s, mr := openTestRedis(t)

	assert.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestOpenRedisRejectsBadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-url://%%")
	assert.Error(t, err)

	_, err = OpenRedis(context.Background(), "")
	assert.Error(t, err)
}
