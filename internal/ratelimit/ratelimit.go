// Package ratelimit throttles verification endpoints per caller. The
// identity key blends client IP with a hashed API key so two tenants
// behind one NAT get separate budgets, while one tenant cannot widen its
// budget by rotating source ports.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

const (
	DefaultWindow = time.Minute
	DefaultMax    = 60

	keyPrefix = "kadenverify:rate_limit"
)

// Identity derives the throttling key for one caller. Unauthenticated
// callers share the "anonymous" budget per IP.
func Identity(ip, apiKey string) string {
	if apiKey == "" {
		apiKey = "anonymous"
	}
	sum := sha256.Sum256([]byte(apiKey))
	return ip + ":" + hex.EncodeToString(sum[:])[:16]
}

// Limiter answers whether one more request fits inside the caller's
// budget. Implementations never return an error for an over-limit caller;
// errors mean the limiter itself is broken.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

// Memory is a sliding-window limiter for single-process deployments. Every
// Allow call prunes expired stamps across all identities, so an abandoned
// caller's bucket disappears on the next request from anyone.
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time

	now func() time.Time
}

func NewMemory(window time.Duration, max int) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Memory{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	for id, stamps := range m.hits {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(m.hits, id)
			continue
		}
		m.hits[id] = kept
	}

	if len(m.hits[identity]) >= m.max {
		return false, nil
	}
	m.hits[identity] = append(m.hits[identity], m.now())
	return true, nil
}

// Redis is a fixed-window limiter shared across replicas. Each window is
// one INCR-counted key; keys expire shortly after their window closes so
// the keyspace stays flat. When redis is unreachable the limiter degrades
// to a per-process in-memory window rather than failing open or closed.
type Redis struct {
	client   *redis.Client
	window   time.Duration
	max      int
	fallback *Memory

	now func() time.Time
}

func NewRedis(client *redis.Client, window time.Duration, max int) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &Redis{
		client:   client,
		window:   window,
		max:      max,
		fallback: NewMemory(window, max),
		now:      time.Now,
	}
}

func (r *Redis) Allow(ctx context.Context, identity string) (bool, error) {
	windowSecs := int64(r.window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	bucket := r.now().Unix() / windowSecs
	key := fmt.Sprintf("%s:%d:%s", keyPrefix, bucket, identity)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		logger.Warn("redis rate limit unavailable, using in-memory window", "error", err)
		return r.fallback.Allow(ctx, identity)
	}
	if count == 1 {
		// Two extra seconds cover clock skew between replicas sharing
		// the window.
		if err := r.client.Expire(ctx, key, r.window+2*time.Second).Err(); err != nil {
			logger.Warn("rate limit key expire failed", "error", err)
		}
	}
	return count <= int64(r.max), nil
}
