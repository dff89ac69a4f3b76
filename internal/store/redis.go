package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

const (
	redisKeyPrefix = "kadenverify:verified:"
	redisTTL       = 30 * 24 * time.Hour
	redisScanCount = 500

	// Aggregations walk the keyspace; cap the walk so a huge cache cannot
	// stall a stats call.
	redisScanLimit = 100_000
)

// Redis keeps each result as a JSON blob under its own key. Entries carry
// the cache TTL and age out on their own, so there is no sweeping to do.
type Redis struct {
	client *redis.Client
}

func OpenRedis(ctx context.Context, redisURL string) (*Redis, error) {
	if redisURL == "" {
		return nil, errors.New("store: redis backend needs a URL")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping failed: %w", err)
	}

	logger.Info("redis store ready")
	return &Redis{client: client}, nil
}

func redisKey(email string) string {
	return redisKeyPrefix + normalizeEmailKey(email)
}

func (s *Redis) Lookup(ctx context.Context, email string) (*models.VerificationResult, error) {
	raw, err := s.client.Get(ctx, redisKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup: %w", err)
	}

	var r models.VerificationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("store: corrupt entry for key: %w", err)
	}
	r.VerifiedAt = r.VerifiedAt.UTC()
	return &r, nil
}

func (s *Redis) Upsert(ctx context.Context, result *models.VerificationResult) error {
	payload, err := marshalResult(result)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(result.Email), payload, redisTTL).Err(); err != nil {
		return fmt.Errorf("store: upsert: %w", err)
	}
	return nil
}

func (s *Redis) UpsertBatch(ctx context.Context, results []*models.VerificationResult, chunk int) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	if chunk <= 0 {
		chunk = DefaultUpsertChunk
	}

	written := 0
	for start := 0; start < len(results); start += chunk {
		end := start + chunk
		if end > len(results) {
			end = len(results)
		}

		pipe := s.client.Pipeline()
		for _, r := range results[start:end] {
			payload, err := marshalResult(r)
			if err != nil {
				return written, err
			}
			pipe.Set(ctx, redisKey(r.Email), payload, redisTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return written, fmt.Errorf("store: batch upsert: %w", err)
		}
		written += end - start
	}
	return written, nil
}

func marshalResult(r *models.VerificationResult) ([]byte, error) {
	clone := *r
	clone.Email = normalizeEmailKey(r.Email)
	clone.VerifiedAt = r.VerifiedAt.UTC()
	payload, err := json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("store: marshal result: %w", err)
	}
	return payload, nil
}

// scan walks the key namespace and hands each decoded result to fn. fn
// returns false to stop early.
func (s *Redis) scan(ctx context.Context, fn func(*models.VerificationResult) bool) error {
	var cursor uint64
	seen := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("store: scan: %w", err)
		}

		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("store: scan mget: %w", err)
			}
			for _, v := range vals {
				raw, ok := v.(string)
				if !ok {
					continue // expired between SCAN and MGET
				}
				var r models.VerificationResult
				if err := json.Unmarshal([]byte(raw), &r); err != nil {
					continue
				}
				if !fn(&r) {
					return nil
				}
			}
			seen += len(keys)
			if seen >= redisScanLimit {
				logger.Warn("redis scan truncated", "limit", redisScanLimit)
				return nil
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func matchesFilter(r *models.VerificationResult, f Filter) bool {
	if f.Reachability != "" && string(r.Reachability) != f.Reachability {
		return false
	}
	if f.Domain != "" && r.Domain != strings.ToLower(f.Domain) {
		return false
	}
	if f.IsCatchAll != nil && (r.IsCatchAll == nil || *r.IsCatchAll != *f.IsCatchAll) {
		return false
	}
	if f.IsDisposable != nil && r.IsDisposable != *f.IsDisposable {
		return false
	}
	return true
}

func (s *Redis) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	err := s.scan(ctx, func(r *models.VerificationResult) bool {
		if matchesFilter(r, f) {
			n++
		}
		return true
	})
	return n, err
}

func (s *Redis) Query(ctx context.Context, spec QuerySpec) ([]Row, error) {
	cols, err := validSelect(spec.Select)
	if err != nil {
		return nil, err
	}
	orderCol, err := validOrder(spec.OrderBy)
	if err != nil {
		return nil, err
	}

	var matched []*models.VerificationResult
	err = s.scan(ctx, func(r *models.VerificationResult) bool {
		if matchesFilter(r, spec.Filter) {
			matched = append(matched, r)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if spec.Desc {
			i, j = j, i
		}
		return resultLess(matched[i], matched[j], orderCol)
	})

	if spec.Offset > 0 {
		if spec.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[spec.Offset:]
		}
	}
	if spec.Limit > 0 && len(matched) > spec.Limit {
		matched = matched[:spec.Limit]
	}

	out := make([]Row, 0, len(matched))
	for _, r := range matched {
		out = append(out, projectRow(r, cols))
	}
	return out, nil
}

func resultLess(a, b *models.VerificationResult, col string) bool {
	switch col {
	case "email":
		return a.Email < b.Email
	case "domain":
		return a.Domain < b.Domain
	case "reachability":
		return a.Reachability < b.Reachability
	case "smtp_code":
		return a.SmtpCode < b.SmtpCode
	default:
		return a.VerifiedAt.Before(b.VerifiedAt)
	}
}

// projectRow mirrors the column layout of the SQL backends so the op layer
// sees identical rows no matter which store is behind it.
func projectRow(r *models.VerificationResult, cols []string) Row {
	row := make(Row, len(cols))
	for _, c := range cols {
		switch c {
		case "email":
			row[c] = normalizeEmailKey(r.Email)
		case "normalized":
			row[c] = r.Normalized
		case "reachability":
			row[c] = string(r.Reachability)
		case "is_deliverable":
			row[c] = r.IsDeliverable
		case "is_catch_all":
			row[c] = r.IsCatchAll
		case "is_disposable":
			row[c] = r.IsDisposable
		case "is_role":
			row[c] = r.IsRole
		case "is_free":
			row[c] = r.IsFree
		case "mx_host":
			row[c] = r.MxHost
		case "smtp_code":
			row[c] = r.SmtpCode
		case "smtp_message":
			row[c] = r.SmtpMessage
		case "provider":
			row[c] = string(r.Provider)
		case "domain":
			row[c] = r.Domain
		case "verified_at":
			row[c] = r.VerifiedAt.UTC()
		case "error":
			row[c] = r.Error
		}
	}
	return row
}

func (s *Redis) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByReachability: map[string]int64{}}
	domains := map[string]int64{}

	err := s.scan(ctx, func(r *models.VerificationResult) bool {
		stats.Total++
		stats.ByReachability[string(r.Reachability)]++
		if r.IsCatchAll != nil && *r.IsCatchAll {
			stats.CatchAllCount++
		}
		if r.IsDisposable {
			stats.DisposableCount++
		}
		if r.Domain != "" {
			domains[r.Domain]++
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	stats.TopDomains = topDomains(domains, 20)
	return stats, nil
}

func topDomains(counts map[string]int64, limit int) []DomainCount {
	out := make([]DomainCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, DomainCount{Domain: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
