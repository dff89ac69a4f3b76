// Package metrics keeps in-process counters for the HTTP surface and the
// verification pipeline. Latency is held in bounded rings so a long-lived
// process reports recent percentiles instead of a lifetime average, and
// the snapshot is plain JSON for scraping without a metrics stack.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MaxLatencySamples bounds each latency ring. Old samples are overwritten
// once the ring is full.
const MaxLatencySamples = 2000

type ring struct {
	samples []float64
	next    int
}

func (r *ring) add(v float64) {
	if len(r.samples) < MaxLatencySamples {
		r.samples = append(r.samples, v)
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % MaxLatencySamples
}

// percentile expects sorted input. Index choice matches the nearest-rank
// method on len-1 so p=1.0 is exactly the max.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return round(sorted[idx], 2)
}

func round(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// LatencySummary is the scrape shape for one latency ring.
type LatencySummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type EnrichmentStats struct {
	Events        int64   `json:"events"`
	TotalSpendUSD float64 `json:"total_spend_usd"`
}

// Snapshot is the full scrape payload.
type Snapshot struct {
	RequestsTotal      int64                     `json:"requests_total"`
	StatusCodes        map[string]int64          `json:"status_codes"`
	EndpointLatencyMs  map[string]LatencySummary `json:"endpoint_latency_ms"`
	TierDistribution   map[string]int64          `json:"tier_distribution"`
	TierLatencyMs      map[string]LatencySummary `json:"tier_latency_ms"`
	Cache              CacheStats                `json:"cache"`
	SmtpFailureReasons map[string]int64          `json:"smtp_failure_reasons"`
	RateLimited429     int64                     `json:"rate_limited_429"`
	Enrichment         EnrichmentStats           `json:"enrichment"`
}

// Registry accumulates counters. All methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	requests        int64
	statusCounts    map[int]int64
	endpointCounts  map[string]int64
	endpointLatency map[string]*ring
	tierCounts      map[int]int64
	tierLatency     map[int]*ring
	cacheHits       int64
	cacheMisses     int64
	rateLimited     int64
	smtpFailures    map[string]int64
	enrichEvents    int64
	enrichSpendUSD  float64
}

func NewRegistry() *Registry {
	return &Registry{
		statusCounts:    make(map[int]int64),
		endpointCounts:  make(map[string]int64),
		endpointLatency: make(map[string]*ring),
		tierCounts:      make(map[int]int64),
		tierLatency:     make(map[int]*ring),
		smtpFailures:    make(map[string]int64),
	}
}

// ObserveRequest records one served HTTP request under its route label.
func (r *Registry) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	r.statusCounts[status]++
	r.endpointCounts[endpoint]++
	lat := r.endpointLatency[endpoint]
	if lat == nil {
		lat = &ring{}
		r.endpointLatency[endpoint] = lat
	}
	lat.add(float64(elapsed) / float64(time.Millisecond))
}

// ObserveTier records which tier settled a verification and how long the
// whole call took.
func (r *Registry) ObserveTier(tier int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tierCounts[tier]++
	lat := r.tierLatency[tier]
	if lat == nil {
		lat = &ring{}
		r.tierLatency[tier] = lat
	}
	lat.add(float64(elapsed) / float64(time.Millisecond))
}

func (r *Registry) CacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

func (r *Registry) CacheMiss() {
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

func (r *Registry) RateLimited() {
	r.mu.Lock()
	r.rateLimited++
	r.mu.Unlock()
}

// SMTPFailure tallies one non-deliverable outcome under a coarse reason
// label such as smtp_5xx_rejection or dns_no_mx.
func (r *Registry) SMTPFailure(reason string) {
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.smtpFailures[reason]++
	r.mu.Unlock()
}

// Enrichment records one spend-bearing enrichment chain run. Zero-cost
// lookups do not count as spend events.
func (r *Registry) Enrichment(costUSD float64) {
	if costUSD <= 0 {
		return
	}
	r.mu.Lock()
	r.enrichEvents++
	r.enrichSpendUSD += costUSD
	r.mu.Unlock()
}

// summarize reports the lifetime observation count alongside percentiles
// computed over the retained ring.
func summarize(lat *ring, total int64) LatencySummary {
	sorted := make([]float64, len(lat.samples))
	copy(sorted, lat.samples)
	sort.Float64s(sorted)
	return LatencySummary{
		Count: int(total),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
	}
}

// Snapshot copies every counter out under the lock. The returned maps are
// fresh; callers may mutate or marshal them freely.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		RequestsTotal:      r.requests,
		StatusCodes:        make(map[string]int64, len(r.statusCounts)),
		EndpointLatencyMs:  make(map[string]LatencySummary, len(r.endpointLatency)),
		TierDistribution:   make(map[string]int64, len(r.tierCounts)),
		TierLatencyMs:      make(map[string]LatencySummary, len(r.tierLatency)),
		SmtpFailureReasons: make(map[string]int64, len(r.smtpFailures)),
		RateLimited429:     r.rateLimited,
		Cache: CacheStats{
			Hits:   r.cacheHits,
			Misses: r.cacheMisses,
		},
		Enrichment: EnrichmentStats{
			Events:        r.enrichEvents,
			TotalSpendUSD: round(r.enrichSpendUSD, 6),
		},
	}

	for code, n := range r.statusCounts {
		snap.StatusCodes[strconv.Itoa(code)] = n
	}
	for endpoint, lat := range r.endpointLatency {
		snap.EndpointLatencyMs[endpoint] = summarize(lat, r.endpointCounts[endpoint])
	}
	for tier, n := range r.tierCounts {
		snap.TierDistribution[strconv.Itoa(tier)] = n
	}
	for tier, lat := range r.tierLatency {
		snap.TierLatencyMs[strconv.Itoa(tier)] = summarize(lat, r.tierCounts[tier])
	}
	for reason, n := range r.smtpFailures {
		snap.SmtpFailureReasons[reason] = n
	}

	if total := r.cacheHits + r.cacheMisses; total > 0 {
		snap.Cache.HitRate = round(float64(r.cacheHits)/float64(total), 4)
	}
	return snap
}
