package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/kadenwood/kadenverify/internal/models"
)

// MX records move rarely and catch-all posture even less often, so both are
// worth remembering across requests. The two facts expire independently.
const (
	MxTTL       = 24 * time.Hour
	CatchAllTTL = 7 * 24 * time.Hour
)

// entry is what verification has learned about one domain so far. A nil
// catchAll with catchAllAt set means the probe ran and was indeterminate,
// which is itself worth caching.
type entry struct {
	dns   *models.DnsInfo
	dnsAt time.Time

	catchAll   *bool
	catchAllAt time.Time
}

// DomainIntel is a thread-safe per-domain cache of MX results and catch-all
// verdicts.
type DomainIntel struct {
	mu      sync.Mutex
	entries map[string]*entry

	mxTTL       time.Duration
	catchAllTTL time.Duration

	now func() time.Time
}

// NewDomainIntel builds a cache with the production TTLs.
func NewDomainIntel() *DomainIntel {
	return &DomainIntel{
		entries:     make(map[string]*entry),
		mxTTL:       MxTTL,
		catchAllTTL: CatchAllTTL,
		now:         time.Now,
	}
}

func (c *DomainIntel) get(domain string) (*entry, string) {
	domain = strings.ToLower(domain)
	return c.entries[domain], domain
}

// GetDNS returns the cached MX result for a domain. Expired records are
// swept as they are touched.
func (c *DomainIntel) GetDNS(domain string) (models.DnsInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, _ := c.get(domain)
	if e == nil || e.dns == nil {
		return models.DnsInfo{}, false
	}
	if c.now().Sub(e.dnsAt) > c.mxTTL {
		e.dns = nil
		return models.DnsInfo{}, false
	}
	return *e.dns, true
}

// SetDNS caches an MX result.
func (c *DomainIntel) SetDNS(domain string, info models.DnsInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, key := c.get(domain)
	if e == nil {
		e = &entry{}
		c.entries[key] = e
	}
	e.dns = &info
	e.dnsAt = c.now()
}

// GetCatchAll returns the cached catch-all verdict and whether one is
// cached. The verdict itself may be nil: an indeterminate probe is a cached
// fact too, and prevents re-probing a server that will not answer.
func (c *DomainIntel) GetCatchAll(domain string) (*bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, _ := c.get(domain)
	if e == nil || e.catchAllAt.IsZero() {
		return nil, false
	}
	if c.now().Sub(e.catchAllAt) > c.catchAllTTL {
		e.catchAllAt = time.Time{}
		e.catchAll = nil
		return nil, false
	}
	return e.catchAll, true
}

// SetCatchAll caches a catch-all verdict, nil included.
func (c *DomainIntel) SetCatchAll(domain string, isCatchAll *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, key := c.get(domain)
	if e == nil {
		e = &entry{}
		c.entries[key] = e
	}
	e.catchAll = isCatchAll
	e.catchAllAt = c.now()
}

// Stats summarizes cache occupancy for the /stats endpoint.
type Stats struct {
	TotalDomains    int `json:"total_domains"`
	DnsCached       int `json:"dns_cached"`
	CatchAllCached  int `json:"catch_all_cached"`
	CatchAllDomains int `json:"catch_all_domains"`
}

// Stats counts live entries without disturbing them.
func (c *DomainIntel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s := Stats{TotalDomains: len(c.entries)}
	for _, e := range c.entries {
		if e.dns != nil && now.Sub(e.dnsAt) <= c.mxTTL {
			s.DnsCached++
		}
		if !e.catchAllAt.IsZero() && now.Sub(e.catchAllAt) <= c.catchAllTTL {
			s.CatchAllCached++
			if e.catchAll != nil && *e.catchAll {
				s.CatchAllDomains++
			}
		}
	}
	return s
}

// Clear drops every entry.
func (c *DomainIntel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// ClearExpired removes entries where both facts have lapsed. Returns how
// many were dropped.
func (c *DomainIntel) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for domain, e := range c.entries {
		dnsDead := e.dns == nil || now.Sub(e.dnsAt) > c.mxTTL
		catchAllDead := e.catchAllAt.IsZero() || now.Sub(e.catchAllAt) > c.catchAllTTL
		if dnsDead && catchAllDead {
			delete(c.entries, domain)
			removed++
		}
	}
	return removed
}
