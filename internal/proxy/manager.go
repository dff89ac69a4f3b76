package proxy

import (
	"fmt"
	"net/url"
	"sync/atomic"
)

// Manager rotates SMTP dials across a fixed list of outbound proxies.
// Verification traffic from one datacenter IP gets blacklisted quickly;
// spreading RCPT probes over SOCKS exits keeps any single address quiet.
type Manager struct {
	proxies []*url.URL
	counter uint64
	slots   chan struct{}
}

// New parses the proxy URL list and sets the concurrent dial slot limit.
// A limit of 0 defaults to one slot per proxy, or 10 when the list is empty.
func New(proxyList []string, limit int) (*Manager, error) {
	var parsed []*url.URL
	for _, p := range proxyList {
		if p == "" {
			continue
		}
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", p, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q: missing scheme or host", p)
		}
		parsed = append(parsed, u)
	}

	if limit <= 0 {
		limit = len(parsed)
		if limit == 0 {
			limit = 10
		}
	}

	return &Manager{
		proxies: parsed,
		slots:   make(chan struct{}, limit),
	}, nil
}

// Enabled reports whether any proxies are configured. A nil Manager is a
// valid dial-direct manager.
func (m *Manager) Enabled() bool {
	return m != nil && len(m.proxies) > 0
}

// Next returns the next proxy in round-robin order, nil when none are
// configured. Safe for concurrent use.
func (m *Manager) Next() *url.URL {
	if !m.Enabled() {
		return nil
	}
	n := atomic.AddUint64(&m.counter, 1)
	return m.proxies[(n-1)%uint64(len(m.proxies))]
}
