package lookup

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kadenwood/kadenverify/internal/models"
)

// dnsTimeout bounds each DNS exchange. A slow authority must not stall the
// whole verification.
const dnsTimeout = 10 * time.Second

// Resolver answers MX questions for verification. Concurrent lookups for the
// same domain are collapsed through a singleflight group so a batch of 500
// addresses at one company costs a single query.
type Resolver struct {
	// Injectable for tests; NewResolver wires them to a real net.Resolver.
	lookupMX func(ctx context.Context, name string) ([]*net.MX, error)
	lookupIP func(ctx context.Context, host string) ([]net.IPAddr, error)

	group singleflight.Group
}

// NewResolver builds a Resolver backed by Go's built-in DNS client with a
// strict dial timeout.
func NewResolver() *Resolver {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: dnsTimeout}
			return d.DialContext(ctx, network, address)
		},
	}
	return &Resolver{
		lookupMX: r.LookupMX,
		lookupIP: r.LookupIPAddr,
	}
}

// LookupMX resolves the mail hosts for a domain. MX records are returned in
// ascending preference order; when the domain publishes none, A records are
// tried, then AAAA, and FromFallback is set. A domain with no answers at all
// comes back with HasMX=false rather than an error: that is a verification
// verdict, not a lookup failure.
func (r *Resolver) LookupMX(ctx context.Context, domain string) (models.DnsInfo, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))

	v, err, _ := r.group.Do(domain, func() (interface{}, error) {
		return r.resolve(ctx, domain), nil
	})
	if err != nil {
		return models.DnsInfo{Domain: domain, Provider: models.ProviderGeneric}, err
	}
	if ctx.Err() != nil {
		return models.DnsInfo{Domain: domain, Provider: models.ProviderGeneric}, ctx.Err()
	}
	return v.(models.DnsInfo), nil
}

func (r *Resolver) resolve(ctx context.Context, domain string) models.DnsInfo {
	info := models.DnsInfo{Domain: domain}

	if mxs, err := r.lookupMX(ctx, domain); err == nil && len(mxs) > 0 {
		sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })
		for _, mx := range mxs {
			host := strings.TrimSuffix(mx.Host, ".")
			if host != "" {
				info.MxHosts = append(info.MxHosts, host)
			}
		}
	}

	// No MX published. Plenty of small domains still accept mail on the
	// apex A/AAAA record, so fall back before declaring the domain dead.
	if len(info.MxHosts) == 0 {
		if addrs, err := r.lookupIP(ctx, domain); err == nil && len(addrs) > 0 {
			var v4, v6 []string
			for _, a := range addrs {
				if a.IP.To4() != nil {
					v4 = append(v4, a.IP.String())
				} else {
					v6 = append(v6, a.IP.String())
				}
			}
			if len(v4) > 0 {
				info.MxHosts = v4
			} else {
				info.MxHosts = v6
			}
			info.FromFallback = true
		}
	}

	info.HasMX = len(info.MxHosts) > 0
	if info.HasMX {
		info.Provider = DetectProvider(info.MxHosts, domain)
	} else {
		info.Provider = models.ProviderGeneric
	}
	return info
}

// DetectProvider fingerprints the mail provider from MX hostnames. The first
// recognized host wins. The domain itself separates consumer Gmail from a
// Google Workspace tenant, and the ".olc." infix separates consumer
// Outlook/Hotmail from Microsoft 365.
func DetectProvider(mxHosts []string, domain string) models.Provider {
	if len(mxHosts) == 0 {
		return models.ProviderGeneric
	}

	domainLower := strings.TrimSuffix(strings.ToLower(domain), ".")

	for _, mx := range mxHosts {
		mxLower := strings.TrimSuffix(strings.ToLower(mx), ".")

		if strings.HasSuffix(mxLower, ".google.com") || strings.HasSuffix(mxLower, ".googlemail.com") {
			if domainLower == "gmail.com" || domainLower == "googlemail.com" {
				return models.ProviderGmail
			}
			return models.ProviderGoogleWorkspace
		}

		if strings.HasSuffix(mxLower, ".yahoodns.net") {
			return models.ProviderYahoo
		}

		if strings.HasSuffix(mxLower, ".protection.outlook.com") {
			if strings.Contains(mxLower, ".olc.protection.outlook.com") {
				return models.ProviderHotmail
			}
			return models.ProviderMicrosoft365
		}

		if strings.HasSuffix(mxLower, ".hotmail.com") || strings.HasSuffix(mxLower, ".outlook.com") {
			return models.ProviderHotmail
		}
	}

	return models.ProviderGeneric
}
