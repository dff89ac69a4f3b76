// Package validator decides whether a mailbox is deliverable. The full
// pipeline runs syntax, metadata, DNS, provider policy, SMTP, and an
// optional catch-all probe, then folds everything into one reachability
// verdict. The tiered engine wraps the pipeline with a cache and cheaper
// probabilistic short-circuits.
package validator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadenwood/kadenverify/internal/cache"
	"github.com/kadenwood/kadenverify/internal/lookup"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/syntax"
)

const (
	// DefaultBatchConcurrency bounds how many emails a batch verifies at
	// once. SMTP sessions are the expensive part; the per-host session cap
	// in the lookup package still applies underneath.
	DefaultBatchConcurrency = 5

	dnsPrewarmLimit = 16
)

// Verifier runs the full verification pipeline. Zero value is not usable;
// construct with New.
type Verifier struct {
	Intel          *cache.DomainIntel
	MaxConcurrency int

	// OnProgress, when set, is called after each batch item completes.
	OnProgress func(done, total int)

	lookupMX      func(ctx context.Context, domain string) (models.DnsInfo, error)
	verifySMTP    func(ctx context.Context, email, mxHost string) models.SmtpResponse
	probeCatchAll func(ctx context.Context, domain, mxHost string) *bool

	locks sync.Map // domain -> *sync.Mutex
}

// New wires a Verifier to a live resolver and SMTP client. intel may be nil
// to disable domain-level caching.
func New(resolver *lookup.Resolver, client *lookup.SMTPClient, intel *cache.DomainIntel) *Verifier {
	return &Verifier{
		Intel:          intel,
		MaxConcurrency: DefaultBatchConcurrency,
		lookupMX:       resolver.LookupMX,
		verifySMTP:     client.VerifyOne,
		probeCatchAll:  client.ProbeCatchAll,
	}
}

// Verify runs the full pipeline for one address. It never returns an error:
// every failure mode is folded into the result so batch callers and the
// HTTP layer have a single shape to deal with.
func (v *Verifier) Verify(ctx context.Context, email string) *models.VerificationResult {
	res := &models.VerificationResult{
		Email:        email,
		Normalized:   strings.ToLower(strings.TrimSpace(email)),
		Reachability: models.ReachabilityUnknown,
		Provider:     models.ProviderGeneric,
		VerifiedAt:   time.Now().UTC(),
	}

	syn := syntax.Validate(email)
	if !syn.IsValid {
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		res.Error = "syntax: " + syn.Reason
		return res
	}
	res.Normalized = syn.Normalized
	res.Domain = syn.Domain

	meta := lookup.Classify(syn.LocalPart, syn.Domain)
	res.IsDisposable = meta.IsDisposable
	res.IsRole = meta.IsRole
	res.IsFree = meta.IsFree

	info := v.domainDNS(ctx, syn.Domain)
	res.Provider = info.Provider
	if !info.HasMX {
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		res.Error = "no MX or A records found"
		return res
	}
	res.MxHost = info.FirstMx()

	policy := res.Provider.Policy()

	var smtpResp *models.SmtpResponse
	if policy.DoSmtp {
		// Probe with the normalized form: the canonical address is what
		// the mailbox provider actually routes.
		resp := v.verifySMTP(ctx, res.Normalized, res.MxHost)
		smtpResp = &resp
		res.SmtpCode = resp.Code
		res.SmtpMessage = resp.Message
		if resp.Code == 0 {
			res.Error = resp.Message
		}

		// Any response at all means the server is reachable, so a 5xx for
		// the target address is still worth qualifying against catch-all.
		if policy.DoCatchAllProbe && resp.Code >= 200 {
			res.IsCatchAll = v.domainCatchAll(ctx, syn.Domain, res.MxHost)
		}
	}

	res.Reachability, res.IsDeliverable = scoreResult(smtpResp, res.IsCatchAll, meta, policy)
	return res
}

// VerifyBatch verifies emails concurrently and returns results in input
// order. Unique domains get a DNS pre-warm pass first; same-domain items
// then serialize on a per-domain lock so MX lookups and catch-all probes
// happen once per domain. A panic while verifying one address never takes
// down the batch.
func (v *Verifier) VerifyBatch(ctx context.Context, emails []string) []*models.VerificationResult {
	if len(emails) == 0 {
		return nil
	}

	v.prewarmDNS(ctx, emails)

	limit := v.MaxConcurrency
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	sem := make(chan struct{}, limit)
	results := make([]*models.VerificationResult, len(emails))

	var done atomic.Int64
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			mu := v.domainLock(batchDomain(email))
			mu.Lock()
			results[i] = v.verifySafe(ctx, email)
			mu.Unlock()

			if v.OnProgress != nil {
				v.OnProgress(int(done.Add(1)), len(emails))
			}
		}(i, email)
	}
	wg.Wait()
	return results
}

// verifySafe converts a panic into an unknown result so one poisoned
// address cannot sink the rest of a batch.
func (v *Verifier) verifySafe(ctx context.Context, email string) (res *models.VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("verification panicked", "email", email, "panic", fmt.Sprint(r))
			res = &models.VerificationResult{
				Email:        email,
				Normalized:   strings.ToLower(strings.TrimSpace(email)),
				Reachability: models.ReachabilityUnknown,
				Provider:     models.ProviderGeneric,
				Domain:       batchDomain(email),
				VerifiedAt:   time.Now().UTC(),
				Error:        "internal verification error",
			}
		}
	}()
	return v.Verify(ctx, email)
}

func (v *Verifier) prewarmDNS(ctx context.Context, emails []string) {
	seen := make(map[string]struct{}, len(emails))
	domains := make([]string, 0, len(emails))
	for _, email := range emails {
		domain := batchDomain(email)
		if domain == "" {
			continue
		}
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}
		domains = append(domains, domain)
	}
	if len(domains) == 0 {
		return
	}

	logger.Debug("pre-warming dns cache", "domains", len(domains))
	var g errgroup.Group
	g.SetLimit(dnsPrewarmLimit)
	for _, domain := range domains {
		d := domain
		g.Go(func() error {
			v.domainDNS(ctx, d)
			return nil
		})
	}
	g.Wait()
}

// domainDNS consults the intel cache before hitting the resolver. Lookup
// errors are not cached; a no-records verdict is.
func (v *Verifier) domainDNS(ctx context.Context, domain string) models.DnsInfo {
	if v.Intel != nil {
		if info, ok := v.Intel.GetDNS(domain); ok {
			return info
		}
	}
	info, err := v.lookupMX(ctx, domain)
	if err != nil {
		return info
	}
	if v.Intel != nil {
		v.Intel.SetDNS(domain, info)
	}
	return info
}

// domainCatchAll probes at most once per domain; inconclusive probes are
// cached too so a server that rejects probing is not hammered.
func (v *Verifier) domainCatchAll(ctx context.Context, domain, mxHost string) *bool {
	if v.Intel != nil {
		if val, ok := v.Intel.GetCatchAll(domain); ok {
			return val
		}
	}
	val := v.probeCatchAll(ctx, domain, mxHost)
	if v.Intel != nil {
		v.Intel.SetCatchAll(domain, val)
	}
	return val
}

func (v *Verifier) domainLock(domain string) *sync.Mutex {
	actual, _ := v.locks.LoadOrStore(domain, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func batchDomain(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// scoreResult maps the SMTP outcome onto a reachability verdict. Order
// matters: provider policy first, transport-level failures next, mailbox
// responses last.
func scoreResult(resp *models.SmtpResponse, isCatchAll *bool, meta models.Metadata, policy models.ProviderPolicy) (models.Reachability, *bool) {
	if policy.AutoMarkRisky {
		return models.ReachabilityRisky, nil
	}
	if resp == nil {
		return models.ReachabilityUnknown, nil
	}
	if resp.IsBlacklisted {
		return models.ReachabilityUnknown, nil
	}
	if resp.Code == 0 {
		return models.ReachabilityUnknown, nil
	}
	if resp.IsInvalid {
		return models.ReachabilityInvalid, models.Bool(false)
	}
	if resp.IsDisabled {
		return models.ReachabilityInvalid, models.Bool(false)
	}
	if resp.IsGreylisted {
		return models.ReachabilityRisky, nil
	}
	if resp.IsFullInbox {
		// Mailbox exists, it just cannot take mail right now.
		return models.ReachabilityRisky, models.Bool(true)
	}

	if resp.Code >= 200 && resp.Code < 300 {
		if isCatchAll != nil && *isCatchAll {
			return models.ReachabilityRisky, nil
		}
		if meta.IsDisposable {
			return models.ReachabilityRisky, models.Bool(true)
		}
		if meta.IsRole {
			return models.ReachabilityRisky, models.Bool(true)
		}
		return models.ReachabilitySafe, models.Bool(true)
	}
	if resp.Code >= 500 {
		return models.ReachabilityInvalid, models.Bool(false)
	}
	if resp.Code >= 400 {
		return models.ReachabilityRisky, nil
	}
	return models.ReachabilityUnknown, nil
}
