// Package finder guesses and verifies a person's address at a domain. It
// walks a fixed waterfall: candidate patterns probed over SMTP, then paid
// enrichment sources, then a heuristic score when the domain is catch-all
// and SMTP answers prove nothing.
package finder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kadenwood/kadenverify/internal/cache"
	"github.com/kadenwood/kadenverify/internal/lookup"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/validator"
)

// DefaultBatchConcurrency bounds concurrent contacts in FindBatch. Contacts
// at the same domain always run sequentially so the MX sees one orderly
// probe stream, not a burst.
const DefaultBatchConcurrency = 10

// Contact is one person to resolve.
type Contact struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Domain      string `json:"domain"`
	CompanyName string `json:"company_name,omitempty"`
}

// Enricher is the paid-source chain; satisfied by *enrich.Chain.
type Enricher interface {
	Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, string, float64)
}

// Finder resolves contacts to addresses. Construct with New, then attach
// Chain and Scorer as available.
type Finder struct {
	Intel       *cache.DomainIntel
	Chain       Enricher
	Scorer      *validator.CatchAllScorer
	Concurrency int

	lookupMX      func(ctx context.Context, domain string) (models.DnsInfo, error)
	verifyBatch   func(ctx context.Context, emails []string, mxHost string) []models.SmtpResponse
	probeCatchAll func(ctx context.Context, domain, mxHost string) *bool
}

// New wires a Finder to a live resolver and SMTP client. intel may be nil
// to disable domain-level caching.
func New(resolver *lookup.Resolver, client *lookup.SMTPClient, intel *cache.DomainIntel) *Finder {
	return &Finder{
		Intel:         intel,
		Concurrency:   DefaultBatchConcurrency,
		lookupMX:      resolver.LookupMX,
		verifyBatch:   client.VerifyBatch,
		probeCatchAll: client.ProbeCatchAll,
	}
}

// patternBuilders is the candidate order, most common corporate shape
// first. The order matters twice: SMTP verification takes the first 250,
// and catch-all scoring grades the first pattern.
var patternBuilders = []struct {
	label string
	build func(f, l string) string
}{
	{"first.last", func(f, l string) string { return f + "." + l }},
	{"flast", func(f, l string) string { return f[:1] + l }},
	{"firstl", func(f, l string) string { return f + l[:1] }},
	{"first", func(f, l string) string { return f }},
	{"first_last", func(f, l string) string { return f + "_" + l }},
	{"first-last", func(f, l string) string { return f + "-" + l }},
	{"f.last", func(f, l string) string { return f[:1] + "." + l }},
	{"lastf", func(f, l string) string { return l + f[:1] }},
	{"last.first", func(f, l string) string { return l + "." + f }},
	{"firstlast", func(f, l string) string { return f + l }},
}

// GenerateCandidates builds the pattern candidates for one person, deduped
// with order preserved. Short names collapse several patterns into one.
func GenerateCandidates(first, last, domain string) []models.CandidateResult {
	first = strings.ToLower(strings.TrimSpace(first))
	last = strings.ToLower(strings.TrimSpace(last))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if first == "" || last == "" || domain == "" {
		return nil
	}

	seen := make(map[string]struct{}, len(patternBuilders))
	out := make([]models.CandidateResult, 0, len(patternBuilders))
	for _, p := range patternBuilders {
		email := p.build(first, last) + "@" + domain
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, models.CandidateResult{Email: email, Pattern: p.label})
	}
	return out
}

// Find resolves one contact. It never returns an error value; failures are
// carried in the result's Error field so batch output stays positional.
func (f *Finder) Find(ctx context.Context, first, last, domain, companyName string) models.FinderResult {
	first = strings.ToLower(strings.TrimSpace(first))
	last = strings.ToLower(strings.TrimSpace(last))
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))

	res := models.FinderResult{
		Reachability: models.ReachabilityUnknown,
		Provider:     models.ProviderGeneric,
	}
	if first == "" || last == "" || domain == "" {
		res.Error = "first name, last name, and domain are required"
		return res
	}

	info := f.domainDNS(ctx, domain)
	res.Provider = info.Provider
	if !info.HasMX {
		res.Error = fmt.Sprintf("No MX records for %s", domain)
		return res
	}
	mx := info.FirstMx()
	policy := info.Provider.Policy()

	candidates := GenerateCandidates(first, last, domain)
	res.Candidates = candidates
	res.CandidatesTried = len(candidates)

	var isCatchAll *bool
	switch {
	case policy.DoCatchAllProbe:
		isCatchAll = f.domainCatchAll(ctx, domain, mx)
	case policy.DoSmtp:
		// Providers probed without a catch-all check reject unknown
		// mailboxes outright, so treat them as not catch-all.
		isCatchAll = models.Bool(false)
	}
	res.DomainIsCatchall = isCatchAll

	// SMTP can only settle candidates when the domain is provably not
	// catch-all: a blanket 250 says nothing about any particular local.
	if policy.DoSmtp && isCatchAll != nil && !*isCatchAll {
		emails := make([]string, len(candidates))
		for i, c := range candidates {
			emails[i] = c.Email
		}
		responses := f.verifyBatch(ctx, emails, mx)
		for i := range candidates {
			if i < len(responses) {
				candidates[i].SmtpCode = responses[i].Code
			}
		}
		for i := range candidates {
			if candidates[i].SmtpCode != 250 {
				continue
			}
			candidates[i].Confidence = 0.95
			candidates[i].Source = "smtp"
			res.Email = candidates[i].Email
			res.Confidence = 0.95
			res.Method = "smtp_verified"
			res.Reachability = models.ReachabilitySafe
			res.DomainIsCatchall = models.Bool(false)
			logger.Info("finder settled over smtp",
				"domain", domain, "pattern", candidates[i].Pattern)
			return res
		}
	}

	// Paid sources next, cheapest first. Spend accrues even when they all
	// miss, so it is carried on every outcome below.
	var spend float64
	if f.Chain != nil {
		cand, method, cost := f.Chain.Find(ctx, first, last, domain)
		spend = cost
		res.Cost = spend
		if cand != nil {
			res.Candidates = append(res.Candidates, *cand)
			res.Email = cand.Email
			res.Confidence = cand.Confidence
			res.Method = method
			res.Reachability = models.ReachabilityRisky
			return res
		}
	}

	// Catch-all fallback: grade the most common corporate pattern instead
	// of returning nothing.
	if isCatchAll != nil && *isCatchAll && f.Scorer != nil && len(candidates) > 0 {
		score := f.Scorer.Score(ctx, validator.CatchAllInput{
			Email:       candidates[0].Email,
			FirstName:   first,
			LastName:    last,
			CompanyName: companyName,
		})
		candidates[0].Confidence = score.Confidence
		candidates[0].Source = "pattern_score"

		res.Email = candidates[0].Email
		res.Confidence = score.Confidence
		res.Method = "pattern_score_catchall"
		res.Reachability = models.ReachabilityUnknown
		if score.Confidence >= 0.50 {
			res.Reachability = models.ReachabilityRisky
		}
		res.DomainIsCatchall = models.Bool(true)
		return res
	}

	res.Method = "exhausted"
	res.Confidence = 0
	return res
}

// FindBatch resolves contacts concurrently, returning results in input
// order. Contacts sharing a domain run one after another on the same
// goroutine; distinct domains fan out up to Concurrency at a time.
func (f *Finder) FindBatch(ctx context.Context, contacts []Contact) []models.FinderResult {
	if len(contacts) == 0 {
		return nil
	}

	limit := f.Concurrency
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	sem := make(chan struct{}, limit)
	results := make([]models.FinderResult, len(contacts))

	groups := make(map[string][]int)
	for i, c := range contacts {
		domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Domain), "@"))
		groups[domain] = append(groups[domain], i)
	}

	var wg sync.WaitGroup
	for _, indices := range groups {
		wg.Add(1)
		go func(indices []int) {
			defer wg.Done()
			for _, i := range indices {
				c := contacts[i]

				sem <- struct{}{}
				results[i] = f.Find(ctx, c.FirstName, c.LastName, c.Domain, c.CompanyName)
				<-sem
			}
		}(indices)
	}
	wg.Wait()
	return results
}

func (f *Finder) domainDNS(ctx context.Context, domain string) models.DnsInfo {
	if f.Intel != nil {
		if info, ok := f.Intel.GetDNS(domain); ok {
			return info
		}
	}
	info, err := f.lookupMX(ctx, domain)
	if err != nil {
		return info
	}
	if f.Intel != nil {
		f.Intel.SetDNS(domain, info)
	}
	return info
}

func (f *Finder) domainCatchAll(ctx context.Context, domain, mxHost string) *bool {
	if f.Intel != nil {
		if val, ok := f.Intel.GetCatchAll(domain); ok {
			return val
		}
	}
	val := f.probeCatchAll(ctx, domain, mxHost)
	if f.Intel != nil {
		f.Intel.SetCatchAll(domain, val)
	}
	return val
}
