package finder

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/cache"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/validator"
)

// fakePipe scripts the network edge of a Finder: MX answers per domain,
// RCPT codes per address, catch-all verdicts per domain.
type fakePipe struct {
	dns      map[string]models.DnsInfo
	smtp     map[string]models.SmtpResponse
	catchAll map[string]*bool

	dnsCalls   atomic.Int64
	batchCalls atomic.Int64
	probeCalls atomic.Int64
}

func (f *fakePipe) finder() *Finder {
	return &Finder{
		Intel:       cache.NewDomainIntel(),
		Concurrency: DefaultBatchConcurrency,
		lookupMX: func(ctx context.Context, domain string) (models.DnsInfo, error) {
			f.dnsCalls.Add(1)
			if info, ok := f.dns[domain]; ok {
				return info, nil
			}
			return models.DnsInfo{Domain: domain, Provider: models.ProviderGeneric}, nil
		},
		verifyBatch: func(ctx context.Context, emails []string, mxHost string) []models.SmtpResponse {
			f.batchCalls.Add(1)
			out := make([]models.SmtpResponse, len(emails))
			for i, email := range emails {
				if resp, ok := f.smtp[email]; ok {
					out[i] = resp
				} else {
					out[i] = models.SmtpResponse{Code: 550, IsInvalid: true}
				}
			}
			return out
		},
		probeCatchAll: func(ctx context.Context, domain, mxHost string) *bool {
			f.probeCalls.Add(1)
			return f.catchAll[domain]
		},
	}
}

func genericMX(domain string) models.DnsInfo {
	return models.DnsInfo{
		Domain:   domain,
		HasMX:    true,
		MxHosts:  []string{"mx1." + domain},
		Provider: models.ProviderGeneric,
	}
}

type chainStub struct {
	cand   *models.CandidateResult
	method string
	cost   float64
	calls  atomic.Int64
}

func (c *chainStub) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, string, float64) {
	c.calls.Add(1)
	return c.cand, c.method, c.cost
}

func TestGenerateCandidatesOrder(t *testing.T) {
	cands := GenerateCandidates(" Jane ", "DOE", "Acme.Example")
	require.Len(t, cands, 10)

	want := []string{
		"jane.doe@acme.example",
		"jdoe@acme.example",
		"janed@acme.example",
		"jane@acme.example",
		"jane_doe@acme.example",
		"jane-doe@acme.example",
		"j.doe@acme.example",
		"doej@acme.example",
		"doe.jane@acme.example",
		"janedoe@acme.example",
	}
	for i, cand := range cands {
		assert.Equal(t, want[i], cand.Email, "position %d", i)
	}
	assert.Equal(t, "first.last", cands[0].Pattern)
	assert.Equal(t, "firstlast", cands[9].Pattern)
}

func TestGenerateCandidatesDedupesShortNames(t *testing.T) {
	// A single-letter first name collapses first.last with f.last, flast
	// with firstlast, and so on. Order of survivors is preserved.
	cands := GenerateCandidates("j", "doe", "acme.example")

	seen := make(map[string]bool)
	for _, cand := range cands {
		assert.False(t, seen[cand.Email], "duplicate %s", cand.Email)
		seen[cand.Email] = true
	}
	require.NotEmpty(t, cands)
	assert.Equal(t, "j.doe@acme.example", cands[0].Email)
	assert.Less(t, len(cands), 10)
}

func TestGenerateCandidatesEmptyInput(t *testing.T) {
	assert.Nil(t, GenerateCandidates("", "doe", "acme.example"))
	assert.Nil(t, GenerateCandidates("jane", "", "acme.example"))
	assert.Nil(t, GenerateCandidates("jane", "doe", ""))
}

func TestFindSettlesOverSMTP(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		smtp:     map[string]models.SmtpResponse{"jane.doe@acme.example": {Code: 250}},
		catchAll: map[string]*bool{"acme.example": models.Bool(false)},
	}
	res := pipe.finder().Find(context.Background(), "Jane", "Doe", "acme.example", "")

	assert.Equal(t, "jane.doe@acme.example", res.Email)
	assert.Equal(t, "smtp_verified", res.Method)
	assert.Equal(t, models.ReachabilitySafe, res.Reachability)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	require.NotNil(t, res.DomainIsCatchall)
	assert.False(t, *res.DomainIsCatchall)
	assert.Equal(t, 10, res.CandidatesTried)
	assert.Zero(t, res.Cost)
	assert.Equal(t, models.ProviderGeneric, res.Provider)

	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, 250, res.Candidates[0].SmtpCode)
	assert.Equal(t, "smtp", res.Candidates[0].Source)
	assert.InDelta(t, 0.95, res.Candidates[0].Confidence, 1e-9)
}

func TestFindFirstAcceptedPatternWins(t *testing.T) {
	// first.last bounces, flast lands. The winner is the earliest 250 in
	// pattern order even if later candidates would also accept.
	pipe := &fakePipe{
		dns: map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		smtp: map[string]models.SmtpResponse{
			"jdoe@acme.example":    {Code: 250},
			"janedoe@acme.example": {Code: 250},
		},
		catchAll: map[string]*bool{"acme.example": models.Bool(false)},
	}
	res := pipe.finder().Find(context.Background(), "jane", "doe", "acme.example", "")

	assert.Equal(t, "jdoe@acme.example", res.Email)
	assert.Equal(t, 550, res.Candidates[0].SmtpCode)
	assert.Equal(t, 250, res.Candidates[1].SmtpCode)
}

func TestFindNoMX(t *testing.T) {
	pipe := &fakePipe{dns: map[string]models.DnsInfo{}}
	res := pipe.finder().Find(context.Background(), "jane", "doe", "ghost.example", "")

	assert.Equal(t, "No MX records for ghost.example", res.Error)
	assert.Empty(t, res.Email)
	assert.Zero(t, res.CandidatesTried)
	assert.Equal(t, int64(0), pipe.batchCalls.Load())
	assert.Equal(t, int64(0), pipe.probeCalls.Load())
}

func TestFindRequiresNamesAndDomain(t *testing.T) {
	pipe := &fakePipe{}
	f := pipe.finder()

	for _, args := range [][3]string{
		{"", "doe", "acme.example"},
		{"jane", "", "acme.example"},
		{"jane", "doe", ""},
	} {
		res := f.Find(context.Background(), args[0], args[1], args[2], "")
		assert.Equal(t, "first name, last name, and domain are required", res.Error)
	}
	assert.Equal(t, int64(0), pipe.dnsCalls.Load())
}

func TestFindCatchAllScoresFirstPattern(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		catchAll: map[string]*bool{"acme.example": models.Bool(true)},
	}
	f := pipe.finder()
	f.Scorer = &validator.CatchAllScorer{}

	res := f.Find(context.Background(), "jane", "doe", "acme.example", "")

	// base 0.50 + name match 0.95*0.30 + (pattern 0.90 - 0.50)*0.20
	assert.Equal(t, "jane.doe@acme.example", res.Email)
	assert.Equal(t, "pattern_score_catchall", res.Method)
	assert.InDelta(t, 0.865, res.Confidence, 1e-9)
	assert.Equal(t, models.ReachabilityRisky, res.Reachability)
	require.NotNil(t, res.DomainIsCatchall)
	assert.True(t, *res.DomainIsCatchall)
	assert.Equal(t, "pattern_score", res.Candidates[0].Source)

	// No RCPT batch against a catch-all domain: every code would be 250.
	assert.Equal(t, int64(0), pipe.batchCalls.Load())
}

func TestFindCatchAllLowScoreIsUnknown(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		catchAll: map[string]*bool{"acme.example": models.Bool(true)},
	}
	f := pipe.finder()
	f.Scorer = &validator.CatchAllScorer{}

	// test.user@ trips the test_prefix red flag, capping confidence at 0.05.
	res := f.Find(context.Background(), "test", "user", "acme.example", "")

	assert.Equal(t, "pattern_score_catchall", res.Method)
	assert.InDelta(t, 0.05, res.Confidence, 1e-9)
	assert.Equal(t, models.ReachabilityUnknown, res.Reachability)
}

func TestFindEnrichmentHit(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		catchAll: map[string]*bool{"acme.example": models.Bool(true)},
	}
	f := pipe.finder()
	chain := &chainStub{
		cand: &models.CandidateResult{
			Email:      "jane.d@acme.example",
			Pattern:    "prospeo_enrich",
			Confidence: 0.95,
			Source:     "prospeo",
		},
		method: "prospeo_enrich",
		cost:   0.0065,
	}
	f.Chain = chain
	f.Scorer = &validator.CatchAllScorer{}

	res := f.Find(context.Background(), "jane", "doe", "acme.example", "")

	assert.Equal(t, "jane.d@acme.example", res.Email)
	assert.Equal(t, "prospeo_enrich", res.Method)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, models.ReachabilityRisky, res.Reachability)
	assert.InDelta(t, 0.0065, res.Cost, 1e-9)
	require.NotNil(t, res.DomainIsCatchall)
	assert.True(t, *res.DomainIsCatchall)
	assert.Equal(t, int64(1), chain.calls.Load())

	// The enriched candidate is appended after the ten pattern guesses.
	assert.Len(t, res.Candidates, 11)
	assert.Equal(t, "jane.d@acme.example", res.Candidates[10].Email)
}

func TestFindEnrichmentMissCarriesSpend(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		catchAll: map[string]*bool{"acme.example": models.Bool(false)},
	}
	f := pipe.finder()
	f.Chain = &chainStub{method: "", cost: 0.1065}

	res := f.Find(context.Background(), "jane", "doe", "acme.example", "")

	assert.Empty(t, res.Email)
	assert.Equal(t, "exhausted", res.Method)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, models.ReachabilityUnknown, res.Reachability)
	assert.InDelta(t, 0.1065, res.Cost, 1e-9)
	require.NotNil(t, res.DomainIsCatchall)
	assert.False(t, *res.DomainIsCatchall)
}

func TestFindHotmailSkipsProbing(t *testing.T) {
	pipe := &fakePipe{
		dns: map[string]models.DnsInfo{
			"hotmail.com": {
				Domain:   "hotmail.com",
				HasMX:    true,
				MxHosts:  []string{"mx1.hotmail.com"},
				Provider: models.ProviderHotmail,
			},
		},
	}
	res := pipe.finder().Find(context.Background(), "jane", "doe", "hotmail.com", "")

	assert.Equal(t, "exhausted", res.Method)
	assert.Nil(t, res.DomainIsCatchall)
	assert.Equal(t, int64(0), pipe.batchCalls.Load())
	assert.Equal(t, int64(0), pipe.probeCalls.Load())
}

func TestFindGmailVerifiesWithoutCatchAllProbe(t *testing.T) {
	pipe := &fakePipe{
		dns: map[string]models.DnsInfo{
			"gmail.com": {
				Domain:   "gmail.com",
				HasMX:    true,
				MxHosts:  []string{"gmail-smtp-in.l.google.com"},
				Provider: models.ProviderGmail,
			},
		},
		smtp: map[string]models.SmtpResponse{"jane.doe@gmail.com": {Code: 250}},
	}
	res := pipe.finder().Find(context.Background(), "jane", "doe", "gmail.com", "")

	assert.Equal(t, "smtp_verified", res.Method)
	assert.Equal(t, "jane.doe@gmail.com", res.Email)
	assert.Equal(t, int64(0), pipe.probeCalls.Load())
	assert.Equal(t, int64(1), pipe.batchCalls.Load())
}

func TestFindSharesDomainIntel(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{"acme.example": genericMX("acme.example")},
		catchAll: map[string]*bool{"acme.example": models.Bool(false)},
	}
	f := pipe.finder()

	f.Find(context.Background(), "jane", "doe", "acme.example", "")
	f.Find(context.Background(), "bob", "smith", "acme.example", "")

	assert.Equal(t, int64(1), pipe.dnsCalls.Load())
	assert.Equal(t, int64(1), pipe.probeCalls.Load())
	assert.Equal(t, int64(2), pipe.batchCalls.Load())
}

func TestFindBatchKeepsInputOrder(t *testing.T) {
	pipe := &fakePipe{
		dns: map[string]models.DnsInfo{
			"acme.example": genericMX("acme.example"),
			"beta.example": genericMX("beta.example"),
		},
		smtp: map[string]models.SmtpResponse{
			"jane.doe@acme.example":  {Code: 250},
			"bob.smith@acme.example": {Code: 250},
			"eve.jones@beta.example": {Code: 250},
		},
		catchAll: map[string]*bool{
			"acme.example": models.Bool(false),
			"beta.example": models.Bool(false),
		},
	}
	contacts := []Contact{
		{FirstName: "Jane", LastName: "Doe", Domain: "acme.example"},
		{FirstName: "Eve", LastName: "Jones", Domain: "beta.example"},
		{FirstName: "Bob", LastName: "Smith", Domain: "acme.example"},
		{FirstName: "Ann", LastName: "Lee", Domain: "ghost.example"},
	}
	results := pipe.finder().FindBatch(context.Background(), contacts)

	require.Len(t, results, 4)
	assert.Equal(t, "jane.doe@acme.example", results[0].Email)
	assert.Equal(t, "eve.jones@beta.example", results[1].Email)
	assert.Equal(t, "bob.smith@acme.example", results[2].Email)
	assert.Equal(t, "No MX records for ghost.example", results[3].Error)

	// One MX lookup and one catch-all probe per distinct domain.
	assert.Equal(t, int64(3), pipe.dnsCalls.Load())
	assert.Equal(t, int64(2), pipe.probeCalls.Load())
}

func TestFindBatchEmpty(t *testing.T) {
	pipe := &fakePipe{}
	assert.Nil(t, pipe.finder().FindBatch(context.Background(), nil))
	assert.Nil(t, pipe.finder().FindBatch(context.Background(), []Contact{}))
}

func TestFindBatchManyDomains(t *testing.T) {
	pipe := &fakePipe{
		dns:      map[string]models.DnsInfo{},
		smtp:     map[string]models.SmtpResponse{},
		catchAll: map[string]*bool{},
	}
	var contacts []Contact
	for i := 0; i < 40; i++ {
		domain := fmt.Sprintf("corp%02d.example", i)
		pipe.dns[domain] = genericMX(domain)
		pipe.catchAll[domain] = models.Bool(false)
		pipe.smtp[fmt.Sprintf("jane.doe@%s", domain)] = models.SmtpResponse{Code: 250}
		contacts = append(contacts, Contact{FirstName: "Jane", LastName: "Doe", Domain: domain})
	}

	f := pipe.finder()
	f.Concurrency = 4
	results := f.FindBatch(context.Background(), contacts)

	require.Len(t, results, 40)
	for i, res := range results {
		assert.Equal(t, "smtp_verified", res.Method, "contact %d", i)
		assert.True(t, strings.HasSuffix(res.Email, contacts[i].Domain))
	}
}
