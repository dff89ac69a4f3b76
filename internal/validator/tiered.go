package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kadenwood/kadenverify/internal/lookup"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
	"github.com/kadenwood/kadenverify/internal/syntax"
)

const (
	// DefaultCacheTTL is how long a cached verdict stays authoritative.
	// Mailboxes churn slowly; thirty days keeps repeat lookups nearly free
	// without serving verdicts from a different era.
	DefaultCacheTTL = 30 * 24 * time.Hour

	// DefaultFastThreshold is the minimum fast-tier confidence that lets a
	// request return without an SMTP dialogue.
	DefaultFastThreshold = 0.85

	reasonCached       = "cached_result"
	reasonFullSMTP     = "full_smtp_verification"
	reasonRoleFiltered = "role_account_filtered"

	// errFastTier marks results that never touched port 25 so downstream
	// consumers can tell a probabilistic verdict from a probed one.
	errFastTier = "fast_tier_probabilistic"
)

// Event types delivered to the EventFunc hook.
const (
	EventCacheLookup        = "cache_lookup"
	EventVerificationResult = "verification_result"
)

// CacheLookupFunc fetches a prior verdict for a normalized address. A nil
// result with nil error means a clean miss.
type CacheLookupFunc func(ctx context.Context, email string) (*models.VerificationResult, error)

// CacheUpdateFunc persists a terminal verdict.
type CacheUpdateFunc func(ctx context.Context, result *models.VerificationResult) error

// Event is one observability signal from the tiered engine. Type selects
// which fields are meaningful.
type Event struct {
	Type           string
	Hit            bool
	Tier           int
	Reason         string
	EnrichmentCost float64
	Reachability   models.Reachability
	SmtpCode       int
	Error          string
}

// EventFunc receives engine events. It must not block.
type EventFunc func(Event)

// Enricher resolves a person to a mailbox through progressively more
// expensive sources. It reports the winning candidate, the label of the
// source that produced it, and the total spend in USD (spend accrues on
// misses too).
type Enricher interface {
	Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, string, float64)
}

// TieredOptions configures a TieredVerifier. Zero values fall back to the
// package defaults except FilterRoleAccounts, which is taken literally.
type TieredOptions struct {
	CacheTTL      time.Duration
	FastThreshold float64

	// FilterRoleAccounts downgrades role addresses to invalid after the
	// full pipeline. Operators disable it when role inboxes are the point.
	FilterRoleAccounts bool

	// ForceTier pins the engine to one tier: 2 skips the cache and always
	// returns the fast verdict, 3 skips both cache and fast tier. Zero
	// means normal escalation.
	ForceTier int

	CacheLookup CacheLookupFunc
	CacheUpdate CacheUpdateFunc
	Events      EventFunc

	Enricher Enricher
	Scorer   *CatchAllScorer

	// Scheduler, when set, receives a background full-verification job for
	// every fast-tier verdict so the cache converges on probed truth.
	Scheduler *Scheduler
}

// TieredVerifier escalates through progressively more expensive checks:
// cached verdict, probabilistic fast tier, full SMTP pipeline, and finally
// paid enrichment with an SMTP re-confirm. Results from the full tiers are
// written back through CacheUpdate.
type TieredVerifier struct {
	full *Verifier
	opts TieredOptions
}

// NewTiered wraps a full-pipeline Verifier with the tier ladder.
func NewTiered(full *Verifier, opts TieredOptions) *TieredVerifier {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.FastThreshold <= 0 {
		opts.FastThreshold = DefaultFastThreshold
	}
	return &TieredVerifier{full: full, opts: opts}
}

// NewBackfillScheduler builds a scheduler whose workers run this engine's
// full pipeline, role filter included, and attaches it so fast-tier verdicts
// get queued for a probed upgrade. Call Start on the returned scheduler.
func (t *TieredVerifier) NewBackfillScheduler(queueSize, workers int) *Scheduler {
	s := NewScheduler(t.fullVerify, queueSize, workers)
	t.opts.Scheduler = s
	return s
}

// Verify resolves one address and reports which tier settled it along with
// the tier's reason label. Like Verifier.Verify it never returns an error;
// failures fold into the result.
func (t *TieredVerifier) Verify(ctx context.Context, email string) (*models.VerificationResult, int, string) {
	normalized := syntax.Normalize(email)

	// Tier 1: cached verdict.
	if t.opts.CacheLookup != nil && t.opts.ForceTier == 0 {
		cached, err := t.opts.CacheLookup(ctx, normalized)
		if err != nil {
			logger.Warn("cache lookup failed", "email", normalized, "error", err.Error())
			cached = nil
		}
		fresh := cached != nil && t.isFresh(cached.VerifiedAt)
		t.emit(Event{Type: EventCacheLookup, Hit: fresh})
		if fresh {
			return cached, 1, reasonCached
		}
	}

	// Tier 2: probabilistic fast pass, no SMTP.
	if t.opts.ForceTier != 3 {
		if res, conf, terminal := t.fastVerify(ctx, email, normalized); res != nil {
			if terminal {
				// Syntax and DNS failures are settled facts, cache them.
				t.cachePut(ctx, res)
				reason := fmt.Sprintf("fast_validation_confidence_%.2f", 1.0)
				t.emitResult(2, reason, 0, res)
				return res, 2, reason
			}
			if conf >= t.opts.FastThreshold || t.opts.ForceTier == 2 {
				if t.opts.Scheduler != nil {
					t.opts.Scheduler.Enqueue(normalized, t.opts.CacheUpdate)
				}
				reason := fmt.Sprintf("fast_validation_confidence_%.2f", conf)
				t.emitResult(2, reason, 0, res)
				return res, 2, reason
			}
		}
	}

	// Tier 3: full pipeline.
	res := t.fullVerify(ctx, email)
	tier, reason := 3, reasonFullSMTP
	filtered := t.opts.FilterRoleAccounts && res.IsRole
	if filtered {
		reason = reasonRoleFiltered
	}

	// Tiers 4-6: enrichment for the verdicts SMTP could not settle. A
	// role-filtered address stays filtered no matter what a directory says.
	var cost float64
	if !filtered && t.enrichable(res) {
		tier, reason, cost = t.enrich(ctx, res, tier, reason)
	}

	t.cachePut(ctx, res)
	t.emitResult(tier, reason, cost, res)
	return res, tier, reason
}

// fastVerify builds a verdict from syntax, metadata, and DNS alone.
// terminal=true marks hard failures that no amount of SMTP would change;
// otherwise the result is probabilistic and conf says how probabilistic.
func (t *TieredVerifier) fastVerify(ctx context.Context, email, normalized string) (*models.VerificationResult, float64, bool) {
	res := &models.VerificationResult{
		Email:        email,
		Normalized:   normalized,
		Reachability: models.ReachabilityUnknown,
		Provider:     models.ProviderGeneric,
		VerifiedAt:   time.Now().UTC(),
	}

	syn := syntax.Validate(email)
	if !syn.IsValid {
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		res.Error = "syntax: " + syn.Reason
		return res, 1.0, true
	}
	res.Normalized = syn.Normalized
	res.Domain = syn.Domain

	meta := lookup.Classify(syn.LocalPart, syn.Domain)
	res.IsDisposable = meta.IsDisposable
	res.IsRole = meta.IsRole
	res.IsFree = meta.IsFree

	info := t.full.domainDNS(ctx, syn.Domain)
	res.Provider = info.Provider
	if !info.HasMX {
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		res.Error = "no MX or A records found"
		return res, 1.0, true
	}
	res.MxHost = info.FirstMx()

	res.Reachability = fastReachability(meta, info.Provider)
	res.Error = errFastTier
	return res, fastConfidence(meta, info.Provider), false
}

// fullVerify runs the complete pipeline plus the role-account policy.
func (t *TieredVerifier) fullVerify(ctx context.Context, email string) *models.VerificationResult {
	res := t.full.Verify(ctx, email)
	if t.opts.FilterRoleAccounts && res.IsRole {
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		res.Error = reasonRoleFiltered
	}
	return res
}

func (t *TieredVerifier) enrichable(res *models.VerificationResult) bool {
	if t.opts.Enricher == nil && t.opts.Scorer == nil {
		return false
	}
	return res.Reachability == models.ReachabilityUnknown || res.CatchAll()
}

// enrich runs the catch-all scorer and then the paid source chain, with an
// SMTP re-confirm when a source produces a hit. It mutates res in place and
// returns the tier, reason, and accrued spend.
func (t *TieredVerifier) enrich(ctx context.Context, res *models.VerificationResult, tier int, reason string) (int, string, float64) {
	first, last := splitLocalName(res.Normalized)

	if res.CatchAll() && t.opts.Scorer != nil {
		score := t.opts.Scorer.Score(ctx, CatchAllInput{
			Email:     res.Normalized,
			FirstName: first,
			LastName:  last,
		})
		if scoredReason, decisive := ApplyCatchAllScore(res, score); decisive {
			return 4, scoredReason, 0
		}
	}

	if t.opts.Enricher == nil || first == "" || last == "" {
		return tier, reason, 0
	}

	cand, _, cost := t.opts.Enricher.Find(ctx, first, last, res.Domain)
	if cand == nil {
		return tier, reason, cost
	}
	return t.reconfirm(ctx, res, cand, cost)
}

// reconfirm settles an enrichment hit with one more RCPT dialogue against
// the original address. The enrichment source only proves the person
// exists; the mailbox still gets the final word.
func (t *TieredVerifier) reconfirm(ctx context.Context, res *models.VerificationResult, cand *models.CandidateResult, cost float64) (int, string, float64) {
	src := cand.Source
	if src == "" {
		src = "enrichment"
	}

	var resp models.SmtpResponse
	if res.MxHost != "" {
		resp = t.full.verifySMTP(ctx, res.Normalized, res.MxHost)
	}

	switch {
	case resp.Code == 250:
		res.Reachability = models.ReachabilitySafe
		res.IsDeliverable = models.Bool(true)
		res.SmtpCode = resp.Code
		res.SmtpMessage = resp.Message
		res.Error = ""
		return 6, fmt.Sprintf("tier6_%s_smtp_confirmed", src), cost
	case resp.Code >= 500:
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		res.SmtpCode = resp.Code
		res.SmtpMessage = resp.Message
		return 6, fmt.Sprintf("tier6_%s_smtp_rejected_%d", src, resp.Code), cost
	default:
		// The source vouches for the person but the mailbox stayed silent.
		// That is worth risky, never safe.
		res.Reachability = models.ReachabilityRisky
		return 6, fmt.Sprintf("tier6_%s_smtp_inconclusive", src), cost
	}
}

func (t *TieredVerifier) cachePut(ctx context.Context, res *models.VerificationResult) {
	if t.opts.CacheUpdate == nil {
		return
	}
	if err := t.opts.CacheUpdate(ctx, res); err != nil {
		logger.Warn("cache update failed", "email", res.Normalized, "error", err.Error())
	}
}

func (t *TieredVerifier) isFresh(verifiedAt time.Time) bool {
	if verifiedAt.IsZero() {
		return false
	}
	return time.Since(verifiedAt.UTC()) < t.opts.CacheTTL
}

func (t *TieredVerifier) emit(e Event) {
	if t.opts.Events != nil {
		t.opts.Events(e)
	}
}

func (t *TieredVerifier) emitResult(tier int, reason string, cost float64, res *models.VerificationResult) {
	t.emit(Event{
		Type:           EventVerificationResult,
		Tier:           tier,
		Reason:         reason,
		EnrichmentCost: cost,
		Reachability:   res.Reachability,
		SmtpCode:       res.SmtpCode,
		Error:          res.Error,
	})
}

// fastConfidence estimates deliverability odds from metadata and provider
// fingerprints alone. Major providers bounce unknown users reliably, which
// is what makes their addresses predictable without a probe.
func fastConfidence(meta models.Metadata, provider models.Provider) float64 {
	conf := 0.5
	switch provider {
	case models.ProviderGmail, models.ProviderGoogleWorkspace:
		conf += 0.3
	case models.ProviderMicrosoft365:
		conf += 0.2
	}
	if meta.IsFree {
		conf += 0.1
	}
	if !meta.IsDisposable && !meta.IsRole {
		conf += 0.1
	}
	if meta.IsDisposable {
		conf -= 0.2
	}
	if provider == models.ProviderGeneric {
		conf -= 0.1
	}
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// fastReachability infers a verdict without SMTP proof. It never returns
// safe: that word is reserved for a mailbox that actually answered.
func fastReachability(meta models.Metadata, provider models.Provider) models.Reachability {
	if meta.IsDisposable || meta.IsRole {
		return models.ReachabilityRisky
	}
	switch provider {
	case models.ProviderGmail, models.ProviderGoogleWorkspace,
		models.ProviderMicrosoft365, models.ProviderYahoo:
		return models.ReachabilityRisky
	}
	if meta.IsFree {
		return models.ReachabilityRisky
	}
	return models.ReachabilityUnknown
}

// splitLocalName recovers a first/last pair from locals like jane.doe,
// jane_doe, or jane-doe. Anything else is not worth guessing at.
func splitLocalName(address string) (first, last string) {
	local := address
	if at := strings.LastIndex(address, "@"); at >= 0 {
		local = address[:at]
	}
	for _, sep := range []string{".", "_", "-"} {
		parts := strings.Split(local, sep)
		if len(parts) != 2 {
			continue
		}
		if isAlpha(parts[0]) && isAlpha(parts[1]) {
			return parts[0], parts[1]
		}
	}
	return "", ""
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
