package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

const (
	// Every catch-all address starts here; signals move it up or down.
	CatchAllBaseConfidence = 0.50

	// IsLikelyReal cut. Upgrade/downgrade bands sit outside it on purpose:
	// a 0.72 is "likely real" but not strong enough to overrule the SMTP
	// verdict, so the reachability stays risky.
	CatchAllRealThreshold = 0.70
	CatchAllUpgradeAt     = 0.80
	CatchAllDowngradeAt   = 0.30

	WeightPersonMatch   = 0.40
	WeightLinkedinMatch = 0.35

	// Name match quality is blended in at 30%, pattern quality at 20%,
	// both relative to the neutral 0.50 baseline.
	NameMatchBlend      = 0.30
	PatternBlend        = 0.20
	PenaltyNameMismatch = 0.20

	WeightLargeCompany  = 0.15
	PenaltySmallCompany = 0.05

	LargeCompanyEmployees = 1000
	SmallCompanyEmployees = 10
)

// Corporate local-part shapes ordered by how strongly they suggest a real
// mailbox. First match wins, so the broad firstlast shape shadows the
// narrower ones below it for plain alphabetic locals.
var corporatePatterns = []struct {
	re         *regexp.Regexp
	confidence float64
}{
	{regexp.MustCompile(`^[a-z]+\.[a-z]+@`), 0.90},         // first.last
	{regexp.MustCompile(`^[a-z]+[a-z]+@`), 0.85},           // firstlast
	{regexp.MustCompile(`^[a-z]\.[a-z]+@`), 0.80},          // f.last
	{regexp.MustCompile(`^[a-z]+@`), 0.75},                 // first
	{regexp.MustCompile(`^[a-z]+_[a-z]+@`), 0.70},          // first_last
	{regexp.MustCompile(`^[a-z]+-[a-z]+@`), 0.70},          // first-last
	{regexp.MustCompile(`^[a-z]+\.[a-z]\.[a-z]+@`), 0.65},  // first.m.last
	{regexp.MustCompile(`^[a-z]+[0-9]+@`), 0.50},           // first123
	{regexp.MustCompile(`^[a-z][a-z]+@`), 0.60},            // flast
}

// Red-flag locals cap the final confidence no matter how good the other
// signals are. Patterns run against local+"@" so the anchored ones fire too.
var redFlagPatterns = []struct {
	re   *regexp.Regexp
	cap  float64
	name string
}{
	{regexp.MustCompile(`^test`), 0.05, "test_prefix"},
	{regexp.MustCompile(`^admin`), 0.10, "admin_prefix"},
	{regexp.MustCompile(`^noreply`), 0.05, "noreply_prefix"},
	{regexp.MustCompile(`^[0-9]+@`), 0.10, "numeric_local"},
	{regexp.MustCompile(`^[a-z]{15,}@`), 0.20, "long_random_local"},
	{regexp.MustCompile(`^\w{3,}[0-9]{5,}@`), 0.15, "digit_suffix_local"},
}

// Institutional TLDs shift the prior: .edu servers are commonly catch-all
// for real mailboxes, .gov and .mil almost never are.
var domainTypeSignals = []struct {
	suffix     string
	adjustment float64
}{
	{".edu", 0.15},
	{".gov", -0.10},
	{".mil", -0.10},
	{".org", 0.05},
}

// SocialMatch is a directory hit for an address: the local person store,
// a paid people API, or a profile lookup.
type SocialMatch struct {
	Found      bool
	Confidence float64
	Email      string
	Name       string
	Title      string
	Company    string
	Source     string
}

// CatchAllInput carries everything known about an address accepted only
// because its domain is catch-all. All fields except Email are optional.
type CatchAllInput struct {
	Email       string
	FirstName   string
	LastName    string
	CompanyName string
	CompanySize int

	// Pre-fetched directory matches. When PersonMatch is nil the scorer
	// consults its own PersonLookup.
	PersonMatch   *SocialMatch
	LinkedinMatch *SocialMatch
}

// CatchAllScore is the scorer verdict: a confidence in [0,1] and the
// signal trail that produced it.
type CatchAllScore struct {
	Email        string
	Confidence   float64
	IsLikelyReal bool
	Reasons      []string
	Social       *SocialMatch
}

// PersonLookupFunc resolves an address against a people directory.
// A nil match with nil error is a plain miss.
type PersonLookupFunc func(ctx context.Context, email string) (*SocialMatch, error)

// CatchAllScorer estimates whether a catch-all-accepted address belongs to
// a real person. SMTP said nothing useful, so it leans on name/pattern
// heuristics, directory hits, and domain signals instead.
type CatchAllScorer struct {
	// PersonLookup is the zero-cost directory check, usually backed by the
	// local person store. Optional.
	PersonLookup PersonLookupFunc
}

func (s *CatchAllScorer) Score(ctx context.Context, in CatchAllInput) CatchAllScore {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	local, domain, _ := strings.Cut(email, "@")

	confidence := CatchAllBaseConfidence
	reasons := []string{}

	// ── 0. Zero-cost directory check ─────────────────────────────────────────
	person := in.PersonMatch
	if person == nil && s != nil && s.PersonLookup != nil {
		match, err := s.PersonLookup(ctx, email)
		if err != nil {
			logger.Error("person store lookup failed", "email", email, "error", err)
		} else {
			person = match
		}
	}

	// ── 1. Social and directory cross-reference ──────────────────────────────
	if person != nil && person.Found {
		confidence += WeightPersonMatch
		reasons = append(reasons, fmt.Sprintf("person_store_match_confidence_%.2f", person.Confidence))
	}
	if in.LinkedinMatch != nil && in.LinkedinMatch.Found {
		confidence += WeightLinkedinMatch
		reasons = append(reasons, "linkedin_profile_match")
	}

	// ── 2. Name-based pattern matching ───────────────────────────────────────
	if in.FirstName != "" && in.LastName != "" {
		nameConfidence := nameMatchConfidence(local, in.FirstName, in.LastName)
		if nameConfidence > 0 {
			confidence += nameConfidence * NameMatchBlend
			reasons = append(reasons, fmt.Sprintf("name_pattern_match_%.2f", nameConfidence))
		} else {
			confidence -= PenaltyNameMismatch
			reasons = append(reasons, "name_pattern_mismatch")
		}
	}

	// ── 3. Local-part shape analysis ─────────────────────────────────────────
	patternConf := patternConfidence(local)
	confidence += (patternConf - CatchAllBaseConfidence) * PatternBlend
	reasons = append(reasons, fmt.Sprintf("pattern_confidence_%.2f", patternConf))

	// ── 4. Company size heuristics ───────────────────────────────────────────
	// Large organisations rarely run a true catch-all; tiny ones often do.
	if in.CompanySize > 0 {
		if in.CompanySize > LargeCompanyEmployees {
			confidence += WeightLargeCompany
			reasons = append(reasons, fmt.Sprintf("large_company_%d_employees", in.CompanySize))
		} else if in.CompanySize < SmallCompanyEmployees {
			confidence -= PenaltySmallCompany
			reasons = append(reasons, fmt.Sprintf("small_company_%d_employees", in.CompanySize))
		}
	}

	// ── 5. Domain type ───────────────────────────────────────────────────────
	for _, sig := range domainTypeSignals {
		if strings.HasSuffix(domain, sig.suffix) {
			confidence += sig.adjustment
			reasons = append(reasons, "domain_type_"+sig.suffix)
		}
	}

	// ── 6. Red flags cap everything ──────────────────────────────────────────
	probe := local + "@"
	for _, flag := range redFlagPatterns {
		if flag.re.MatchString(probe) {
			if confidence > flag.cap {
				confidence = flag.cap
			}
			reasons = append(reasons, "red_flag_"+flag.name)
			break
		}
	}

	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	var social *SocialMatch
	if person != nil && person.Found {
		social = person
	} else if in.LinkedinMatch != nil && in.LinkedinMatch.Found {
		social = in.LinkedinMatch
	}

	return CatchAllScore{
		Email:        in.Email,
		Confidence:   confidence,
		IsLikelyReal: confidence >= CatchAllRealThreshold,
		Reasons:      reasons,
		Social:       social,
	}
}

// ApplyCatchAllScore folds a scorer verdict back into a verification result.
// Only decisive scores touch the result: high confidence upgrades to safe,
// very low confidence downgrades to invalid, everything between stays risky.
// Returns the reason label and whether the result changed.
func ApplyCatchAllScore(res *models.VerificationResult, score CatchAllScore) (string, bool) {
	switch {
	case score.Confidence >= CatchAllUpgradeAt:
		res.Reachability = models.ReachabilitySafe
		res.IsDeliverable = models.Bool(true)
		return fmt.Sprintf("catch_all_high_confidence_%.2f", score.Confidence), true
	case score.Confidence <= CatchAllDowngradeAt:
		res.Reachability = models.ReachabilityInvalid
		res.IsDeliverable = models.Bool(false)
		return fmt.Sprintf("catch_all_low_confidence_%.2f", score.Confidence), true
	default:
		return "", false
	}
}

// nameMatchConfidence grades how well a local part matches a known name.
// Exact assemblies score highest, token containment lands mid-range, and
// no overlap at all returns zero so the caller can penalise it.
func nameMatchConfidence(local, firstName, lastName string) float64 {
	first := strings.ToLower(strings.TrimSpace(firstName))
	last := strings.ToLower(strings.TrimSpace(lastName))
	local = strings.ToLower(strings.TrimSpace(local))
	if first == "" || last == "" {
		return 0
	}

	switch local {
	case first + "." + last:
		return 0.95
	case first + last:
		return 0.90
	case first[:1] + "." + last:
		return 0.85
	case first:
		return 0.80
	case first + "_" + last, first + "-" + last:
		return 0.85
	}

	switch {
	case strings.Contains(local, first) && strings.Contains(local, last):
		return 0.70
	case strings.Contains(local, last):
		return 0.60
	case strings.Contains(local, first):
		return 0.50
	}
	return 0
}

// patternConfidence estimates corporate-vs-random from the local part alone.
func patternConfidence(local string) float64 {
	probe := strings.ToLower(strings.TrimSpace(local)) + "@"
	for _, p := range corporatePatterns {
		if p.re.MatchString(probe) {
			return p.confidence
		}
	}
	for _, flag := range redFlagPatterns {
		if flag.re.MatchString(probe) {
			return flag.cap
		}
	}
	return CatchAllBaseConfidence
}
