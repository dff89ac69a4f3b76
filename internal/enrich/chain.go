// Package enrich resolves people to mailboxes through external data
// sources. Sources are ranked by per-call price and tried cheapest first;
// the spend meter runs whether a source delivers or not, because the
// provider bills the attempt, not the answer.
package enrich

import (
	"context"
	"sort"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/logger"
)

// Adapter is one enrichment source.
type Adapter interface {
	// Name is the waterfall method label reported when this source wins.
	Name() string

	// Cost is the per-attempt spend in USD, charged hit or miss.
	Cost() float64

	// Find resolves a person at a domain to a candidate address. A nil
	// candidate with a nil error is a clean miss.
	Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error)
}

// Chain runs adapters in ascending cost order until one produces a
// candidate.
type Chain struct {
	adapters []Adapter
}

// NewChain builds a chain from the given adapters, dropping nils and
// sorting by cost so free sources always go first.
func NewChain(adapters ...Adapter) *Chain {
	kept := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if a != nil {
			kept = append(kept, a)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Cost() < kept[j].Cost() })
	return &Chain{adapters: kept}
}

// Len reports how many sources the chain will try.
func (c *Chain) Len() int { return len(c.adapters) }

// Find walks the chain for one person. It returns the winning candidate,
// the label of the source that produced it, and the total accrued spend in
// USD. A nil candidate means every source missed; the spend still counts.
func (c *Chain) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, string, float64) {
	var spend float64
	for _, a := range c.adapters {
		if ctx.Err() != nil {
			return nil, "", spend
		}

		cand, err := a.Find(ctx, first, last, domain)
		spend += a.Cost()
		if err != nil {
			logger.Warn("enrichment source failed",
				"source", a.Name(), "domain", domain, "error", err.Error())
			continue
		}
		if cand == nil || cand.Email == "" {
			logger.Debug("enrichment source missed", "source", a.Name(), "domain", domain)
			continue
		}

		logger.Info("enrichment source hit",
			"source", a.Name(), "domain", domain, "spend_usd", spend)
		return cand, a.Name(), spend
	}
	return nil, "", spend
}
