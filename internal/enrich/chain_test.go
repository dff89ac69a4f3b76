package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadenwood/kadenverify/internal/models"
)

type stubAdapter struct {
	name  string
	cost  float64
	cand  *models.CandidateResult
	err   error
	calls int
}

func (s *stubAdapter) Name() string  { return s.name }
func (s *stubAdapter) Cost() float64 { return s.cost }

func (s *stubAdapter) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error) {
	s.calls++
	return s.cand, s.err
}

func TestChainStopsAtFirstHit(t *testing.T) {
	free := &stubAdapter{name: "apollo_local_db", cost: 0,
		cand: &models.CandidateResult{Email: "jane.doe@acme.example", Source: "apollo_local"}}
	paid := &stubAdapter{name: "apollo_api", cost: 0.10}

	cand, method, spend := NewChain(free, paid).Find(context.Background(), "jane", "doe", "acme.example")

	require.NotNil(t, cand)
	assert.Equal(t, "jane.doe@acme.example", cand.Email)
	assert.Equal(t, "apollo_local_db", method)
	assert.Zero(t, spend)
	assert.Equal(t, 0, paid.calls, "a free hit must not reach the paid source")
}

func TestChainOrdersByAscendingCost(t *testing.T) {
	var order []string
	mk := func(name string, cost float64) *recordingAdapter {
		return &recordingAdapter{name: name, cost: cost, order: &order}
	}
	// Deliberately registered most expensive first.
	c := NewChain(mk("apollo_api", 0.10), mk("prospeo_enrich", 0.006), mk("exa_search", 0.0005), mk("apollo_local_db", 0))

	_, _, spend := c.Find(context.Background(), "jane", "doe", "acme.example")

	assert.Equal(t, []string{"apollo_local_db", "exa_search", "prospeo_enrich", "apollo_api"}, order)
	assert.InDelta(t, 0.1065, spend, 1e-9, "every miss still bills its source")
}

type recordingAdapter struct {
	name  string
	cost  float64
	order *[]string
}

func (r *recordingAdapter) Name() string  { return r.name }
func (r *recordingAdapter) Cost() float64 { return r.cost }

func (r *recordingAdapter) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error) {
	*r.order = append(*r.order, r.name)
	return nil, nil
}

func TestChainSkipsFailingSource(t *testing.T) {
	broken := &stubAdapter{name: "exa_search", cost: 0.0005, err: errors.New("api quota exceeded")}
	working := &stubAdapter{name: "prospeo_enrich", cost: 0.006,
		cand: &models.CandidateResult{Email: "jane.doe@acme.example", Source: "prospeo"}}

	cand, method, spend := NewChain(broken, working).Find(context.Background(), "jane", "doe", "acme.example")

	require.NotNil(t, cand)
	assert.Equal(t, "prospeo_enrich", method)
	assert.InDelta(t, 0.0065, spend, 1e-9, "the failed attempt still billed")
}

func TestChainDropsNilAdapters(t *testing.T) {
	c := NewChain(nil, NewExa(""), NewProspeo(""), NewApollo(""))
	assert.Equal(t, 0, c.Len())

	cand, method, spend := c.Find(context.Background(), "jane", "doe", "acme.example")
	assert.Nil(t, cand)
	assert.Empty(t, method)
	assert.Zero(t, spend)
}

func TestChainHonoursContextCancellation(t *testing.T) {
	a := &stubAdapter{name: "exa_search", cost: 0.0005}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, spend := NewChain(a).Find(ctx, "jane", "doe", "acme.example")

	assert.Equal(t, 0, a.calls)
	assert.Zero(t, spend)
}
