package enrich

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/httpretry"
)

const (
	exaEndpoint = "https://api.exa.ai/search"

	// ExaCostPerSearch is Exa's metered price for one search call.
	ExaCostPerSearch = 0.0005
)

// Exa searches the public web for a person's address. It is the cheapest
// paid source: a hit is only as good as whatever page leaked the address,
// so its candidates carry mid-band confidence.
type Exa struct {
	apiKey  string
	baseURL string
	http    httpretry.HTTPDoer
}

// NewExa returns a ready adapter, or nil when no API key is configured so
// NewChain silently skips the source.
func NewExa(apiKey string) Adapter {
	if apiKey == "" {
		return nil
	}
	return &Exa{
		apiKey:  apiKey,
		baseURL: exaEndpoint,
		http:    newAPIClient(),
	}
}

func (e *Exa) Name() string  { return "exa_search" }
func (e *Exa) Cost() float64 { return ExaCostPerSearch }

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

func (e *Exa) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error) {
	queries := []string{
		fmt.Sprintf(`"%s %s" email @%s`, first, last, domain),
		fmt.Sprintf(`%s %s %s contact email address`, first, last, domain),
	}
	addressRe, err := regexp.Compile(`(?i)[a-z0-9._%+-]+@` + regexp.QuoteMeta(strings.ToLower(domain)))
	if err != nil {
		return nil, fmt.Errorf("enrich: bad domain %q: %w", domain, err)
	}

	for _, q := range queries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		payload := exaRequest{Query: q, NumResults: 5}
		payload.Contents.Text = true

		var parsed exaResponse
		err := postJSON(ctx, e.http, e.baseURL, map[string]string{"x-api-key": e.apiKey}, payload, &parsed)
		if err != nil {
			return nil, err
		}

		var corpus strings.Builder
		for _, r := range parsed.Results {
			corpus.WriteString(r.Title)
			corpus.WriteString("\n")
			corpus.WriteString(r.Text)
			corpus.WriteString("\n")
		}

		if found := addressRe.FindString(corpus.String()); found != "" {
			return &models.CandidateResult{
				Email:      strings.ToLower(found),
				Pattern:    "exa_search",
				Confidence: 0.85,
				Source:     "exa",
			}, nil
		}
	}
	return nil, nil
}
