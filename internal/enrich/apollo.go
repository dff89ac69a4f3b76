package enrich

import (
	"context"
	"strings"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/httpretry"
)

const (
	apolloEndpoint = "https://api.apollo.io/v1/people/match"

	// ApolloCostPerMatch is the effective per-credit price of one Apollo
	// people match. The priciest source in the chain, so it goes last.
	ApolloCostPerMatch = 0.10
)

// Apollo resolves a person through Apollo's people-match API.
type Apollo struct {
	apiKey  string
	baseURL string
	http    httpretry.HTTPDoer
}

// NewApollo returns a ready adapter, or nil when no API key is configured.
func NewApollo(apiKey string) Adapter {
	if apiKey == "" {
		return nil
	}
	return &Apollo{
		apiKey:  apiKey,
		baseURL: apolloEndpoint,
		http:    newAPIClient(),
	}
}

func (a *Apollo) Name() string  { return "apollo_api" }
func (a *Apollo) Cost() float64 { return ApolloCostPerMatch }

type apolloRequest struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	OrganizationName string `json:"organization_name"`
	Domain           string `json:"domain"`
}

type apolloResponse struct {
	Person struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"person"`
}

func (a *Apollo) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error) {
	domain = strings.ToLower(domain)
	payload := apolloRequest{
		FirstName:        first,
		LastName:         last,
		OrganizationName: strings.SplitN(domain, ".", 2)[0],
		Domain:           domain,
	}

	var parsed apolloResponse
	headers := map[string]string{
		"X-Api-Key":     a.apiKey,
		"Cache-Control": "no-cache",
	}
	if err := postJSON(ctx, a.http, a.baseURL, headers, payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.Person.Email == "" {
		return nil, nil
	}
	return &models.CandidateResult{
		Email:      strings.ToLower(parsed.Person.Email),
		Pattern:    "apollo_api",
		Confidence: 0.92,
		Source:     "apollo_api",
	}, nil
}
