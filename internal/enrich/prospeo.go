package enrich

import (
	"context"
	"strings"

	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/pkg/httpretry"
)

const (
	prospeoEndpoint = "https://api.prospeo.io/enrich-person"

	// ProspeoCostPerEnrich is Prospeo's price for one enrichment call.
	ProspeoCostPerEnrich = 0.006
)

// Prospeo resolves a person through Prospeo's enrichment API. Only verified
// addresses are requested, so a hit is either provider-verified or at least
// provider-sourced.
type Prospeo struct {
	apiKey  string
	baseURL string
	http    httpretry.HTTPDoer
}

// NewProspeo returns a ready adapter, or nil when no API key is configured.
func NewProspeo(apiKey string) Adapter {
	if apiKey == "" {
		return nil
	}
	return &Prospeo{
		apiKey:  apiKey,
		baseURL: prospeoEndpoint,
		http:    newAPIClient(),
	}
}

func (p *Prospeo) Name() string  { return "prospeo_enrich" }
func (p *Prospeo) Cost() float64 { return ProspeoCostPerEnrich }

type prospeoRequest struct {
	Data struct {
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		CompanyWebsite string `json:"company_website"`
	} `json:"data"`
	OnlyVerifiedEmail bool `json:"only_verified_email"`
}

type prospeoResponse struct {
	Error    bool `json:"error"`
	Response struct {
		Email struct {
			Email       string `json:"email"`
			EmailStatus string `json:"email_status"`
		} `json:"email"`
	} `json:"response"`
}

func (p *Prospeo) Find(ctx context.Context, first, last, domain string) (*models.CandidateResult, error) {
	payload := prospeoRequest{OnlyVerifiedEmail: true}
	payload.Data.FirstName = first
	payload.Data.LastName = last
	payload.Data.CompanyWebsite = "https://" + strings.ToLower(domain)

	var parsed prospeoResponse
	err := postJSON(ctx, p.http, p.baseURL, map[string]string{"X-KEY": p.apiKey}, payload, &parsed)
	if err != nil {
		return nil, err
	}
	if parsed.Error || parsed.Response.Email.Email == "" {
		return nil, nil
	}

	confidence := 0.85
	if strings.EqualFold(parsed.Response.Email.EmailStatus, "VERIFIED") {
		confidence = 0.95
	}
	return &models.CandidateResult{
		Email:      strings.ToLower(parsed.Response.Email.Email),
		Pattern:    "prospeo_enrich",
		Confidence: confidence,
		Source:     "prospeo",
	}, nil
}
