package models

type Provider string

const (
	ProviderGmail           Provider = "gmail"
	ProviderGoogleWorkspace Provider = "google_workspace"
	ProviderYahoo           Provider = "yahoo"
	ProviderMicrosoft365    Provider = "microsoft365"
	ProviderHotmail         Provider = "hotmail"
	ProviderGeneric         Provider = "generic"
)

// ProviderPolicy decides how far verification may go against a provider's MX
// tier. Hotmail B2C blocks unauthenticated RCPT probing outright, the Google
// family answers definitively so a catch-all probe adds nothing.
type ProviderPolicy struct {
	DoSmtp          bool
	DoCatchAllProbe bool
	AutoMarkRisky   bool
	Rationale       string
}

var providerPolicies = map[Provider]ProviderPolicy{
	ProviderGmail:           {DoSmtp: true, Rationale: "returns definitive 550 for unknown mailboxes"},
	ProviderGoogleWorkspace: {DoSmtp: true, Rationale: "rejects unknown mailboxes like gmail"},
	ProviderYahoo:           {DoSmtp: true, DoCatchAllProbe: true, Rationale: "answers RCPT probes, catch-all tenants exist"},
	ProviderMicrosoft365:    {DoSmtp: true, DoCatchAllProbe: true, Rationale: "tenant-configured, catch-all common"},
	ProviderHotmail:         {AutoMarkRisky: true, Rationale: "consumer outlook blocks unauthenticated RCPT probing"},
	ProviderGeneric:         {DoSmtp: true, DoCatchAllProbe: true, Rationale: "unknown MX, full dialogue required"},
}

// Policy returns the verification policy for the provider, defaulting to the
// generic full-dialogue policy for unrecognized tags.
func (p Provider) Policy() ProviderPolicy {
	if pol, ok := providerPolicies[p]; ok {
		return pol
	}
	return providerPolicies[ProviderGeneric]
}
