package models

import "time"

type Reachability string

const (
	ReachabilitySafe    Reachability = "safe"
	ReachabilityRisky   Reachability = "risky"
	ReachabilityInvalid Reachability = "invalid"
	ReachabilityUnknown Reachability = "unknown"
)

// Bool is a helper for the tri-state pointer fields below.
func Bool(v bool) *bool { return &v }

// Metadata holds the static classification of an address, independent of any
// network lookup.
type Metadata struct {
	IsDisposable bool `json:"is_disposable"`
	IsRole       bool `json:"is_role"`
	IsFree       bool `json:"is_free"`
}

// DnsInfo is the outcome of an MX lookup for one domain. MxHosts is ordered by
// ascending MX preference; when no MX exists the A/AAAA fallback target is
// carried instead and FromFallback is set.
type DnsInfo struct {
	Domain       string   `json:"domain"`
	HasMX        bool     `json:"has_mx"`
	MxHosts      []string `json:"mx_hosts"`
	Provider     Provider `json:"provider"`
	FromFallback bool     `json:"from_fallback,omitempty"`
}

// FirstMx returns the preferred MX host, or "" when none resolved.
func (d DnsInfo) FirstMx() string {
	if len(d.MxHosts) == 0 {
		return ""
	}
	return d.MxHosts[0]
}

// SmtpResponse is one parsed server reply from an RCPT dialogue. Code 0 means
// the server never answered (connect failure, timeout, dropped connection).
type SmtpResponse struct {
	Code          int    `json:"code"`
	Message       string `json:"message"`
	IsInvalid     bool   `json:"is_invalid"`
	IsGreylisted  bool   `json:"is_greylisted"`
	IsBlacklisted bool   `json:"is_blacklisted"`
	IsFullInbox   bool   `json:"is_full_inbox"`
	IsDisabled    bool   `json:"is_disabled"`
}

// VerificationResult is the terminal outcome for one address. IsDeliverable
// and IsCatchAll are tri-state: nil means the dialogue never settled the
// question. VerifiedAt is always UTC.
type VerificationResult struct {
	Email         string       `json:"email"`
	Normalized    string       `json:"normalized"`
	Reachability  Reachability `json:"reachability"`
	IsDeliverable *bool        `json:"is_deliverable"`
	IsCatchAll    *bool        `json:"is_catch_all"`
	IsDisposable  bool         `json:"is_disposable"`
	IsRole        bool         `json:"is_role"`
	IsFree        bool         `json:"is_free"`
	MxHost        string       `json:"mx_host"`
	SmtpCode      int          `json:"smtp_code"`
	SmtpMessage   string       `json:"smtp_message"`
	Provider      Provider     `json:"provider"`
	Domain        string       `json:"domain"`
	VerifiedAt    time.Time    `json:"verified_at"`
	Error         string       `json:"error,omitempty"`
}

// CatchAll reports the catch-all flag with nil collapsed to false.
func (r *VerificationResult) CatchAll() bool {
	return r.IsCatchAll != nil && *r.IsCatchAll
}
