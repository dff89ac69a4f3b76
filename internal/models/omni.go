package models

import "time"

// OmniResult is the OmniVerifier-compatible wire shape. Several booleans
// repeat under the field names older clients expect; keep every alias.
type OmniResult struct {
	Email  string `json:"email"`
	Result string `json:"result"`
	Status string `json:"status"`
	Reason string `json:"reason"`

	IsDisposable bool     `json:"is_disposable"`
	IsRole       bool     `json:"is_role"`
	IsFree       bool     `json:"is_free"`
	MxRecords    []string `json:"mx_records"`

	IsValid    bool `json:"is_valid"`
	IsCatchall bool `json:"is_catchall"`
	MxFound    bool `json:"mx_found"`
	SmtpCheck  bool `json:"smtp_check"`

	Disposable   bool `json:"disposable"`
	RoleAccount  bool `json:"role_account"`
	FreeProvider bool `json:"free_provider"`

	IsDeliverable *bool    `json:"is_deliverable"`
	IsCatchAll    *bool    `json:"is_catch_all"`
	Provider      Provider `json:"provider"`
	MxHost        string   `json:"mx_host"`
	SmtpCode      int      `json:"smtp_code"`
	VerifiedAt    string   `json:"verified_at"`

	Tier       int    `json:"_kadenverify_tier,omitempty"`
	TierReason string `json:"_kadenverify_reason,omitempty"`
}

// ToOmni maps the internal result onto the compatibility shape. A catch-all
// acceptance surfaces as accept_all/catch_all whether the row is risky or
// unknown; risky without catch-all stays risky and never degrades to unknown.
func (r *VerificationResult) ToOmni() OmniResult {
	var result, status string
	switch {
	case r.Reachability == ReachabilitySafe:
		result, status = "deliverable", "valid"
	case r.Reachability == ReachabilityInvalid:
		result, status = "undeliverable", "invalid"
	case r.Reachability == ReachabilityRisky && r.CatchAll():
		result, status = "accept_all", "catch_all"
	case r.Reachability == ReachabilityRisky:
		result, status = "risky", "risky"
	case r.CatchAll():
		result, status = "accept_all", "catch_all"
	default:
		result, status = "unknown", "unknown"
	}

	reason := r.Error
	if reason == "" {
		reason = string(r.Reachability)
	}

	mxRecords := []string{}
	if r.MxHost != "" {
		mxRecords = []string{r.MxHost}
	}

	return OmniResult{
		Email:  r.Email,
		Result: result,
		Status: status,
		Reason: reason,

		IsDisposable: r.IsDisposable,
		IsRole:       r.IsRole,
		IsFree:       r.IsFree,
		MxRecords:    mxRecords,

		IsValid:    r.Reachability == ReachabilitySafe,
		IsCatchall: r.CatchAll(),
		MxFound:    r.MxHost != "",
		SmtpCheck:  r.SmtpCode > 0,

		Disposable:   r.IsDisposable,
		RoleAccount:  r.IsRole,
		FreeProvider: r.IsFree,

		IsDeliverable: r.IsDeliverable,
		IsCatchAll:    r.IsCatchAll,
		Provider:      r.Provider,
		MxHost:        r.MxHost,
		SmtpCode:      r.SmtpCode,
		VerifiedAt:    r.VerifiedAt.UTC().Format(time.RFC3339),
	}
}
