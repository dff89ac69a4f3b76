package models

// CandidateResult is one pattern attempt inside the finder waterfall.
type CandidateResult struct {
	Email      string  `json:"email"`
	Pattern    string  `json:"pattern,omitempty"`
	SmtpCode   int     `json:"smtp_code"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// FinderResult is the outcome of one find(first, last, domain) run. Email is
// empty when nothing survived the waterfall; Cost carries total enrichment
// spend in USD whether or not the chain produced anything.
type FinderResult struct {
	Email            string            `json:"email,omitempty"`
	Confidence       float64           `json:"confidence"`
	Method           string            `json:"method,omitempty"`
	Reachability     Reachability      `json:"reachability"`
	DomainIsCatchall *bool             `json:"domain_is_catchall"`
	Provider         Provider          `json:"provider"`
	CandidatesTried  int               `json:"candidates_tried"`
	Candidates       []CandidateResult `json:"candidates,omitempty"`
	Cost             float64           `json:"cost"`
	Error            string            `json:"error,omitempty"`
}
