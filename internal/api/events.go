package api

import (
	"strings"

	"github.com/kadenwood/kadenverify/internal/metrics"
	"github.com/kadenwood/kadenverify/internal/models"
	"github.com/kadenwood/kadenverify/internal/validator"
)

// EventRecorder bridges tiered-engine events into the metrics registry.
func EventRecorder(reg *metrics.Registry) validator.EventFunc {
	return func(ev validator.Event) {
		switch ev.Type {
		case validator.EventCacheLookup:
			if ev.Hit {
				reg.CacheHit()
			} else {
				reg.CacheMiss()
			}
		case validator.EventVerificationResult:
			reg.Enrichment(ev.EnrichmentCost)
			reg.SMTPFailure(failureReason(ev.Reachability, ev.SmtpCode, ev.Error, ev.Reason))
		}
	}
}

// failureReason buckets a verification outcome for the failure-reason
// tally. Order matters: connection loss before code classes, then error
// text, then the role filter. Outcomes that match nothing yield "" and are
// not counted.
func failureReason(reach models.Reachability, smtpCode int, errText, reason string) string {
	switch {
	case smtpCode == 0 && reach == models.ReachabilityUnknown:
		return "smtp_connection_or_timeout"
	case smtpCode >= 400 && smtpCode < 500:
		return "smtp_4xx_temp_failure"
	case smtpCode >= 500:
		return "smtp_5xx_rejection"
	case strings.HasPrefix(errText, "syntax:"):
		return "syntax_invalid"
	case strings.Contains(errText, "no MX"):
		return "dns_no_mx"
	case reason == "role_account_filtered":
		return "role_account_filtered"
	default:
		return ""
	}
}
