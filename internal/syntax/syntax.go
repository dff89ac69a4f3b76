package syntax

import (
	"strings"

	"golang.org/x/net/idna"
)

// Result carries the verdict for one address plus its normalized parts.
// Normalized is the canonical cache key: lower-cased, alias domains folded,
// gmail dots and plus-suffixes stripped.
type Result struct {
	IsValid    bool
	Reason     string
	LocalPart  string
	Domain     string
	Normalized string
}

const (
	maxTotalLength  = 254
	maxLocalLength  = 64
	maxDomainLength = 255
	maxLabelLength  = 63
)

var domainAliases = map[string]string{
	"googlemail.com": "gmail.com",
}

func invalid(reason string) Result { return Result{Reason: reason} }

// Validate checks an address against the RFC 5322 dot-atom subset. Quoted
// local parts are rejected. Unicode domains are converted to punycode before
// label validation, so already-punycoded input passes through unchanged.
func Validate(email string) Result {
	email = strings.TrimSpace(email)

	if email == "" {
		return invalid("empty email")
	}
	if len(email) > maxTotalLength {
		return invalid("total length exceeds 254")
	}
	if strings.Count(email, "@") != 1 {
		return invalid("must contain exactly one @")
	}

	at := strings.LastIndex(email, "@")
	localPart := strings.TrimSpace(email[:at])
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))

	if canonical, ok := domainAliases[domain]; ok {
		domain = canonical
	}
	if !isASCII(domain) {
		ascii, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return invalid("invalid characters in domain")
		}
		domain = ascii
	}

	normalizedLocal := strings.ToLower(localPart)
	if domain == "gmail.com" {
		normalizedLocal = strings.ReplaceAll(normalizedLocal, ".", "")
		if i := strings.Index(normalizedLocal, "+"); i >= 0 {
			normalizedLocal = normalizedLocal[:i]
		}
	}
	normalized := normalizedLocal + "@" + domain

	if localPart == "" {
		return invalid("empty local part")
	}
	if len(localPart) > maxLocalLength {
		return invalid("local part exceeds 64 characters")
	}
	if domain == "" {
		return invalid("empty domain")
	}
	if len(domain) > maxDomainLength {
		return invalid("domain exceeds 255 characters")
	}
	if strings.Contains(localPart, "..") {
		return invalid("consecutive dots in local part")
	}
	if strings.HasPrefix(localPart, ".") || strings.HasSuffix(localPart, ".") {
		return invalid("leading or trailing dot in local part")
	}
	if strings.HasPrefix(localPart, `"`) || strings.HasSuffix(localPart, `"`) {
		return invalid("quoted strings not supported")
	}
	if !validLocalPart(localPart) {
		return invalid("invalid characters in local part")
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return invalid("domain must have at least one dot")
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return invalid("TLD too short")
	}
	if !isAlpha(tld) && !strings.HasPrefix(tld, "xn--") {
		return invalid("TLD must be alphabetic")
	}
	for _, label := range labels {
		if label == "" {
			return invalid("empty domain label")
		}
		if len(label) > maxLabelLength {
			return invalid("domain label exceeds 63 characters")
		}
		if !validLabel(label) {
			return invalid("invalid domain label: " + label)
		}
	}

	return Result{
		IsValid:    true,
		LocalPart:  localPart,
		Domain:     domain,
		Normalized: normalized,
	}
}

// Normalize returns the canonical cache key for an address. Inputs that fail
// validation fall back to the lower-cased trimmed form so lookups stay stable.
func Normalize(email string) string {
	if r := Validate(email); r.IsValid {
		return r.Normalized
	}
	return strings.ToLower(strings.TrimSpace(email))
}

const atextSpecials = "!#$%&'*+-/=?^_`{|}~"

func isAtext(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(atextSpecials, r)
}

func validLocalPart(s string) bool {
	for _, r := range s {
		if r != '.' && !isAtext(r) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(label)-1 {
				return false
			}
		default:
			return false
		}
	}
	return len(label) > 0
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return len(s) > 0
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
