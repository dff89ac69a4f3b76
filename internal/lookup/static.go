package lookup

import (
	"strings"
	"unicode"

	"github.com/kadenwood/kadenverify/internal/models"
)

// Known disposable/burner domains.
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
	"trashmail.com": {}, "getnada.com": {}, "maildrop.cc": {},
	"fakeinbox.com": {}, "mintemail.com": {}, "mytemp.email": {},
	"tempail.com": {}, "mohmal.com": {}, "burnermail.io": {},
	"spamgourmet.com": {}, "mailnesia.com": {}, "emailondeck.com": {},
	"tempmailo.com": {}, "33mail.com": {}, "anonbox.net": {},
}

// Role/function local parts that rarely map to a person.
var roleAccounts = map[string]struct{}{
	"admin": {}, "administrator": {}, "support": {}, "info": {}, "sales": {},
	"contact": {}, "help": {}, "office": {}, "marketing": {}, "service": {},
	"jobs": {}, "careers": {}, "billing": {}, "abuse": {}, "postmaster": {},
	"noreply": {}, "no-reply": {}, "donotreply": {}, "webmaster": {},
	"hostmaster": {}, "hr": {}, "team": {}, "hello": {}, "hi": {},
	"mail": {}, "press": {}, "media": {}, "legal": {}, "security": {},
	"accounts": {}, "finance": {}, "newsletter": {}, "notifications": {},
}

// Free mailbox providers, keyed by domain.
var freeProviders = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "yahoo.co.uk": {},
	"yahoo.fr": {}, "yahoo.de": {}, "yahoo.es": {}, "yahoo.it": {},
	"yahoo.ca": {}, "yahoo.com.br": {}, "ymail.com": {}, "rocketmail.com": {},
	"hotmail.com": {}, "hotmail.co.uk": {}, "hotmail.fr": {}, "hotmail.de": {},
	"hotmail.es": {}, "hotmail.it": {}, "outlook.com": {}, "outlook.fr": {},
	"outlook.de": {}, "outlook.es": {}, "live.com": {}, "live.co.uk": {},
	"live.fr": {}, "msn.com": {}, "aol.com": {}, "icloud.com": {},
	"me.com": {}, "mac.com": {}, "mail.com": {}, "gmx.com": {},
	"gmx.net": {}, "gmx.de": {}, "web.de": {}, "protonmail.com": {},
	"proton.me": {}, "pm.me": {}, "zoho.com": {}, "zohomail.com": {},
	"yandex.ru": {}, "yandex.com": {}, "mail.ru": {}, "qq.com": {},
	"163.com": {}, "126.com": {}, "naver.com": {}, "daum.net": {},
	"seznam.cz": {}, "wp.pl": {}, "o2.pl": {}, "interia.pl": {},
	"libero.it": {}, "virgilio.it": {}, "orange.fr": {}, "wanadoo.fr": {},
	"laposte.net": {}, "free.fr": {}, "sfr.fr": {}, "t-online.de": {},
	"freenet.de": {}, "bluewin.ch": {}, "telenet.be": {}, "skynet.be": {},
	"ziggo.nl": {}, "xs4all.nl": {}, "comcast.net": {}, "verizon.net": {},
	"att.net": {}, "sbcglobal.net": {}, "cox.net": {}, "earthlink.net": {},
	"rediffmail.com": {}, "sina.com": {}, "sohu.com": {}, "yeah.net": {},
	"inbox.lv": {}, "bk.ru": {}, "list.ru": {}, "rambler.ru": {},
}

// domainInSet checks the full domain, then the registrable base (last two
// labels) so sub.tempmail.example still classifies.
func domainInSet(domain string, set map[string]struct{}) bool {
	domain = strings.ToLower(domain)
	if _, ok := set[domain]; ok {
		return true
	}
	parts := strings.Split(domain, ".")
	if len(parts) > 2 {
		base := strings.Join(parts[len(parts)-2:], ".")
		if _, ok := set[base]; ok {
			return true
		}
	}
	return false
}

// IsDisposableDomain checks if the domain is a known burner provider.
func IsDisposableDomain(domain string) bool {
	return domainInSet(domain, disposableDomains)
}

// IsRoleAccount checks if the local part is a generic function/role mailbox.
func IsRoleAccount(localPart string) bool {
	_, ok := roleAccounts[strings.ToLower(localPart)]
	return ok
}

// IsFreeProvider checks if the domain is a known free mailbox provider.
func IsFreeProvider(domain string) bool {
	return domainInSet(domain, freeProviders)
}

// Classify runs all three static checks for one address.
func Classify(localPart, domain string) models.Metadata {
	return models.Metadata{
		IsDisposable: IsDisposableDomain(domain),
		IsRole:       IsRoleAccount(localPart),
		IsFree:       IsFreeProvider(domain),
	}
}

// CalculateEntropy measures the "randomness" of a local part as the ratio of
// digits to total length. Above 0.5 reads as machine-generated.
func CalculateEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	digits := 0.0
	length := float64(len(s))

	for _, char := range s {
		if unicode.IsDigit(char) {
			digits++
		}
	}

	return digits / length
}
