package lookup

import (
	"regexp"

	"github.com/kadenwood/kadenverify/internal/models"
)

// SMTP servers phrase their rejections in whatever language the operator
// ships, so the pattern tables below cover English, French, German, Spanish,
// Italian, Polish, and Czech. All matching is case-insensitive.

// invalidPatterns match permanent "this mailbox does not exist" rejections.
var invalidPatterns = compileAll([]string{
	// English
	`user unknown`,
	`unknown user`,
	`user not found`,
	`no such user`,
	`mailbox not found`,
	`mailbox unavailable`,
	`recipient not found`,
	`recipient rejected`,
	`recipient unknown`,
	`unknown recipient`,
	`address rejected`,
	`address unknown`,
	`does not exist`,
	`doesn't exist`,
	`not exist`,
	`no mailbox`,
	`invalid address`,
	`invalid recipient`,
	`invalid mailbox`,
	`undeliverable`,
	`bad destination`,
	`unknown address`,
	`account .* not found`,
	`no such account`,
	`mailbox .* does not exist`,
	`email address .* not found`,
	`is not a valid mailbox`,
	`relay not permitted`,
	`relaying denied`,
	`not our customer`,
	`no such recipient`,
	`verification failed`,
	`account has been disabled`,
	`account disabled`,
	`this mailbox .* disabled`,
	`mailbox disabled`,
	`recipient address denied`,
	// French
	`utilisateur inconnu`,
	`adresse .* introuvable`,
	`destinataire inconnu`,
	`bo[iî]te .* introuvable`,
	`n'existe pas`,
	// German
	`postfach nicht gefunden`,
	`benutzer nicht gefunden`,
	`empf[aä]nger .* unbekannt`,
	`unbekannter empf[aä]nger`,
	`nicht gefunden`,
	`existiert nicht`,
	// Spanish
	`usuario desconocido`,
	`destinatario desconocido`,
	`buz[oó]n no encontrado`,
	`no existe`,
	`direcci[oó]n .* inv[aá]lida`,
	// Italian
	`utente sconosciuto`,
	`destinatario sconosciuto`,
	`casella .* non trovata`,
	`non esiste`,
	// Polish
	`u[zż]ytkownik nieznany`,
	`skrzynka .* nie istnieje`,
	`odbiorca nieznany`,
	`nie istnieje`,
	// Czech
	`u[zž]ivatel nenalezen`,
	`adresa nenalezena`,
	`p[rř][ií]jemce nenalezen`,
	`neexistuje`,
})

// blacklistPatterns match rejections aimed at OUR sending IP, not the
// recipient. A hit here means the verdict says nothing about the mailbox.
var blacklistPatterns = compileAll([]string{
	`spamhaus`,
	`proofpoint`,
	`cloudmark`,
	`barracuda`,
	`sorbs`,
	`spamcop`,
	`blocked.*ip`,
	`ip.*blocked`,
	`blacklist`,
	`blocklist`,
	`denied.*ip`,
	`ip.*denied`,
	`reject.*ip`,
	`listed.*rbl`,
	`rbl.*listed`,
	`dnsbl`,
	`your ip .* has been .* blocked`,
	`connection .* refused`,
	`access denied`,
	`not allowed to send`,
	`service refused`,
})

// greylistPatterns match temporary "come back later" deferrals.
var greylistPatterns = compileAll([]string{
	`try again later`,
	`temporarily rejected`,
	`please try again`,
	`temporary.*failure`,
	`temporary.*error`,
	`greylisted`,
	`greylist`,
	`too many connections`,
	`rate limit`,
	`come back later`,
	`defer.*connection`,
	`resource temporarily unavailable`,
	`service temporarily unavailable`,
})

// fullInboxPatterns match quota rejections. The user exists but cannot
// receive right now.
var fullInboxPatterns = compileAll([]string{
	`mailbox full`,
	`mailbox .* full`,
	`over.*quota`,
	`quota exceeded`,
	`insufficient.*storage`,
	`not enough space`,
	`user .* over .* quota`,
	`mail.*box.*storage`,
	`exceeded.*storage`,
	`bo[iî]te .* pleine`,  // French
	`postfach .* voll`,    // German
	`buz[oó]n .* lleno`,   // Spanish
})

// disabledPatterns match suspended or deactivated accounts.
var disabledPatterns = compileAll([]string{
	`account .* disabled`,
	`account .* suspended`,
	`account .* deactivated`,
	`account .* locked`,
	`mailbox .* disabled`,
	`mailbox .* inactive`,
	`user .* disabled`,
	`temporarily disabled`,
})

func compileAll(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

func matchAny(msg string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// ParseResponse classifies an SMTP reply into structured flags.
//
// Precedence matters here:
//  1. 2xx is success, nothing to classify.
//  2. Blacklist wording wins at ANY code. If the server is rejecting our IP,
//     the reply tells us nothing about the recipient.
//  3. 4xx is temporary: greylist wording, then full-inbox wording, and any
//     unrecognized 4xx is treated as greylisting so callers retry.
//  4. 5xx is permanent: disabled accounts (also invalid), then full inbox
//     (user exists), then invalid-mailbox wording, then the bare
//     550/551/552/553 codes which are invalid in practice even without a
//     recognizable message.
func ParseResponse(code int, message string) models.SmtpResponse {
	resp := models.SmtpResponse{Code: code, Message: message}

	if code >= 200 && code < 300 {
		return resp
	}

	if matchAny(message, blacklistPatterns) {
		resp.IsBlacklisted = true
		return resp
	}

	if code >= 400 && code < 500 {
		switch {
		case matchAny(message, greylistPatterns):
			resp.IsGreylisted = true
		case matchAny(message, fullInboxPatterns):
			resp.IsFullInbox = true
		default:
			resp.IsGreylisted = true
		}
		return resp
	}

	if code >= 500 && code < 600 {
		if matchAny(message, disabledPatterns) {
			resp.IsDisabled = true
			resp.IsInvalid = true
			return resp
		}
		if matchAny(message, fullInboxPatterns) {
			resp.IsFullInbox = true
			return resp
		}
		if matchAny(message, invalidPatterns) {
			resp.IsInvalid = true
			return resp
		}
		if code == 550 || code == 551 || code == 552 || code == 553 {
			resp.IsInvalid = true
		}
	}

	return resp
}
