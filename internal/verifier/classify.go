package verifier

import (
	"fmt"
	"strings"

	"mailprobe/internal/lookup"
	"mailprobe/internal/models"
)

// Verdict is the classified outcome of a single session.
type Verdict struct {
	Status      models.VerificationStatus
	Code        int
	IsCatchAll  bool
	IsTemporary bool
	Reason      string
}

// Classify maps the RCPT TO reply onto a verdict. Pure function; rows are
// evaluated top to bottom and the first match wins.
//
// The enumerated numeric branches are deliberately checked before the
// greylist keyword, so "451 greylisted" stays retry_later and the keyword
// only catches codes outside the enumerated sets. 252 maps to catch_all:
// RFC 5321 only promises "cannot VRFY, but will accept", but a server
// that accepts unverifiable recipients is a catch-all for our purposes.
func Classify(code int, message string) Verdict {
	switch {
	case code == 250:
		return Verdict{Status: models.StatusValid, Code: code, Reason: "Mailbox exists"}
	case code == 251:
		return Verdict{Status: models.StatusValid, Code: code, Reason: "User not local but will forward"}
	case code == 252:
		return Verdict{Status: models.StatusCatchAll, Code: code, IsCatchAll: true,
			Reason: "Cannot verify user, but will accept message"}
	case code == 550 || code == 551 || code == 552 || code == 553 || code == 554:
		return Verdict{Status: models.StatusInvalid, Code: code,
			Reason: "Mailbox rejected: " + message}
	case code == 450 || code == 451 || code == 452:
		return Verdict{Status: models.StatusRetryLater, Code: code, IsTemporary: true,
			Reason: "Temporary error: " + message}
	case code == 421:
		return Verdict{Status: models.StatusRetryLater, Code: code, IsTemporary: true,
			Reason: "Server busy: " + message}
	case strings.Contains(strings.ToLower(message), "greylist"):
		return Verdict{Status: models.StatusGreylisted, Code: code, IsTemporary: true,
			Reason: "Greylisted: " + message}
	case code >= 500:
		return Verdict{Status: models.StatusInvalid, Code: code,
			Reason: "Permanent error: " + message}
	case code >= 400:
		return Verdict{Status: models.StatusRetryLater, Code: code, IsTemporary: true,
			Reason: "Temporary error: " + message}
	default:
		return Verdict{Status: models.StatusUnknown, Code: code,
			Reason: fmt.Sprintf("Unknown SMTP response: %d %s", code, message)}
	}
}

// classifyBlocked turns a refusal before RCPT TO into a blocked verdict.
// A non-220 greeting is never temporary — even 4xx there usually means
// the connecting IP is unwelcome — while 4xx refusals of EHLO/HELO/MAIL
// are transient and worth another attempt.
func classifyBlocked(state string, code int, message string) Verdict {
	temp := state != lookup.StateConnect && code >= 400 && code < 500
	return Verdict{
		Status:      models.StatusBlocked,
		Code:        code,
		IsTemporary: temp,
		Reason:      fmt.Sprintf("Blocked at %s: %s", state, message),
	}
}
