package decision

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"vibe-trader/internal/domain"
)

const (
	sentinel       = "DECISION:"
	actKeyword     = "BUY"
	declineKeyword = "PASS"
)

// identifierPattern is the base58 alphabet with a lower length bound only;
// longer identifiers than a canonical mint are still accepted.
var identifierPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,}$`)

// Parse scans generated text for the sentinel line.
//
// Grammar, applied to each line after trimming and matched case-insensitively:
//
//	DECISION: BUY <identifier>
//	DECISION: PASS
//
// The first line that satisfies either form wins. The identifier keeps its
// original case because base58 addresses are case-sensitive. A BUY line whose
// identifier is missing or not base58-shaped (a placeholder, a plain word)
// yields an act decision with an empty target, which is never executable.
// The keyword must stand alone, so "BUYING" is not a verdict.
// Parse returns nil when no line matches, which is the normal outcome of a
// turn where the counterparty is still debating.
func Parse(text string) *domain.Decision {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !hasPrefixFold(trimmed, sentinel) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(sentinel):])
		switch {
		case hasKeyword(rest, actKeyword):
			return &domain.Decision{
				Verdict:   domain.VerdictAct,
				Target:    parseTarget(rest[len(actKeyword):]),
				Rationale: text,
			}
		case strings.EqualFold(rest, declineKeyword):
			return &domain.Decision{
				Verdict:   domain.VerdictDecline,
				Rationale: text,
			}
		}
	}
	return nil
}

// parseTarget returns the first whitespace-delimited token after BUY,
// stripped of wrapping punctuation the model tends to add, or "" when that
// token is not an identifier.
func parseTarget(tail string) string {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(tail), ":"))
	if len(fields) == 0 {
		return ""
	}
	target := strings.Trim(fields[0], "`'\"<>()[].,:*")
	if !validTarget(target) {
		return ""
	}
	return target
}

func validTarget(s string) bool {
	return identifierPattern.MatchString(s)
}

// hasKeyword reports whether s starts with keyword followed by the end of
// the line or a non-alphanumeric rune.
func hasKeyword(s, keyword string) bool {
	if !hasPrefixFold(s, keyword) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[len(keyword):])
	return next == utf8.RuneError || !(unicode.IsLetter(next) || unicode.IsDigit(next))
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
