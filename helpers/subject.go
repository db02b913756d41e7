package helpers

import (
	"strings"
)

// BaseSubject strips reply, forward and auto-reply prefixes from a subject,
// as RFC 5256 extracts the base subject, but keeps the original case. The
// vacation action builds its default subject from it so replies to replies
// do not pile up prefixes.
//
// Handled prefixes, case-insensitively and repeatedly:
// - Re:, Re[2]:, Re(3):
// - Fw:, Fwd:, Forward:
// - Auto:
func BaseSubject(subject string) string {
	s := strings.TrimSpace(SanitizeUTF8(subject))
	for {
		next := removeForwardPrefix(removeReplyPrefix(s))
		if next == s {
			return s
		}
		s = next
	}
}

// removeReplyPrefix removes reply prefixes like "Re:", "RE:", "Re[2]:" and
// the "Auto:" prefix of automatic replies.
func removeReplyPrefix(s string) string {
	upper := strings.ToUpper(s)

	for _, prefix := range []string{"RE:", "AUTO:"} {
		if strings.HasPrefix(upper, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}

	// "Re[N]:" or "Re(N):" style prefixes
	if strings.HasPrefix(upper, "RE[") || strings.HasPrefix(upper, "RE(") {
		closeChar := ']'
		if s[2] == '(' {
			closeChar = ')'
		}
		closeIdx := strings.IndexRune(s[3:], closeChar)
		if closeIdx >= 0 {
			afterBracket := s[3+closeIdx+1:]
			if strings.HasPrefix(afterBracket, ":") {
				return strings.TrimSpace(afterBracket[1:])
			}
		}
	}

	return s
}

// removeForwardPrefix removes forward prefixes like "Fwd:", "FW:" and
// "Forward:".
func removeForwardPrefix(s string) string {
	upper := strings.ToUpper(s)
	for _, prefix := range []string{"FWD:", "FW:", "FORWARD:"} {
		if strings.HasPrefix(upper, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}
