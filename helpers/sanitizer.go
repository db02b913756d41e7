package helpers

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeUTF8 removes invalid UTF-8 sequences and NULL bytes from a string.
// Header values reach the comparators through it, so a broken charset never
// produces values that compare differently from what a dump shows.
func SanitizeUTF8(s string) string {
	// Quick check: if string is valid UTF-8 and has no NULL bytes, return as-is
	if utf8.ValidString(s) && !strings.ContainsRune(s, '\x00') {
		return s
	}

	buf := make([]rune, 0, len(s))
	for i, r := range s {
		if r == '\x00' {
			continue
		}

		// Skip invalid UTF-8 sequences
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}

		buf = append(buf, r)
	}
	return string(buf)
}

// SanitizeFlags turns flag list strings into a clean set of IMAP flags, as
// imap4flags requires: every string may hold several space separated flags,
// duplicates are dropped case-insensitively and the first spelling wins.
//
// Filters out:
// - Flags containing "NIL" or "NULL" (case-insensitive), which clients
// reject as keywords
// - Empty and whitespace-only flags
// - Flags that are not valid IMAP atoms
//
// The result keeps the input order. A nil input returns nil.
func SanitizeFlags(flags []string) []string {
	if flags == nil {
		return nil
	}

	sanitized := make([]string, 0, len(flags))
	seen := make(map[string]bool, len(flags))
	for _, item := range flags {
		for _, flag := range strings.Fields(item) {
			flagUpper := strings.ToUpper(flag)
			if strings.Contains(flagUpper, "NIL") || strings.Contains(flagUpper, "NULL") {
				continue
			}
			if !ValidFlag(flag) || seen[flagUpper] {
				continue
			}
			seen[flagUpper] = true
			sanitized = append(sanitized, flag)
		}
	}
	return sanitized
}

// ValidFlag reports whether flag is a system flag such as \Seen or a
// keyword made of IMAP atom characters.
func ValidFlag(flag string) bool {
	if strings.HasPrefix(flag, `\`) {
		flag = flag[1:]
	}
	if flag == "" {
		return false
	}
	for i := 0; i < len(flag); i++ {
		c := flag[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`(){%*"\]`, c) >= 0 {
			return false
		}
	}
	return true
}

// ValidMailboxName reports whether name can be used as a fileinto target:
// valid UTF-8 without control characters, no empty hierarchy levels for
// the "/" separator, and not longer than 1024 octets.
func ValidMailboxName(name string) bool {
	if name == "" || len(name) > 1024 || !utf8.ValidString(name) {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	for _, level := range strings.Split(name, "/") {
		if strings.TrimSpace(level) == "" {
			return false
		}
	}
	return true
}
