package helpers

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// SplitEmailAddress splits an email address into lowercased local part and
// domain. Both are empty when the address has no @.
func SplitEmailAddress(email string) (string, string) {
	local, domain, ok := SplitAddress(email)
	if !ok {
		return "", ""
	}
	return strings.ToLower(local), strings.ToLower(domain)
}

// SplitAddress splits an addr-spec at its last @ without changing case.
// Without an @ the whole input is the local part and ok is false.
func SplitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr, "", false
	}
	return addr[:at], addr[at+1:], true
}

// SplitDetail splits a local part at the first separator into the user and
// detail parts of RFC 5233 subaddressing.
func SplitDetail(local, separator string) (user, detail string, ok bool) {
	if separator == "" {
		return local, "", false
	}
	i := strings.Index(local, separator)
	if i < 0 {
		return local, "", false
	}
	return local[:i], local[i+len(separator):], true
}

// ParseAddresses extracts the addr-specs from an address header value. A
// value that does not parse is returned trimmed as the only address, so
// tests still see something to compare.
func ParseAddresses(value string) []string {
	list, err := mail.ParseAddressList(value)
	if err != nil || len(list) == 0 {
		if v := strings.TrimSpace(value); v != "" {
			return []string{v}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, addr.Address)
	}
	return out
}

// ValidAddress reports whether s is a single usable mail address.
func ValidAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	_, domain, ok := SplitAddress(addr.Address)
	return ok && domain != ""
}
