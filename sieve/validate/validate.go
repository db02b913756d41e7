// Package validate checks configured capabilities and cross-checks scripts
// against the go-sieve parser before they are compiled.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gosieve "github.com/foxcpp/go-sieve"
	"github.com/migadu/sora-sieve/sieve/ast"
)

var (
	// ErrUnknownExtension is returned for capabilities nothing implements.
	ErrUnknownExtension = errors.New("unknown sieve extension")
	// ErrRejected is returned when the cross-check parser refuses a script.
	ErrRejected = errors.New("script rejected by cross-check")
)

// CrossCheckExtensions lists the capabilities go-sieve understands. Scripts
// requiring anything else are not cross-checked.
var CrossCheckExtensions = []string{
	"fileinto",
	"envelope",
	"encoded-character",
	"comparator-i;octet",
	"comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric",
	"comparator-i;unicode-casemap",
	"imap4flags",
	"variables",
	"relational",
	"vacation",
	"copy",
	"regex",
}

// Extensions checks that every requested capability is supported.
func Extensions(requested, supported []string) error {
	known := make(map[string]bool, len(supported))
	for _, name := range supported {
		known[name] = true
	}
	var invalid []string
	for _, name := range requested {
		if !known[name] {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s (supported: %s)", ErrUnknownExtension,
			strings.Join(invalid, ", "), strings.Join(supported, ", "))
	}
	return nil
}

// Capabilities returns the sorted capability list to advertise for the
// enabled extensions. Comparators every implementation has are included.
func Capabilities(enabled []string) []string {
	seen := map[string]bool{"comparator-i;octet": true, "comparator-i;ascii-casemap": true}
	for _, name := range enabled {
		seen[name] = true
	}
	caps := make([]string, 0, len(seen))
	for name := range seen {
		caps = append(caps, name)
	}
	sort.Strings(caps)
	return caps
}

// CrossCheck loads src with go-sieve restricted to enabled. It reports
// false without an error when the script requires something go-sieve does
// not know, since the result would say nothing about the script.
func CrossCheck(src string, script *ast.Script, enabled []string) (bool, error) {
	checkable := make(map[string]bool, len(CrossCheckExtensions))
	for _, name := range CrossCheckExtensions {
		checkable[name] = true
	}
	for _, name := range script.Requires() {
		if !checkable[name] {
			return false, nil
		}
	}

	opts := gosieve.DefaultOptions()
	opts.EnabledExtensions = intersect(enabled, CrossCheckExtensions)
	if _, err := gosieve.Load(strings.NewReader(src), opts); err != nil {
		return true, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return true, nil
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	out := []string{}
	for _, s := range a {
		if in[s] {
			out = append(out, s)
		}
	}
	return out
}
