// Package comparators adds the i;ascii-numeric (RFC 4790) and
// i;unicode-casemap (RFC 5051) comparators. Each is its own extension,
// required as "comparator-<name>".
package comparators

import (
	"strings"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	ASCIINumeric   = "i;ascii-numeric"
	UnicodeCasemap = "i;unicode-casemap"
)

var (
	ASCIINumericExtension   = &interp.ExtensionDef{Name: "comparator-" + ASCIINumeric, Version: 1}
	UnicodeCasemapExtension = &interp.ExtensionDef{Name: "comparator-" + UnicodeCasemap, Version: 1}
)

// Register adds both comparator extensions.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	ext, err := reg.RegisterExtension(ASCIINumericExtension)
	if err != nil {
		return err
	}
	if err := reg.RegisterObject(ext, &interp.ComparatorDef{
		ObjectDef: interp.ObjectDef{Class: interp.ClassComparator, Name: ASCIINumeric, Code: 0},
		Compare:   CompareNumeric,
	}); err != nil {
		return err
	}

	ext, err = reg.RegisterExtension(UnicodeCasemapExtension)
	if err != nil {
		return err
	}
	return reg.RegisterObject(ext, &interp.ComparatorDef{
		ObjectDef:       interp.ObjectDef{Class: interp.ClassComparator, Name: UnicodeCasemap, Code: 0},
		Compare:         func(a, b string) int { return strings.Compare(FoldUnicode(a), FoldUnicode(b)) },
		Fold:            FoldUnicode,
		CaseInsensitive: true,
	})
}

// CompareNumeric orders strings by the number their leading digits spell.
// A string without leading digits is positive infinity, equal only to
// another such string.
func CompareNumeric(a, b string) int {
	na, okA := leadingDigits(a)
	nb, okB := leadingDigits(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	}
	if len(na) != len(nb) {
		if len(na) < len(nb) {
			return -1
		}
		return 1
	}
	return strings.Compare(na, nb)
}

// leadingDigits returns the leading digits of s without leading zeros.
func leadingDigits(s string) (string, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return "", false
	}
	digits := strings.TrimLeft(s[:end], "0")
	return digits, true
}

// FoldUnicode applies full case folding and compatibility decomposition.
// A Caser is stateful, so every call gets its own.
func FoldUnicode(s string) string {
	return norm.NFKD.String(cases.Fold().String(s))
}
