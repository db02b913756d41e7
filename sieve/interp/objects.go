package interp

import (
	"strings"
	"unicode/utf8"

	"github.com/migadu/sora-sieve/helpers"
)

// Core object codes.
const (
	ComparatorOctet uint64 = iota
	ComparatorASCIICasemap
)

const (
	MatchIs uint64 = iota
	MatchContains
	MatchMatches
)

const (
	AddressAll uint64 = iota
	AddressLocalPart
	AddressDomain
)

func coreObjects() []Object {
	return []Object{
		&ComparatorDef{
			ObjectDef: ObjectDef{Class: ClassComparator, Name: "i;octet", Code: ComparatorOctet},
			Compare:   strings.Compare,
			Fold:      func(s string) string { return s },
		},
		&ComparatorDef{
			ObjectDef:       ObjectDef{Class: ClassComparator, Name: "i;ascii-casemap", Code: ComparatorASCIICasemap},
			Compare:         func(a, b string) int { return strings.Compare(ASCIILower(a), ASCIILower(b)) },
			Fold:            ASCIILower,
			CaseInsensitive: true,
		},
		&MatchTypeDef{
			ObjectDef: ObjectDef{Class: ClassMatchType, Name: "is", Code: MatchIs},
			Match: func(mc *MatchContext, value, key string) (bool, error) {
				return mc.Comparator.Compare(value, key) == 0, nil
			},
		},
		&MatchTypeDef{
			ObjectDef: ObjectDef{Class: ClassMatchType, Name: "contains", Code: MatchContains},
			Substring: true,
			Match: func(mc *MatchContext, value, key string) (bool, error) {
				fold := mc.Comparator.Fold
				return strings.Contains(fold(value), fold(key)), nil
			},
		},
		&MatchTypeDef{
			ObjectDef: ObjectDef{Class: ClassMatchType, Name: "matches", Code: MatchMatches},
			Substring: true,
			Match: func(mc *MatchContext, value, key string) (bool, error) {
				fold := mc.Comparator.Fold
				return WildcardMatch(fold(value), fold(key)), nil
			},
		},
		&AddressPartDef{
			ObjectDef: ObjectDef{Class: ClassAddressPart, Name: "all", Code: AddressAll},
			Extract:   func(addr string) (string, bool) { return addr, true },
		},
		&AddressPartDef{
			ObjectDef: ObjectDef{Class: ClassAddressPart, Name: "localpart", Code: AddressLocalPart},
			Extract: func(addr string) (string, bool) {
				local, _, _ := helpers.SplitAddress(addr)
				return local, true
			},
		},
		&AddressPartDef{
			ObjectDef: ObjectDef{Class: ClassAddressPart, Name: "domain", Code: AddressDomain},
			Extract: func(addr string) (string, bool) {
				_, domain, ok := helpers.SplitAddress(addr)
				return domain, ok
			},
		},
	}
}

// ASCIILower lowercases ASCII letters only, as i;ascii-casemap requires.
func ASCIILower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if 'A' <= b[j] && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

type patternKind uint8

const (
	patLiteral patternKind = iota
	patOne
	patAny
)

type patternToken struct {
	kind patternKind
	r    rune
}

func compilePattern(pattern string) []patternToken {
	tokens := make([]patternToken, 0, utf8.RuneCountInString(pattern))
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			tokens = append(tokens, patternToken{kind: patLiteral, r: r})
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*':
			tokens = append(tokens, patternToken{kind: patAny})
		case r == '?':
			tokens = append(tokens, patternToken{kind: patOne})
		default:
			tokens = append(tokens, patternToken{kind: patLiteral, r: r})
		}
	}
	if escaped {
		tokens = append(tokens, patternToken{kind: patLiteral, r: '\\'})
	}
	return tokens
}

// WildcardMatch reports whether value matches a :matches pattern, where *
// matches any run of characters, ? a single one, and \ escapes the next.
func WildcardMatch(value, pattern string) bool {
	p := compilePattern(pattern)
	v := []rune(value)

	vi, pi := 0, 0
	starP, starV := -1, 0
	for vi < len(v) {
		switch {
		case pi < len(p) && (p[pi].kind == patOne || (p[pi].kind == patLiteral && p[pi].r == v[vi])):
			vi++
			pi++
		case pi < len(p) && p[pi].kind == patAny:
			starP, starV = pi, vi
			pi++
		case starP >= 0:
			starV++
			pi, vi = starP+1, starV
		default:
			return false
		}
	}
	for pi < len(p) && p[pi].kind == patAny {
		pi++
	}
	return pi == len(p)
}
