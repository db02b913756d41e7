package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchValues(t *testing.T) {
	reg := NewRegistry()
	cmp := func(name string) *ComparatorDef {
		c, ok := reg.Comparator(name)
		require.True(t, ok, name)
		return c
	}
	mt := func(name string) *MatchTypeDef {
		m, ok := reg.MatchType(name)
		require.True(t, ok, name)
		return m
	}
	ap := func(name string) *AddressPartDef {
		a, ok := reg.AddressPart(name)
		require.True(t, ok, name)
		return a
	}

	tests := []struct {
		name   string
		mt     string
		cmp    string
		ap     string
		keys   []string
		values []string
		want   bool
	}{
		{"is casemap", "is", "i;ascii-casemap", "", []string{"example"}, []string{"Example"}, true},
		{"is octet", "is", "i;octet", "", []string{"example"}, []string{"Example"}, false},
		{"contains", "contains", "i;ascii-casemap", "", []string{"hello"}, []string{"he said Hello"}, true},
		{"contains octet", "contains", "i;octet", "", []string{"hello"}, []string{"he said Hello"}, false},
		{"second key", "is", "i;ascii-casemap", "", []string{"a", "b"}, []string{"B"}, true},
		{"second value", "is", "i;ascii-casemap", "", []string{"b"}, []string{"a", "b"}, true},
		{"no values", "is", "i;ascii-casemap", "", []string{""}, nil, false},
		{"empty value is", "is", "i;ascii-casemap", "", []string{""}, []string{""}, true},
		{"matches", "matches", "i;ascii-casemap", "", []string{"*@EXAMPLE.com"}, []string{"joe@example.com"}, true},
		{"domain", "is", "i;ascii-casemap", "domain", []string{"example.com"}, []string{"joe@Example.COM"}, true},
		{"localpart", "is", "i;ascii-casemap", "localpart", []string{"joe"}, []string{"joe@example.com"}, true},
		{"domain without at", "is", "i;ascii-casemap", "domain", []string{""}, []string{"joe"}, false},
		{"localpart without at", "is", "i;ascii-casemap", "localpart", []string{"joe"}, []string{"joe"}, true},
		{"all", "is", "i;ascii-casemap", "all", []string{"joe@example.com"}, []string{"JOE@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var part *AddressPartDef
			if tt.ap != "" {
				part = ap(tt.ap)
			}
			got, err := MatchValues(mt(tt.mt), cmp(tt.cmp), part, Strings(tt.keys...), tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBeginMatchRejectsSubstringWithoutFold(t *testing.T) {
	reg := NewRegistry()
	contains, _ := reg.MatchType("contains")
	is, _ := reg.MatchType("is")
	numeric := &ComparatorDef{
		ObjectDef: ObjectDef{Class: ClassComparator, Name: "vnd;numeric"},
		Compare:   func(a, b string) int { return len(a) - len(b) },
	}

	_, err := BeginMatch(contains, numeric, nil, Strings("1"))
	assert.ErrorIs(t, err, ErrMatch)

	_, err = BeginMatch(is, numeric, nil, Strings("1"))
	assert.NoError(t, err)
}

func TestAggregateMatch(t *testing.T) {
	count := &MatchTypeDef{
		ObjectDef: ObjectDef{Class: ClassMatchType, Name: "vnd;count"},
		Aggregate: true,
		End: func(mc *MatchContext) (bool, error) {
			return mc.EachKey(func(key string) (bool, error) {
				return key == "2" && mc.Values == 2, nil
			})
		},
	}
	octet, _ := NewRegistry().Comparator("i;octet")

	mc, err := BeginMatch(count, octet, nil, Strings("2"))
	require.NoError(t, err)
	for _, v := range []string{"a", "b"} {
		res, err := mc.Feed(v)
		require.NoError(t, err)
		assert.Equal(t, MatchNeedMore, res)
	}
	ok, err := mc.End()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		value, pattern string
		want           bool
	}{
		{"", "", true},
		{"", "*", true},
		{"a", "", false},
		{"abc", "a*c", true},
		{"abc", "a?c", true},
		{"ac", "a?c", false},
		{"abcbc", "*bc", true},
		{"abcbd", "*bc", false},
		{"a*c", `a\*c`, true},
		{"abc", `a\*c`, false},
		{"a?c", `a\?c`, true},
		{`a\`, `a\\`, true},
		{"héllo", "h?llo", true},
		{"mississippi", "*sip*", true},
		{"mississippi", "m*ss*ppi", true},
		{"mississippi", "m*x*", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WildcardMatch(tt.value, tt.pattern), "%q against %q", tt.value, tt.pattern)
	}
}

func TestASCIILower(t *testing.T) {
	assert.Equal(t, "hello world", ASCIILower("Hello WORLD"))
	assert.Equal(t, "Äbc", ASCIILower("ÄBC"))
	assert.Equal(t, "Ä", ASCIILower("Ä"))
}
