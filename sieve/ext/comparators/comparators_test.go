package comparators

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
)

func TestCompareNumeric(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"10", "9", 1},
		{"007", "7", 0},
		{"42abc", "42", 0},
		{"0", "000", 0},
		{"123456789012345678901234567890", "9", 1},
		{"abc", "999", 1},
		{"999", "abc", -1},
		{"abc", "xyz", 0},
		{"", "0", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareNumeric(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestFoldUnicode(t *testing.T) {
	assert.Equal(t, FoldUnicode("STRASSE"), FoldUnicode("straße"))
	assert.Equal(t, FoldUnicode("Émile"), FoldUnicode("émile"))
	assert.NotEqual(t, FoldUnicode("a"), FoldUnicode("b"))
}

func TestComparatorsInScripts(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	msg := &testutils.Message{Headers: map[string][]string{
		"X-Priority": {"03"},
		"Subject":    {"Grüße aus MÜNCHEN"},
	}}

	tests := []struct {
		name   string
		script string
		want   bool
	}{
		{
			"numeric equality ignores leading zeros",
			`require "comparator-i;ascii-numeric"; if header :comparator "i;ascii-numeric" :is "x-priority" "3" { discard; }`,
			true,
		},
		{
			"unicode casemap contains",
			`require "comparator-i;unicode-casemap"; if header :comparator "i;unicode-casemap" :contains "subject" "münchen" { discard; }`,
			true,
		},
		{
			"octet is case sensitive",
			`if header :comparator "i;octet" :contains "subject" "münchen" { discard; }`,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(tt.script, testutils.Env(msg))
			assert.Equal(t, tt.want, res.Len() == 1)
		})
	}
}

func TestComparatorCompileErrors(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	tests := []struct {
		name   string
		script string
		msg    string
	}{
		{
			"not required",
			`if header :comparator "i;ascii-numeric" "x" "1" { keep; }`,
			`unknown comparator "i;ascii-numeric"`,
		},
		{
			"numeric has no substring matching",
			`require "comparator-i;ascii-numeric"; if header :comparator "i;ascii-numeric" :contains "x" "1" { keep; }`,
			"cannot be used with :contains",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.CompileError(tt.script)
			assert.ErrorIs(t, err, codegen.ErrCompile)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRegistered(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	cmp, ok := h.Registry.Comparator(UnicodeCasemap)
	assert.True(t, ok)
	assert.True(t, cmp.CaseInsensitive)
	_, ok = h.Registry.Extension(ASCIINumericExtension.Name)
	assert.True(t, ok)
}
