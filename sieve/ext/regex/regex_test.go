package regex

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/ext/variables"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegex(t *testing.T) {
	h := testutils.NewHarness(t, variables.Register, Register)
	msg := &testutils.Message{Headers: map[string][]string{
		"Subject": {"Invoice #4711 overdue"},
		"From":    {"billing@example.com"},
	}}

	tests := []struct {
		name string
		test string
		want bool
	}{
		{"anchored", `header :regex "subject" "^Invoice #[0-9]+"`, true},
		{"case folded by default", `header :regex "subject" "OVERDUE$"`, true},
		{"octet is case sensitive", `header :regex :comparator "i;octet" "subject" "OVERDUE$"`, false},
		{"no match", `header :regex "from" "@example\\.org$"`, false},
		{"any key", `header :regex "from" ["^x", "^billing@"]`, true},
		{"address", `address :regex :domain "from" "^example\\.(com|net)$"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(`require ["regex", "variables"]; if `+tt.test+` { discard; }`, testutils.Env(msg))
			assert.Equal(t, tt.want, res.Len() == 1)
		})
	}
}

func TestInvalidExpression(t *testing.T) {
	h := testutils.NewHarness(t, variables.Register, Register)

	err := h.CompileError(`require "regex"; if header :regex "subject" "(" { keep; }`)
	assert.ErrorIs(t, err, codegen.ErrCompile)
	assert.Contains(t, err.Error(), "invalid :regex key")

	// A key built at run time can only fail at run time.
	_, _, err = h.Interpreter(`require ["regex", "variables"];
set "p" "(";
if header :regex "subject" "${p}" { keep; }`, testutils.Env(&testutils.Message{
		Headers: map[string][]string{"Subject": {"x"}},
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrMatch)
}

func TestCompileCache(t *testing.T) {
	mt, ok := testutils.NewHarness(t, Register).Registry.MatchType(Name)
	require.True(t, ok)
	cmp := &interp.ComparatorDef{Compare: func(a, b string) int { return 0 }, Fold: func(s string) string { return s }}
	mc, err := interp.BeginMatch(mt, cmp, nil, interp.Strings("a+"))
	require.NoError(t, err)
	done, err := mc.FeedAll([]string{"xyz", "baa"})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, mc.State, 1)
}
