package spamtest

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/ext/comparators"
	"github.com/migadu/sora-sieve/sieve/ext/relational"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
)

func TestSpamValue(t *testing.T) {
	tests := []struct {
		headers []string
		percent bool
		want    string
	}{
		{nil, false, "0"},
		{nil, true, "0"},
		{[]string{"garbage"}, false, "0"},
		{[]string{"0"}, false, "1"},
		{[]string{"-3.1"}, false, "1"},
		{[]string{"5"}, false, "6"},
		{[]string{"5"}, true, "50"},
		{[]string{"12.5 / 5.0"}, false, "10"},
		{[]string{"12.5"}, true, "100"},
		{[]string{"", "7.4 (spam)"}, true, "74"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SpamValue(tt.headers, 10, tt.percent), "%q percent=%v", tt.headers, tt.percent)
	}
}

func TestVirusValue(t *testing.T) {
	assert.Equal(t, "0", VirusValue(nil))
	assert.Equal(t, "1", VirusValue([]string{"0"}))
	assert.Equal(t, "3", VirusValue([]string{"3"}))
	assert.Equal(t, "5", VirusValue([]string{"9"}))
}

func TestSpamtestScripts(t *testing.T) {
	h := testutils.NewHarness(t, comparators.Register, relational.Register, Register)
	spam := &testutils.Message{Headers: map[string][]string{
		"X-Spam-Score":  {"8.1"},
		"X-Virus-Score": {"5"},
	}}
	clean := &testutils.Message{Headers: map[string][]string{}}

	tests := []struct {
		name   string
		script string
		msg    *testutils.Message
		want   bool
	}{
		{
			"spamtest ge",
			`require ["spamtest", "relational", "comparator-i;ascii-numeric"];
if spamtest :value "ge" :comparator "i;ascii-numeric" "8" { discard; }`,
			spam, true,
		},
		{
			"untested is zero",
			`require "spamtest"; if spamtest "0" { discard; }`,
			clean, true,
		},
		{
			"percent",
			`require ["spamtestplus", "relational", "comparator-i;ascii-numeric"];
if spamtest :percent :value "gt" :comparator "i;ascii-numeric" "80" { discard; }`,
			spam, true,
		},
		{
			"spamtestplus without percent keeps the 1 to 10 scale",
			`require "spamtestplus"; if spamtest "8" { discard; }`,
			spam, true,
		},
		{
			"virustest infected",
			`require "virustest"; if virustest "5" { discard; }`,
			spam, true,
		},
		{
			"virustest untested",
			`require "virustest"; if virustest :matches "[1-5]" { discard; }`,
			clean, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(tt.script, testutils.Env(tt.msg))
			assert.Equal(t, tt.want, res.Len() == 1)
		})
	}
}

func TestCustomHeaders(t *testing.T) {
	h := testutils.NewHarness(t, New(Config{SpamHeader: "X-Rspamd-Score", SpamThreshold: 15}))
	msg := &testutils.Message{Headers: map[string][]string{"X-Rspamd-Score": {"15"}}}
	res := h.Run(`require "spamtest"; if spamtest "10" { discard; }`, testutils.Env(msg))
	assert.Equal(t, 1, res.Len())
}

func TestCompileErrors(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	tests := []struct {
		name   string
		script string
		msg    string
	}{
		{"not required", `if spamtest "5" { keep; }`, `requires "spamtest"`},
		{"percent without spamtestplus", `require "spamtest"; if spamtest :percent "5" { keep; }`, `:percent needs "spamtestplus"`},
		{"virustest takes no percent", `require "virustest"; if virustest :percent "5" { keep; }`, "unknown tag :percent"},
		{"missing value", `require "virustest"; if virustest { keep; }`, "expected 1 arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.CompileError(tt.script)
			assert.ErrorIs(t, err, codegen.ErrCompile)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDump(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	out := h.Dump(`require "spamtestplus"; if spamtest :percent "50" { keep; }`)
	assert.Contains(t, out, "spamtestplus")
	assert.Contains(t, out, "SPAMTEST")
	assert.Contains(t, out, "percent: NUM 1")
}
