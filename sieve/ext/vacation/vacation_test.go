package vacation

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/ext/variables"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var message = &testutils.Message{Headers: map[string][]string{
	"From":    {"alice@example.com"},
	"Subject": {"Re: Lunch?"},
}}

func TestConfigDays(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(7), cfg.Days(0))
	assert.Equal(t, uint64(1), Config{MinDays: 1, MaxDays: 60, DefaultDays: 7}.Days(1))
	assert.Equal(t, uint64(60), cfg.Days(365))
	assert.Equal(t, uint64(3), Config{MinDays: 3, MaxDays: 10, DefaultDays: 5}.Days(1))
}

func TestDefaultSubject(t *testing.T) {
	assert.Equal(t, "Auto: Lunch?", DefaultSubject("Re: Lunch?"))
	assert.Equal(t, "Auto: Lunch?", DefaultSubject("Auto: Lunch?"))
	assert.Equal(t, "Automated reply", DefaultSubject(""))
}

func TestVacation(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	res := h.Run(`require "vacation";
vacation :days 3 :from "me@example.com" :addresses ["me@example.com", "alias@example.com"] :mime "I am away";`,
		testutils.Env(message))

	actions := res.FindKind(ActionVacation)
	require.Len(t, actions, 1)
	ctx := actions[0].Context.(*Context)
	assert.Equal(t, "I am away", ctx.Reason)
	assert.Equal(t, uint64(3), ctx.Days)
	assert.Equal(t, "Auto: Lunch?", ctx.Subject)
	assert.Equal(t, "me@example.com", ctx.From)
	assert.Equal(t, []string{"me@example.com", "alias@example.com"}, ctx.Addresses)
	assert.True(t, ctx.Mime)
	assert.Len(t, ctx.Handle, 32)
	assert.False(t, ActionVacation.Final)
	assert.Equal(t, `vacation days 3 subject "Auto: Lunch?"`, actions[0].String())
}

func TestVacationDefaults(t *testing.T) {
	h := testutils.NewHarness(t, New(Config{MinDays: 2, MaxDays: 5, DefaultDays: 4}))
	res := h.Run(`require "vacation"; vacation :subject "Away" "gone";`, testutils.Env(message))
	ctx := res.FindKind(ActionVacation)[0].Context.(*Context)
	assert.Equal(t, uint64(4), ctx.Days)
	assert.Equal(t, "Away", ctx.Subject)

	res = h.Run(`require "vacation"; vacation :days 30 "gone";`, testutils.Env(message))
	assert.Equal(t, uint64(5), res.FindKind(ActionVacation)[0].Context.(*Context).Days)
}

func TestHandle(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	handle := func(src string) string {
		res := h.Run(src, testutils.Env(message))
		return res.FindKind(ActionVacation)[0].Context.(*Context).Handle
	}
	a := handle(`require "vacation"; vacation "one";`)
	assert.Equal(t, a, handle(`require "vacation"; vacation :days 9 "one";`))
	assert.NotEqual(t, a, handle(`require "vacation"; vacation "two";`))
	assert.Equal(t, "h1", handle(`require "vacation"; vacation :handle "h1" "one";`))
}

func TestVariableFrom(t *testing.T) {
	h := testutils.NewHarness(t, variables.Register, Register)
	res := h.Run(`require ["vacation", "variables"];
set "me" "me@example.com";
vacation :from "${me}" "gone";`, testutils.Env(message))
	assert.Equal(t, "me@example.com", res.FindKind(ActionVacation)[0].Context.(*Context).From)

	_, _, err := h.Interpreter(`require ["vacation", "variables"];
set "me" "not an address";
vacation :from "${me}" "gone";`, testutils.Env(message))
	assert.ErrorContains(t, err, "invalid :from address")
}

func TestDuplicate(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	_, _, err := h.Interpreter(`require "vacation"; vacation "a"; vacation "b";`, testutils.Env(message))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCompileErrors(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	tests := []struct {
		src  string
		want string
	}{
		{`vacation "x";`, `command "vacation" requires "vacation"`},
		{`require "vacation"; vacation;`, "expected 1 arguments, got 0"},
		{`require "vacation"; vacation :from "nobody" "x";`, `invalid :from address "nobody"`},
		{`require "vacation"; vacation :addresses ["ok@example.com", "bad"] "x";`, `invalid address "bad"`},
		{`require "vacation"; vacation :days "3" "x";`, "tag :days needs a number"},
		{`require "vacation"; vacation :bogus "x";`, "unknown tag :bogus"},
	}
	for _, tt := range tests {
		err := h.CompileError(tt.src)
		assert.ErrorIs(t, err, codegen.ErrCompile, tt.src)
		assert.ErrorContains(t, err, tt.want, tt.src)
	}
}

func TestDump(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	dump := h.Dump(`require "vacation"; vacation :days 2 :mime "x";`)
	assert.Contains(t, dump, "VACATION")
	assert.Contains(t, dump, "days: NUM 2")
	assert.Contains(t, dump, "mime: NUM 1")
}
