package imap4flags

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/ext/fileinto"
	"github.com/migadu/sora-sieve/sieve/ext/variables"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func harness(t *testing.T) *testutils.Harness {
	return testutils.NewHarness(t, fileinto.Register, variables.Register, Register)
}

func flagsOf(t *testing.T, a *interp.Action) []string {
	t.Helper()
	se, ok := a.SideEffect(SideEffectName)
	if !ok {
		return nil
	}
	flags, ok := se.Context.([]string)
	require.True(t, ok)
	return flags
}

func TestApplyFlags(t *testing.T) {
	current := []string{`\Seen`, "$Work"}
	assert.Equal(t, []string{"a", "b"}, ApplyFlags(current, []string{"a b", "A"}, opSet))
	assert.Equal(t, []string{`\Seen`, "$Work", `\Flagged`}, ApplyFlags(current, []string{`\Flagged \seen`}, opAdd))
	assert.Equal(t, []string{"$Work"}, ApplyFlags(current, []string{`\SEEN`}, opRemove))
	assert.Equal(t, []string{}, ApplyFlags(nil, []string{"x"}, opRemove))
	assert.Equal(t, []string{"ok"}, ApplyFlags(nil, []string{"NIL ok (bad"}, opSet))
}

func TestInternalFlags(t *testing.T) {
	h := harness(t)
	res := h.Run(`require ["imap4flags", "fileinto"];
setflag ["\\Seen", "$Work"];
addflag "\\Flagged";
removeflag "$work";
keep;
fileinto "Archive";
setflag "";
fileinto "Plain";`, testutils.Env(nil))

	actions := res.Actions()
	require.Len(t, actions, 3)
	assert.Equal(t, []string{`\Seen`, `\Flagged`}, flagsOf(t, actions[0]))
	assert.Equal(t, []string{`\Seen`, `\Flagged`}, flagsOf(t, actions[1]))
	assert.Nil(t, flagsOf(t, actions[2]))
	assert.Equal(t, `keep into "INBOX" [flags \Seen \Flagged]`, actions[0].String())
}

func TestExplicitFlagsWin(t *testing.T) {
	h := harness(t)
	res := h.Run(`require "imap4flags";
setflag "a";
keep :flags ["b", "b c"];`, testutils.Env(nil))
	require.Equal(t, 1, res.Len())
	assert.Equal(t, []string{"b", "c"}, flagsOf(t, res.Actions()[0]))
}

func TestFlagsInVariables(t *testing.T) {
	h := harness(t)
	res := h.Run(`require ["imap4flags", "variables", "fileinto"];
setflag "fl" "a b";
addflag "fl" ["c", "A"];
removeflag "fl" "b";
if hasflag "fl" "c" {
	fileinto "${fl}";
}
keep;`, testutils.Env(nil))
	actions := res.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, &fileinto.Context{Mailbox: "a c"}, actions[0].Context)
	// The internal variable is untouched.
	assert.Nil(t, flagsOf(t, actions[1]))
}

func TestHasflag(t *testing.T) {
	h := harness(t)
	tests := []struct {
		name   string
		script string
		want   bool
	}{
		{"present", `setflag "\\Seen $A"; if hasflag "\\seen" { discard; }`, true},
		{"absent", `setflag "\\Seen"; if hasflag "\\Flagged" { discard; }`, false},
		{"empty set", `if hasflag "\\Seen" { discard; }`, false},
		{"contains", `setflag "$Important"; if hasflag :contains "port" { discard; }`, true},
		{"any key", `setflag "b"; if hasflag ["a", "b"] { discard; }`, true},
		{"variable list", `setflag "x" "one"; setflag "y" "two"; if hasflag ["x", "y"] "two" { discard; }`, true},
		{"variable list ignores internal", `setflag "one"; if hasflag "x" "one" { discard; }`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(`require ["imap4flags", "variables"]; `+tt.script, testutils.Env(nil))
			assert.Equal(t, tt.want, res.Len() == 1)
		})
	}
}

func TestImplicitKeepCarriesFlags(t *testing.T) {
	h := harness(t)
	in, res, err := h.Interpreter(`require "imap4flags"; addflag "\\Seen";`, testutils.Env(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())

	keep := in.ImplicitKeep()
	assert.Equal(t, "keep", keep.Kind())
	assert.Equal(t, []string{`\Seen`}, flagsOf(t, keep))
}

func TestCompileErrors(t *testing.T) {
	h := harness(t)
	tests := []struct {
		name   string
		script string
		msg    string
	}{
		{"not required", `setflag "a";`, `requires "imap4flags"`},
		{"variable without variables", `require "imap4flags"; setflag "v" "a";`, "without requiring"},
		{"variable name list", `require ["imap4flags", "variables"]; setflag ["v"] "a";`, "variable name must be a string"},
		{"bad variable name", `require ["imap4flags", "variables"]; addflag "1v" "a";`, "invalid variable name"},
		{"flags on redirect", `require "imap4flags"; redirect :flags "a" "x@example.org";`, "does not apply"},
		{"flags without list", `require "imap4flags"; keep :flags;`, "needs 1 arguments"},
		{"too many", `require "imap4flags"; setflag "a" "b" "c";`, "expected 2 arguments"},
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
	h := harness(t)
	out := h.Dump(`require ["imap4flags", "variables"];
setflag "v" "\\Seen";
if hasflag :contains "v" "seen" { keep :flags "x"; }`)
	assert.Contains(t, out, "SETFLAG")
	assert.Contains(t, out, "variable: NUM 0")
	assert.Contains(t, out, "HASFLAG")
	assert.Contains(t, out, "MATCH-TYPE: contains")
}
