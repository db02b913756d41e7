package variables

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/ext/fileinto"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func harness(t *testing.T) *testutils.Harness {
	return testutils.NewHarness(t, fileinto.Register, Register)
}

func mailboxes(res *interp.Result) []string {
	var out []string
	for _, a := range res.FindKind(fileinto.ActionFileinto) {
		out = append(out, a.Context.(*fileinto.Context).Mailbox)
	}
	return out
}

func TestSubstitution(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{
			name:   "plain reference",
			script: `set "box" "Lists"; fileinto "${box}";`,
			want:   "Lists",
		},
		{
			name:   "catenated",
			script: `set "box" "Lists"; set "sub" "go"; fileinto "${box}/${sub}-dev";`,
			want:   "Lists/go-dev",
		},
		{
			name:   "names ignore case",
			script: `set "Box" "Work"; fileinto "${BOX}";`,
			want:   "Work",
		},
		{
			name:   "unset variable is empty",
			script: `fileinto "a${unset}b";`,
			want:   "ab",
		},
		{
			name:   "match variables are empty",
			script: `set "v" "x${1}y"; fileinto "${v}";`,
			want:   "xy",
		},
		{
			name:   "reassignment",
			script: `set "v" "one"; set "v" "${v}-two"; fileinto "${v}";`,
			want:   "one-two",
		},
		{
			name:   "modifiers",
			script: `set :lower :upperfirst "v" "ARCHIVE"; fileinto "${v}";`,
			want:   "Archive",
		},
		{
			name:   "unterminated reference stays literal",
			script: `set "v" "a${b"; fileinto "${v}";`,
			want:   "a${b",
		},
	}

	h := harness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(`require ["variables", "fileinto"]; `+tt.script, testutils.Env(nil))
			assert.Equal(t, []string{tt.want}, mailboxes(res))
		})
	}
}

func TestStringTest(t *testing.T) {
	h := harness(t)
	tests := []struct {
		name   string
		script string
		want   bool
	}{
		{"is", `set "a" "hello"; if string :is "${a}" "hello" { fileinto "yes"; }`, true},
		{"contains", `set "a" "hello"; if string :contains "${a}" "ell" { fileinto "yes"; }`, true},
		{"no match", `set "a" "hello"; if string "${a}" "world" { fileinto "yes"; }`, false},
		{"empty", `if string :is "${nothing}" "" { fileinto "yes"; }`, true},
		{"invalid reference is literal", `set "a" "${-x}"; if string :is "${a}" "${-x}" { fileinto "yes"; }`, true},
		{"any of the sources", `set "a" "x"; if string :is ["y", "${a}"] "x" { fileinto "yes"; }`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(`require ["variables", "fileinto"]; `+tt.script, testutils.Env(nil))
			if tt.want {
				assert.Equal(t, []string{"yes"}, mailboxes(res))
			} else {
				assert.Empty(t, mailboxes(res))
			}
		})
	}
}

func TestApplyModifiers(t *testing.T) {
	tests := []struct {
		value string
		mods  uint64
		want  string
	}{
		{"Hello", ModUpper, "HELLO"},
		{"Hello", ModLower, "hello"},
		{"hello", ModUpperFirst, "Hello"},
		{"HELLO", ModLower | ModUpperFirst, "Hello"},
		{"hello", ModUpper | ModLowerFirst, "hELLO"},
		{`a*b?c\`, ModQuoteWildcard, `a\*b\?c\\`},
		{"äbc", ModLength, "3"},
		{"a*", ModQuoteWildcard | ModLength, "3"},
		{"", ModUpperFirst, ""},
		{"same", 0, "same"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ApplyModifiers(tt.value, tt.mods), "%q %b", tt.value, tt.mods)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "h", Truncate("héllo", 2))
	assert.Equal(t, "hé", Truncate("héllo", 3))
}

func TestValueSizeLimit(t *testing.T) {
	h := harness(t)
	long := make([]byte, MaxValueSize+10)
	for i := range long {
		long[i] = 'a'
	}
	res := h.Run(`require ["variables", "fileinto"];
set "v" "`+string(long)+`";
set :length "n" "${v}";
fileinto "${n}";`, testutils.Env(nil))
	assert.Equal(t, []string{"4096"}, mailboxes(res))
}

func TestCompileErrors(t *testing.T) {
	h := harness(t)
	tests := []struct {
		name   string
		script string
		msg    string
	}{
		{"not required", `set "a" "b";`, "requires \"variables\""},
		{"invalid name", `require "variables"; set "1a" "b";`, "invalid variable name"},
		{"match variable", `require "variables"; set "1" "b";`, "invalid variable name"},
		{"exclusive case", `require "variables"; set :upper :lower "a" "b";`, "exclude each other"},
		{"exclusive first", `require "variables"; set :upperfirst :lowerfirst "a" "b";`, "exclude each other"},
		{"missing value", `require "variables"; set "a";`, "expected 2 arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.CompileError(tt.script)
			assert.ErrorIs(t, err, codegen.ErrCompile)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDumpShowsSymbols(t *testing.T) {
	h := harness(t)
	out := h.Dump(`require ["variables", "fileinto"];
set :upper "box" "lists";
fileinto "${box}/${sub}";`)
	assert.Contains(t, out, "variables [2]:")
	assert.Contains(t, out, "0: box")
	assert.Contains(t, out, "1: sub")
	assert.Contains(t, out, "SET")
	assert.Contains(t, out, "modifiers: NUM 2")
	assert.Contains(t, out, "CATSTR [3]:")
	assert.Contains(t, out, "VAR 1")
}

func TestSymbolsSurviveLoad(t *testing.T) {
	h := harness(t)
	prog := h.Compile(`require "variables"; set "a" "1"; set "b" "2";`)
	ext, ok := prog.Registry().Extension(Name)
	require.True(t, ok)
	table, ok := prog.ExtensionData(ext).(*SymbolTable)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, table.Names)
}
