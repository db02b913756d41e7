package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/sieve/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	headers map[string][]string
	size    int64
}

func (m *testMessage) HeaderValues(name string) []string {
	return m.headers[strings.ToLower(name)]
}

func (m *testMessage) Size() int64 { return m.size }

func (m *testMessage) Body(interp.BodyTransform) ([]string, error) { return nil, nil }

func setup(t *testing.T) (*interp.Registry, *codegen.Commands) {
	t.Helper()
	reg := interp.NewRegistry()
	cmds := codegen.NewCommands()
	require.NoError(t, Register(reg, cmds))
	reg.Seal()
	return reg, cmds
}

func compile(t *testing.T, src string) *interp.Program {
	t.Helper()
	reg, cmds := setup(t)
	script, err := parser.Parse(src)
	require.NoError(t, err)
	bin, err := codegen.Generate(reg, cmds, script, codegen.Options{})
	require.NoError(t, err)
	raw, err := bin.MarshalBinary()
	require.NoError(t, err)
	prog, err := reg.Load(raw)
	require.NoError(t, err)
	return prog
}

func compileError(t *testing.T, src string) error {
	t.Helper()
	reg, cmds := setup(t)
	script, err := parser.Parse(src)
	require.NoError(t, err)
	_, err = codegen.Generate(reg, cmds, script, codegen.Options{})
	require.Error(t, err)
	return err
}

func run(t *testing.T, src string, msg *testMessage) *interp.Result {
	t.Helper()
	env := &interp.ScriptEnv{}
	if msg != nil {
		env.Message = msg
	}
	res, err := interp.NewInterpreter(compile(t, src), env, interp.Options{}).Run(context.Background())
	require.NoError(t, err)
	return res
}

func kinds(res *interp.Result) []string {
	var out []string
	for _, a := range res.Actions() {
		out = append(out, a.Kind())
	}
	return out
}

var saleMessage = &testMessage{
	headers: map[string][]string{
		"subject":  {"Big SALE today"},
		"from":     {`"Alice Example" <Alice@Example.COM>`},
		"to":       {"bob@example.org, carol+lists@example.net"},
		"x-seen":   {"yes"},
		"received": {"from a", "from b"},
	},
	size: 2048,
}

func TestKeep(t *testing.T) {
	res := run(t, "\n\nkeep;\n", nil)
	require.Equal(t, 1, res.Len())
	a := res.Actions()[0]
	assert.Equal(t, "keep", a.Kind())
	assert.Equal(t, 3, a.Line)
	assert.Empty(t, a.SideEffects)
	assert.Equal(t, &interp.KeepContext{Mailbox: "INBOX"}, a.Context)
}

func TestKeepUsesDefaultMailbox(t *testing.T) {
	env := &interp.ScriptEnv{DefaultMailbox: "Archive"}
	res, err := interp.NewInterpreter(compile(t, "keep;"), env, interp.Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "keep into \"Archive\"", res.Actions()[0].String())
}

func TestHeaderContainsDiscards(t *testing.T) {
	src := `if header :contains "subject" "sale" { discard; stop; }`

	res := run(t, src, saleMessage)
	assert.Equal(t, []string{"discard"}, kinds(res))

	other := &testMessage{headers: map[string][]string{"subject": {"meeting notes"}}}
	res = run(t, src, other)
	assert.Empty(t, kinds(res))

	res = run(t, src, nil)
	assert.Empty(t, kinds(res))
}

func TestStopEndsTheRun(t *testing.T) {
	res := run(t, "discard;\nstop;\nkeep;\n", nil)
	assert.Equal(t, []string{"discard"}, kinds(res))
}

func TestTests(t *testing.T) {
	tests := []struct {
		name string
		test string
		want bool
	}{
		{"header is casemap", `header "subject" "big sale today"`, true},
		{"header is octet", `header :comparator "i;octet" "subject" "big sale today"`, false},
		{"header matches", `header :matches "subject" "big*today"`, true},
		{"header missing field", `header "x-missing" ""`, false},
		{"header any of several", `header "received" ["from c", "from b"]`, true},
		{"header list of names", `header ["x-missing", "subject"] "Big SALE today"`, true},
		{"address all", `address "from" "alice@example.com"`, true},
		{"address domain", `address :domain "from" "example.com"`, true},
		{"address localpart octet", `address :localpart :comparator "i;octet" "from" "alice"`, false},
		{"address list value", `address :all :is "to" "carol+lists@example.net"`, true},
		{"address domain contains", `address :domain :contains "to" "net"`, true},
		{"address display name ignored", `address :contains "from" "Example\" <"`, false},
		{"exists", `exists ["subject", "x-seen"]`, true},
		{"exists one missing", `exists ["subject", "x-missing"]`, false},
		{"size over", `size :over 2K`, false},
		{"size over smaller", `size :over 2047`, true},
		{"size under", `size :under 2049`, true},
		{"size under equal", `size :under 2048`, false},
		{"not", `not exists "x-missing"`, true},
		{"allof", `allof (exists "subject", size :under 1M)`, true},
		{"anyof", `anyof (exists "x-missing", header :is "x-seen" "no")`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, "if "+tt.test+" { keep; }", saleMessage)
			assert.Equal(t, tt.want, res.Len() == 1)
		})
	}
}

func TestRedirect(t *testing.T) {
	res := run(t, `redirect "someone@example.org";`, nil)
	require.Equal(t, 1, res.Len())
	assert.Equal(t, &interp.RedirectContext{Address: "someone@example.org"}, res.Actions()[0].Context)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"redirect invalid", `redirect "not an address";`, "invalid address"},
		{"redirect no argument", `redirect;`, "expected 1 arguments"},
		{"keep argument", `keep "x";`, "expected 0 arguments"},
		{"address non-address header", `if address "subject" "x" { keep; }`, "not an address header"},
		{"header address part", `if header :domain "from" "x" { keep; }`, "unknown tag :domain"},
		{"size both", `if size :over 1 :under 2 { keep; }`, "exclude each other"},
		{"size neither", `if size { keep; }`, "needs :over or :under"},
		{"size string", `if size :over "1" { keep; }`, "needs a number"},
		{"unknown comparator", `if header :comparator "i;nope" "a" "b" { keep; }`, "unknown comparator"},
		{"test as command", `exists "a";`, "is a test"},
		{"fileinto without extension", `fileinto "x";`, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := compileError(t, tt.src)
			assert.ErrorIs(t, err, codegen.ErrCompile)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	src := `if anyof (header :contains "subject" "sale", address :domain "from" "example.com") {
	redirect "x@example.org";
} elsif size :over 10K {
	discard;
} else {
	keep;
}`
	reg, cmds := setup(t)
	script, err := parser.Parse(src)
	require.NoError(t, err)

	var images [][]byte
	for i := 0; i < 2; i++ {
		bin, err := codegen.Generate(reg, cmds, script, codegen.Options{})
		require.NoError(t, err)
		raw, err := bin.MarshalBinary()
		require.NoError(t, err)
		images = append(images, raw)
	}
	assert.Equal(t, images[0], images[1])
}

func TestDump(t *testing.T) {
	prog := compile(t, "if header :contains \"subject\" \"sale\" {\n  discard;\n}\nkeep;\n")
	var buf bytes.Buffer
	require.NoError(t, interp.NewDumper(prog, &buf).Dump())
	out := buf.String()
	assert.Contains(t, out, "HEADER")
	assert.Contains(t, out, `STR[4] "sale"`)
	assert.Contains(t, out, "MATCH-TYPE: contains")
	assert.Contains(t, out, "DISCARD")
	assert.Contains(t, out, "KEEP")
}
