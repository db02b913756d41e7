package testutils

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/commands"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/sieve/parser"
	"github.com/stretchr/testify/require"
)

// RegisterFunc adds an extension to a registry and command table.
type RegisterFunc func(reg *interp.Registry, cmds *codegen.Commands) error

// Harness compiles and runs scripts against the core commands plus a chosen
// set of extensions.
type Harness struct {
	t        testing.TB
	Registry *interp.Registry
	Commands *codegen.Commands
}

// NewHarness registers the core commands followed by exts and seals the
// registry.
func NewHarness(t testing.TB, exts ...RegisterFunc) *Harness {
	t.Helper()
	reg := interp.NewRegistry()
	cmds := codegen.NewCommands()
	require.NoError(t, commands.Register(reg, cmds))
	for _, register := range exts {
		require.NoError(t, register(reg, cmds))
	}
	reg.Seal()
	return &Harness{t: t, Registry: reg, Commands: cmds}
}

// Binary compiles src and returns the serialized binary.
func (h *Harness) Binary(src string) []byte {
	h.t.Helper()
	script, err := parser.Parse(src)
	require.NoError(h.t, err)
	bin, err := codegen.Generate(h.Registry, h.Commands, script, codegen.Options{})
	require.NoError(h.t, err)
	raw, err := bin.MarshalBinary()
	require.NoError(h.t, err)
	return raw
}

// Compile compiles src and loads the binary back, the way a stored script
// is used.
func (h *Harness) Compile(src string) *interp.Program {
	h.t.Helper()
	prog, err := h.Registry.Load(h.Binary(src))
	require.NoError(h.t, err)
	return prog
}

// CompileError compiles src and returns the error it must fail with.
func (h *Harness) CompileError(src string) error {
	h.t.Helper()
	script, err := parser.Parse(src)
	require.NoError(h.t, err)
	_, err = codegen.Generate(h.Registry, h.Commands, script, codegen.Options{})
	require.Error(h.t, err)
	return err
}

// Interpreter compiles src and runs it once in env.
func (h *Harness) Interpreter(src string, env *interp.ScriptEnv) (*interp.Interpreter, *interp.Result, error) {
	h.t.Helper()
	in := interp.NewInterpreter(h.Compile(src), env, interp.Options{})
	res, err := in.Run(context.Background())
	return in, res, err
}

// Run compiles src, runs it in env and requires it to halt.
func (h *Harness) Run(src string, env *interp.ScriptEnv) *interp.Result {
	h.t.Helper()
	_, res, err := h.Interpreter(src, env)
	require.NoError(h.t, err)
	return res
}

// Dump compiles src and returns the binary dump.
func (h *Harness) Dump(src string) string {
	h.t.Helper()
	var buf bytes.Buffer
	require.NoError(h.t, interp.NewDumper(h.Compile(src), &buf).Dump())
	return buf.String()
}

// Kinds lists the action kinds of a result in order.
func Kinds(res *interp.Result) []string {
	var out []string
	for _, a := range res.Actions() {
		out = append(out, a.Kind())
	}
	return out
}

// Message is an in-memory message for script runs.
type Message struct {
	Headers map[string][]string
	// Text holds the text parts, Raw the undecoded body.
	Text []string
	Raw  string
	// SizeBytes overrides the computed size when set.
	SizeBytes int64
}

func (m *Message) HeaderValues(name string) []string {
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

func (m *Message) Size() int64 {
	if m.SizeBytes > 0 {
		return m.SizeBytes
	}
	n := int64(len(m.Raw))
	for k, vs := range m.Headers {
		for _, v := range vs {
			n += int64(len(k) + len(v) + 4)
		}
	}
	return n
}

func (m *Message) Body(transform interp.BodyTransform) ([]string, error) {
	if transform == interp.BodyRaw {
		return []string{m.Raw}, nil
	}
	return m.Text, nil
}

// Env returns a run environment for msg.
func Env(msg *Message) *interp.ScriptEnv {
	env := &interp.ScriptEnv{Username: "user@example.com"}
	if msg != nil {
		env.Message = msg
	}
	return env
}
