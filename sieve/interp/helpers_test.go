package interp

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/stretchr/testify/require"
)

const (
	optNote  = OptActionLast
	optLevel = OptActionLast + 1
)

type noteContext struct {
	Text  string
	Note  string
	Level uint64
}

var actionNote = &ActionDef{Name: "note"}

// opNote queues a note action: a mandatory text, then optional note and
// level tags.
var opNote = &Operation{
	Mnemonic: "NOTE",
	Code:     0,
	Dump: func(d *Dumper, pos *bytecode.Address) error {
		if err := d.DumpOperand(pos, "text"); err != nil {
			return err
		}
		return d.DumpOptionals(pos, map[uint64]string{optNote: "note", optLevel: "level"})
	},
	Execute: func(rt *Runtime, pos *bytecode.Address) (Step, error) {
		text, err := rt.ReadString(pos)
		if err != nil {
			return Step{}, err
		}
		opts, err := rt.ReadOptionals(pos, optNote, optLevel)
		if err != nil {
			return Step{}, err
		}
		ctx := &noteContext{Text: text}
		if op, ok := opts.Get(optNote); ok {
			if ctx.Note, err = rt.StringValue(op); err != nil {
				return Step{}, err
			}
		}
		if op, ok := opts.Get(optLevel); ok {
			if ctx.Level, err = rt.NumberValue(op); err != nil {
				return Step{}, err
			}
		}
		rt.AppendAction(actionNote, ctx, nil)
		return Continue(), nil
	},
}

// opFlag sets the test result from a number operand.
var opFlag = &Operation{
	Mnemonic: "FLAG",
	Code:     1,
	Dump: func(d *Dumper, pos *bytecode.Address) error {
		return d.DumpOperand(pos, "value")
	},
	Execute: func(rt *Runtime, pos *bytecode.Address) (Step, error) {
		v, err := rt.ReadNumber(pos)
		if err != nil {
			return Step{}, err
		}
		rt.SetTestResult(v != 0)
		return Continue(), nil
	},
}

// opHeaderIs matches header values against keys with the match optionals.
var opHeaderIs = &Operation{
	Mnemonic: "HEADER_IS",
	Code:     2,
	Execute: func(rt *Runtime, pos *bytecode.Address) (Step, error) {
		name, err := rt.ReadString(pos)
		if err != nil {
			return Step{}, err
		}
		keys, err := rt.ReadStringList(pos)
		if err != nil {
			return Step{}, err
		}
		opts, err := rt.ReadOptionals(pos, OptComparator, OptMatchType, OptAddressPart)
		if err != nil {
			return Step{}, err
		}
		spec, err := rt.MatchSpec(opts, "")
		if err != nil {
			return Step{}, err
		}
		mc, err := rt.BeginMatch(spec, keys)
		if err != nil {
			return Step{}, err
		}
		for _, v := range rt.Env.Message.HeaderValues(name) {
			res, err := mc.Feed(v)
			if err != nil {
				return Step{}, err
			}
			if res == MatchYes {
				break
			}
		}
		ok, err := mc.End()
		if err != nil {
			return Step{}, err
		}
		rt.SetTestResult(ok)
		return Continue(), nil
	},
}

var testExtension = &ExtensionDef{
	Name:       "vnd.test.notes",
	Version:    1,
	Operations: []*Operation{opNote, opFlag, opHeaderIs},
}

func newTestRegistry(t *testing.T) (*Registry, *Extension) {
	t.Helper()
	reg := NewRegistry()
	ext, err := reg.RegisterExtension(testExtension)
	require.NoError(t, err)
	reg.Seal()
	return reg, ext
}

// programBuilder assembles a binary by hand.
type programBuilder struct {
	t      *testing.T
	reg    *Registry
	bin    *bytecode.Binary
	code   *bytecode.Block
	debug  *bytecode.DebugWriter
	linked *bytecode.LinkedExtension
}

func newProgramBuilder(t *testing.T, reg *Registry, ext *Extension) *programBuilder {
	t.Helper()
	bin := bytecode.New()
	linked, err := bin.LinkExtension(ext.Def.Name, ext.Def.Version, ext.ID)
	require.NoError(t, err)
	debugBlock, err := bin.AddBlock(bytecode.KindDebug)
	require.NoError(t, err)
	return &programBuilder{
		t:      t,
		reg:    reg,
		bin:    bin,
		code:   bin.Main(),
		debug:  bytecode.NewDebugWriter(debugBlock),
		linked: linked,
	}
}

func (b *programBuilder) op(line int, code uint64) {
	b.debug.Emit(b.code.Len(), line)
	EmitOpcode(b.code, b.linked, code)
}

func (b *programBuilder) core(line int, code uint64) {
	b.debug.Emit(b.code.Len(), line)
	EmitOpcode(b.code, nil, code)
}

func (b *programBuilder) program() *Program {
	require.NoError(b.t, b.bin.Finalize())
	prog, err := b.reg.Program(b.bin)
	require.NoError(b.t, err)
	return prog
}

type testMessage struct {
	headers map[string][]string
	size    int64
}

func (m *testMessage) HeaderValues(name string) []string { return m.headers[name] }
func (m *testMessage) Size() int64                        { return m.size }
func (m *testMessage) Body(BodyTransform) ([]string, error) {
	return nil, nil
}
