// Package envelope implements the envelope test of RFC 5228, comparing the
// SMTP envelope addresses of the delivery.
package envelope

import (
	"strings"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/commands"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "envelope"

// Parts are the envelope parts the test knows.
var Parts = []string{"from", "to", "auth"}

var OperationEnvelope = &interp.Operation{
	Mnemonic: "ENVELOPE",
	Code:     0,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		if err := d.DumpOperand(pos, "envelope part"); err != nil {
			return err
		}
		if err := d.DumpOperand(pos, "key list"); err != nil {
			return err
		}
		return d.DumpOptionals(pos, interp.MatchOptionalNames)
	},
	Execute: execute,
}

var Extension = &interp.ExtensionDef{
	Name:       Name,
	Version:    1,
	Operations: []*interp.Operation{OperationEnvelope},
}

// Register adds the extension and the envelope test.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	if _, err := reg.RegisterExtension(Extension); err != nil {
		return err
	}
	return cmds.Register(&codegen.CommandDef{
		Name:         "envelope",
		Extensions:   []string{Name},
		Test:         true,
		GenerateTest: generate,
	})
}

// Value returns the envelope part, empty for a null reverse path or an
// unknown part.
func Value(env interp.Envelope, part string) string {
	switch strings.ToLower(part) {
	case "from":
		return strings.Trim(env.From, "<>")
	case "to":
		return strings.Trim(env.To, "<>")
	case "auth":
		return env.Auth
	}
	return ""
}

func execute(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
	parts, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	keys, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	opts, err := rt.ReadOptionals(pos, interp.OptComparator, interp.OptAddressPart, interp.OptMatchType)
	if err != nil {
		return interp.Step{}, err
	}
	spec, err := rt.MatchSpec(opts, "")
	if err != nil {
		return interp.Step{}, err
	}
	names, err := parts.All()
	if err != nil {
		return interp.Step{}, err
	}
	mc, err := rt.BeginMatch(spec, keys)
	if err != nil {
		return interp.Step{}, err
	}
	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, Value(rt.Env.Envelope, name))
	}
	if _, err := mc.FeedAll(values); err != nil {
		return interp.Step{}, err
	}
	ok, err := mc.End()
	if err != nil {
		return interp.Step{}, err
	}
	rt.SetTestResult(ok)
	return interp.Continue(), nil
}

func generate(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, codegen.Signature{
		Match:        true,
		AddressParts: true,
		Positional:   []codegen.ArgKind{codegen.ArgStringList, codegen.ArgStringList},
	})
	if err != nil {
		return err
	}
	names, _ := ast.Strings(a.Positional[0])
	for _, name := range names {
		if strings.Contains(name, "${") {
			continue
		}
		if !known(name) {
			return codegen.Errorf(a.Positional[0].Pos(), "envelope: unknown envelope part %q", name)
		}
	}
	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationEnvelope)
	return commands.EmitMatchTest(g, a)
}

func known(part string) bool {
	for _, p := range Parts {
		if strings.EqualFold(p, part) {
			return true
		}
	}
	return false
}
