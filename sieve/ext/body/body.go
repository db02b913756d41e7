// Package body implements the body test of RFC 5173 with the :raw and
// :text transforms. :text, the default here, sees the decoded text parts
// with HTML rendered as plain text.
package body

import (
	"fmt"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "body"

const optTransform = interp.OptMatchLast

var OperationBody = &interp.Operation{
	Mnemonic: "BODY",
	Code:     0,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		if err := d.DumpOperand(pos, "key list"); err != nil {
			return err
		}
		return d.DumpOptionals(pos, interp.MergeOptionalNames(interp.MatchOptionalNames,
			map[uint64]string{optTransform: "transform"}))
	},
	Execute: execute,
}

var Extension = &interp.ExtensionDef{
	Name:       Name,
	Version:    1,
	Operations: []*interp.Operation{OperationBody},
}

// Register adds the extension and the body test.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	if _, err := reg.RegisterExtension(Extension); err != nil {
		return err
	}
	return cmds.Register(&codegen.CommandDef{
		Name:         "body",
		Extensions:   []string{Name},
		Test:         true,
		GenerateTest: generate,
	})
}

func execute(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
	keys, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	opts, err := rt.ReadOptionals(pos, interp.OptComparator, interp.OptMatchType, optTransform)
	if err != nil {
		return interp.Step{}, err
	}
	spec, err := rt.MatchSpec(opts, "")
	if err != nil {
		return interp.Step{}, err
	}
	transform := interp.BodyText
	if op, ok := opts.Get(optTransform); ok {
		n, err := rt.NumberValue(op)
		if err != nil {
			return interp.Step{}, err
		}
		if n > uint64(interp.BodyRaw) {
			return interp.Step{}, fmt.Errorf("body transform %d: %w", n, bytecode.ErrBadOperand)
		}
		transform = interp.BodyTransform(n)
	}

	var parts []string
	if rt.Env.Message != nil {
		if parts, err = rt.Env.Message.Body(transform); err != nil {
			return interp.Step{}, err
		}
	}
	rt.Tracef(interp.TraceTests, "body %s: %d parts", transform, len(parts))

	mc, err := rt.BeginMatch(spec, keys)
	if err != nil {
		return interp.Step{}, err
	}
	if _, err := mc.FeedAll(parts); err != nil {
		return interp.Step{}, err
	}
	ok, err := mc.End()
	if err != nil {
		return interp.Step{}, err
	}
	rt.SetTestResult(ok)
	return interp.Continue(), nil
}

var signature = codegen.Signature{
	Match: true,
	Tags: []codegen.TagSpec{
		{Name: "raw", Group: "transform"},
		{Name: "text", Group: "transform"},
	},
	Positional: []codegen.ArgKind{codegen.ArgStringList},
}

func generate(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, signature)
	if err != nil {
		return err
	}
	if err := g.CheckKeys(a, a.Positional[0]); err != nil {
		return err
	}
	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationBody)
	if err := g.EmitStringList(a.Positional[0]); err != nil {
		return err
	}
	opts := g.BeginOptionals()
	g.EmitMatchOptionals(opts, a)
	if a.Has("raw") {
		opts.Tag(optTransform)
		g.Code().EmitNumberOperand(uint64(interp.BodyRaw))
	}
	opts.End()
	return nil
}
