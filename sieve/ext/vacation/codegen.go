package vacation

import (
	"strings"

	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

var signature = codegen.Signature{
	Tags: []codegen.TagSpec{
		{Name: "days", Param: codegen.ArgNumber},
		{Name: "subject", Param: codegen.ArgString},
		{Name: "from", Param: codegen.ArgString},
		{Name: "addresses", Param: codegen.ArgStringList},
		{Name: "mime"},
		{Name: "handle", Param: codegen.ArgString},
	},
	Action:     ActionVacation.Name,
	Positional: []codegen.ArgKind{codegen.ArgString},
}

func generator(op *interp.Operation) func(g *codegen.Generator, cmd *ast.Command) error {
	return func(g *codegen.Generator, cmd *ast.Command) error {
		a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, signature)
		if err != nil {
			return err
		}
		if v, ok := a.Tag("from"); ok {
			from := v.(*ast.String)
			if !strings.Contains(from.Value, "${") && !helpers.ValidAddress(from.Value) {
				return codegen.Errorf(from.Line, "vacation: invalid :from address %q", from.Value)
			}
		}
		if v, ok := a.Tag("addresses"); ok {
			items, _ := ast.Strings(v)
			for _, addr := range items {
				if !strings.Contains(addr, "${") && !helpers.ValidAddress(addr) {
					return codegen.Errorf(v.Pos(), "vacation: invalid address %q", addr)
				}
			}
		}

		ext, _ := g.Extension(Name)
		g.EmitOperation(ext, op)
		if err := g.EmitString(a.Positional[0]); err != nil {
			return err
		}
		opts := g.BeginOptionals()
		if err := g.EmitSideEffects(opts, a); err != nil {
			return err
		}
		tagged := []struct {
			name string
			tag  uint64
		}{
			{"days", optDays},
			{"subject", optSubject},
			{"from", optFrom},
			{"addresses", optAddresses},
			{"handle", optHandle},
		}
		for _, t := range tagged {
			v, ok := a.Tag(t.name)
			if !ok {
				continue
			}
			opts.Tag(t.tag)
			if err := g.EmitArgument(v); err != nil {
				return err
			}
		}
		if a.Has("mime") {
			opts.Tag(optMime)
			g.Code().EmitNumberOperand(1)
		}
		opts.End()
		return nil
	}
}
