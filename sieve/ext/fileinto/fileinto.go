// Package fileinto implements the fileinto action of RFC 5228.
package fileinto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "fileinto"

// Context is the context of a fileinto action.
type Context struct {
	Mailbox string
}

var ActionFileinto = &interp.ActionDef{
	Name:  "fileinto",
	Final: true,
	Describe: func(ctx any) string {
		if c, ok := ctx.(*Context); ok {
			return strconv.Quote(c.Mailbox)
		}
		return ""
	},
}

var OperationFileinto = &interp.Operation{
	Mnemonic: "FILEINTO",
	Code:     0,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		if err := d.DumpOperand(pos, "folder"); err != nil {
			return err
		}
		return d.DumpOptionals(pos, interp.SideEffectOptionalNames)
	},
	Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
		mailbox, err := rt.ReadString(pos)
		if err != nil {
			return interp.Step{}, err
		}
		opts, err := rt.ReadOptionals(pos, interp.OptSideEffect)
		if err != nil {
			return interp.Step{}, err
		}
		effects, err := rt.SideEffects(opts, ActionFileinto)
		if err != nil {
			return interp.Step{}, err
		}
		if !helpers.ValidMailboxName(mailbox) {
			return interp.Step{}, fmt.Errorf("fileinto: invalid mailbox name %q", mailbox)
		}
		rt.AppendAction(ActionFileinto, &Context{Mailbox: mailbox}, effects)
		return interp.Continue(), nil
	},
}

var Extension = &interp.ExtensionDef{
	Name:       Name,
	Version:    1,
	Operations: []*interp.Operation{OperationFileinto},
}

// Register adds the extension and the fileinto command.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	if _, err := reg.RegisterExtension(Extension); err != nil {
		return err
	}
	return cmds.Register(&codegen.CommandDef{
		Name:       "fileinto",
		Extensions: []string{Name},
		Generate:   generate,
	})
}

func generate(g *codegen.Generator, cmd *ast.Command) error {
	a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{
		Action:     ActionFileinto.Name,
		Positional: []codegen.ArgKind{codegen.ArgString},
	})
	if err != nil {
		return err
	}
	mailbox := a.Positional[0].(*ast.String)
	if !strings.Contains(mailbox.Value, "${") && !helpers.ValidMailboxName(mailbox.Value) {
		return codegen.Errorf(mailbox.Line, "fileinto: invalid mailbox name %q", mailbox.Value)
	}
	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationFileinto)
	if err := g.EmitString(mailbox); err != nil {
		return err
	}
	opts := g.BeginOptionals()
	if err := g.EmitSideEffects(opts, a); err != nil {
		return err
	}
	opts.End()
	return nil
}
