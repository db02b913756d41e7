// Package commands implements the core Sieve commands and tests of RFC
// 5228: the stop, keep, discard and redirect actions and the address,
// header, exists and size tests.
package commands

import (
	"fmt"
	"strings"

	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

var (
	OperationStop = &interp.Operation{
		Mnemonic: "STOP",
		Code:     interp.OpStop,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			rt.Tracef(interp.TraceCommands, "stop")
			return interp.Done(), nil
		},
	}
	OperationKeep = &interp.Operation{
		Mnemonic: "KEEP",
		Code:     interp.OpKeep,
		Dump:     dumpSideEffects,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			effects, err := readSideEffects(rt, pos, interp.ActionKeep)
			if err != nil {
				return interp.Step{}, err
			}
			rt.AppendAction(interp.ActionKeep, &interp.KeepContext{Mailbox: rt.Env.Mailbox()}, effects)
			return interp.Continue(), nil
		},
	}
	OperationDiscard = &interp.Operation{
		Mnemonic: "DISCARD",
		Code:     interp.OpDiscard,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			rt.AppendAction(interp.ActionDiscard, nil, nil)
			return interp.Continue(), nil
		},
	}
	OperationRedirect = &interp.Operation{
		Mnemonic: "REDIRECT",
		Code:     interp.OpRedirect,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			if err := d.DumpOperand(pos, "address"); err != nil {
				return err
			}
			return dumpSideEffects(d, pos)
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			addr, err := rt.ReadString(pos)
			if err != nil {
				return interp.Step{}, err
			}
			effects, err := readSideEffects(rt, pos, interp.ActionRedirect)
			if err != nil {
				return interp.Step{}, err
			}
			// A constant address was checked at compile time; this catches
			// one built from variables.
			if !helpers.ValidAddress(addr) {
				return interp.Step{}, fmt.Errorf("redirect: invalid address %q", addr)
			}
			rt.AppendAction(interp.ActionRedirect, &interp.RedirectContext{Address: addr}, effects)
			return interp.Continue(), nil
		},
	}
)

func readSideEffects(rt *interp.Runtime, pos *bytecode.Address, action *interp.ActionDef) ([]interp.SideEffect, error) {
	opts, err := rt.ReadOptionals(pos, interp.OptSideEffect)
	if err != nil {
		return nil, err
	}
	return rt.SideEffects(opts, action)
}

func dumpSideEffects(d *interp.Dumper, pos *bytecode.Address) error {
	return d.DumpOptionals(pos, interp.SideEffectOptionalNames)
}

func generateStop(g *codegen.Generator, cmd *ast.Command) error {
	if _, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{}); err != nil {
		return err
	}
	g.EmitOperation(nil, OperationStop)
	return nil
}

func generateDiscard(g *codegen.Generator, cmd *ast.Command) error {
	if _, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{}); err != nil {
		return err
	}
	g.EmitOperation(nil, OperationDiscard)
	return nil
}

func generateKeep(g *codegen.Generator, cmd *ast.Command) error {
	a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{Action: interp.ActionKeep.Name})
	if err != nil {
		return err
	}
	g.EmitOperation(nil, OperationKeep)
	return emitSideEffects(g, a)
}

func generateRedirect(g *codegen.Generator, cmd *ast.Command) error {
	a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{
		Action:     interp.ActionRedirect.Name,
		Positional: []codegen.ArgKind{codegen.ArgString},
	})
	if err != nil {
		return err
	}
	addr := a.Positional[0].(*ast.String)
	if !strings.Contains(addr.Value, "${") && !helpers.ValidAddress(addr.Value) {
		return codegen.Errorf(addr.Line, "redirect: invalid address %q", addr.Value)
	}
	g.EmitOperation(nil, OperationRedirect)
	if err := g.EmitString(addr); err != nil {
		return err
	}
	return emitSideEffects(g, a)
}

// emitSideEffects writes the optional block of an action: its side effects.
func emitSideEffects(g *codegen.Generator, a *codegen.Args) error {
	opts := g.BeginOptionals()
	if err := g.EmitSideEffects(opts, a); err != nil {
		return err
	}
	opts.End()
	return nil
}
