// Package imap4flags implements RFC 5232: the setflag, addflag and
// removeflag commands, the hasflag test and the :flags side effect on keep
// and fileinto. Without :flags, keep and fileinto carry the flags of the
// internal variable at the moment they are queued.
package imap4flags

import (
	"fmt"
	"strings"

	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/ext/variables"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "imap4flags"

// SideEffectName names the :flags side effect on actions.
const SideEffectName = "flags"

const (
	// optVariable selects a variable instead of the internal flag set. On
	// hasflag it may repeat.
	optVariable uint64 = 1
	optHasflagVariable = interp.OptMatchLast
)

type flagOp int

const (
	opSet flagOp = iota
	opAdd
	opRemove
)

var (
	OperationSetflag    = flagOperation("SETFLAG", 0, opSet)
	OperationAddflag    = flagOperation("ADDFLAG", 1, opAdd)
	OperationRemoveflag = flagOperation("REMOVEFLAG", 2, opRemove)
	OperationHasflag    = &interp.Operation{
		Mnemonic: "HASFLAG",
		Code:     3,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			if err := d.DumpOperand(pos, "flags"); err != nil {
				return err
			}
			return d.DumpOptionals(pos, interp.MergeOptionalNames(interp.MatchOptionalNames,
				map[uint64]string{optHasflagVariable: "variable"}))
		},
		Execute: executeHasflag,
	}
)

var Extension = &interp.ExtensionDef{
	Name:    Name,
	Version: 1,
	Operations: []*interp.Operation{
		OperationSetflag, OperationAddflag, OperationRemoveflag, OperationHasflag,
	},
	RuntimeInit: initRuntime,
}

// Register adds the extension, its commands, the hasflag test and the
// :flags side effect.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	ext, err := reg.RegisterExtension(Extension)
	if err != nil {
		return err
	}
	if err := reg.RegisterObject(ext, &interp.SideEffectDef{
		ObjectDef: interp.ObjectDef{Class: interp.ClassSideEffect, Name: SideEffectName, Code: 0},
		Params:    1,
		Actions:   []string{"keep", "fileinto"},
		Read:      readFlagsSideEffect,
		Describe: func(ctx any) string {
			flags, _ := ctx.([]string)
			return strings.Join(flags, " ")
		},
	}); err != nil {
		return err
	}

	defs := []*codegen.CommandDef{
		{Name: "setflag", Extensions: []string{Name}, Generate: flagGenerator(OperationSetflag)},
		{Name: "addflag", Extensions: []string{Name}, Generate: flagGenerator(OperationAddflag)},
		{Name: "removeflag", Extensions: []string{Name}, Generate: flagGenerator(OperationRemoveflag)},
		{Name: "hasflag", Extensions: []string{Name}, Test: true, GenerateTest: generateHasflag},
	}
	for _, def := range defs {
		if err := cmds.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// state is the internal flag variable of a run.
type state struct {
	flags []string
}

func initRuntime(rt *interp.Runtime, ext *interp.Extension) error {
	rt.SetExtensionContext(ext, &state{})
	obj, ok := rt.Program.Registry().LookupObject(interp.ClassSideEffect, SideEffectName)
	if !ok {
		return fmt.Errorf("side effect %q not registered", SideEffectName)
	}
	def := obj.(*interp.SideEffectDef)
	implicit := func(rt *interp.Runtime) (interp.SideEffect, bool) {
		st, _ := rt.ExtensionContext(ext).(*state)
		if st == nil || len(st.flags) == 0 {
			return interp.SideEffect{}, false
		}
		return interp.SideEffect{Def: def, Context: append([]string(nil), st.flags...)}, true
	}
	rt.AddImplicitSideEffect("keep", implicit)
	rt.AddImplicitSideEffect("fileinto", implicit)
	return nil
}

func readFlagsSideEffect(rt *interp.Runtime, params []bytecode.Operand) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf(":flags with %d parameters: %w", len(params), bytecode.ErrBadOperand)
	}
	list, err := rt.StringListValue(params[0])
	if err != nil {
		return nil, err
	}
	items, err := list.All()
	if err != nil {
		return nil, err
	}
	return helpers.SanitizeFlags(items), nil
}

// Flags returns the internal flag variable of the run.
func Flags(rt *interp.Runtime) []string {
	ext, ok := rt.Program.Registry().Extension(Name)
	if !ok {
		return nil
	}
	st, _ := rt.ExtensionContext(ext).(*state)
	if st == nil {
		return nil
	}
	return st.flags
}

func currentFlags(rt *interp.Runtime, variable *uint64) ([]string, error) {
	if variable == nil {
		return Flags(rt), nil
	}
	v, err := variables.Get(rt, *variable)
	if err != nil {
		return nil, err
	}
	return helpers.SanitizeFlags([]string{v}), nil
}

func storeFlags(rt *interp.Runtime, variable *uint64, flags []string) error {
	if variable != nil {
		return variables.Set(rt, *variable, strings.Join(flags, " "))
	}
	ext, _ := rt.Program.Registry().Extension(Name)
	st, ok := rt.ExtensionContext(ext).(*state)
	if !ok {
		return fmt.Errorf("imap4flags not initialized: %w", bytecode.ErrBadOperand)
	}
	st.flags = flags
	return nil
}

// ApplyFlags computes the result of a flag command.
func ApplyFlags(current, list []string, op flagOp) []string {
	switch op {
	case opSet:
		return helpers.SanitizeFlags(list)
	case opAdd:
		return helpers.SanitizeFlags(append(append([]string{}, current...), list...))
	}
	remove := make(map[string]bool)
	for _, f := range helpers.SanitizeFlags(list) {
		remove[strings.ToUpper(f)] = true
	}
	out := []string{}
	for _, f := range current {
		if !remove[strings.ToUpper(f)] {
			out = append(out, f)
		}
	}
	return out
}

func flagOperation(mnemonic string, code uint64, op flagOp) *interp.Operation {
	return &interp.Operation{
		Mnemonic: mnemonic,
		Code:     code,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			if err := d.DumpOperand(pos, "flags"); err != nil {
				return err
			}
			return d.DumpOptionals(pos, map[uint64]string{optVariable: "variable"})
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			list, err := rt.ReadStringList(pos)
			if err != nil {
				return interp.Step{}, err
			}
			opts, err := rt.ReadOptionals(pos, optVariable)
			if err != nil {
				return interp.Step{}, err
			}
			var variable *uint64
			if o, ok := opts.Get(optVariable); ok {
				idx, err := rt.NumberValue(o)
				if err != nil {
					return interp.Step{}, err
				}
				variable = &idx
			}
			items, err := list.All()
			if err != nil {
				return interp.Step{}, err
			}
			current, err := currentFlags(rt, variable)
			if err != nil {
				return interp.Step{}, err
			}
			flags := ApplyFlags(current, items, op)
			rt.Tracef(interp.TraceCommands, "flags now %q", strings.Join(flags, " "))
			if err := storeFlags(rt, variable, flags); err != nil {
				return interp.Step{}, err
			}
			return interp.Continue(), nil
		},
	}
}

func executeHasflag(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
	keys, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	opts, err := rt.ReadOptionals(pos, interp.OptComparator, interp.OptMatchType, optHasflagVariable)
	if err != nil {
		return interp.Step{}, err
	}
	spec, err := rt.MatchSpec(opts, "")
	if err != nil {
		return interp.Step{}, err
	}

	var values []string
	var usedVariables bool
	for _, o := range opts {
		if o.Tag != optHasflagVariable {
			continue
		}
		usedVariables = true
		idx, err := rt.NumberValue(o.Operand)
		if err != nil {
			return interp.Step{}, err
		}
		flags, err := currentFlags(rt, &idx)
		if err != nil {
			return interp.Step{}, err
		}
		values = append(values, flags...)
	}
	if !usedVariables {
		values = Flags(rt)
	}

	mc, err := rt.BeginMatch(spec, keys)
	if err != nil {
		return interp.Step{}, err
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

func flagGenerator(op *interp.Operation) func(g *codegen.Generator, cmd *ast.Command) error {
	return func(g *codegen.Generator, cmd *ast.Command) error {
		a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{
			Positional: []codegen.ArgKind{codegen.ArgStringList, codegen.ArgStringList},
			Optional:   1,
		})
		if err != nil {
			return err
		}
		list := a.Positional[len(a.Positional)-1]
		var variable *uint64
		if len(a.Positional) == 2 {
			name, ok := a.Positional[0].(*ast.String)
			if !ok {
				return codegen.Errorf(a.Positional[0].Pos(), "%s: variable name must be a string", cmd.Name)
			}
			idx, err := variables.Declare(g, name.Line, name.Value)
			if err != nil {
				return err
			}
			variable = &idx
		}

		ext, _ := g.Extension(Name)
		g.EmitOperation(ext, op)
		if err := g.EmitStringList(list); err != nil {
			return err
		}
		opts := g.BeginOptionals()
		if variable != nil {
			opts.Tag(optVariable)
			g.Code().EmitNumberOperand(*variable)
		}
		opts.End()
		return nil
	}
}

func generateHasflag(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, codegen.Signature{
		Match:      true,
		Positional: []codegen.ArgKind{codegen.ArgStringList, codegen.ArgStringList},
		Optional:   1,
	})
	if err != nil {
		return err
	}
	keys := a.Positional[len(a.Positional)-1]
	if err := g.CheckKeys(a, keys); err != nil {
		return err
	}
	var vars []uint64
	if len(a.Positional) == 2 {
		names, _ := ast.Strings(a.Positional[0])
		for _, name := range names {
			idx, err := variables.Declare(g, a.Positional[0].Pos(), name)
			if err != nil {
				return err
			}
			vars = append(vars, idx)
		}
	}

	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationHasflag)
	if err := g.EmitStringList(keys); err != nil {
		return err
	}
	opts := g.BeginOptionals()
	g.EmitMatchOptionals(opts, a)
	for _, idx := range vars {
		opts.Tag(optHasflagVariable)
		g.Code().EmitNumberOperand(idx)
	}
	opts.End()
	return nil
}
