// Package testsuite implements vnd.sora.testsuite, the commands used by
// script test suites to inspect and reset a run.
package testsuite

import (
	"errors"
	"fmt"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "vnd.sora.testsuite"

// ErrFailed is the fault raised by test_fail.
var ErrFailed = errors.New("test failed")

var (
	// OperationResultReset drops every queued action.
	OperationResultReset = &interp.Operation{
		Mnemonic: "TEST_RESULT_RESET",
		Code:     0,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			rt.Tracef(interp.TraceActions, "result reset, %d actions dropped", rt.Result.Len())
			rt.Result.Reset()
			return interp.Continue(), nil
		},
	}
	OperationFail = &interp.Operation{
		Mnemonic: "TEST_FAIL",
		Code:     1,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			return d.DumpOperand(pos, "reason")
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			reason, err := rt.ReadString(pos)
			if err != nil {
				return interp.Step{}, err
			}
			return interp.Step{}, fmt.Errorf("%w: %s", ErrFailed, reason)
		},
	}
	// OperationResultCount tests the number of queued actions.
	OperationResultCount = &interp.Operation{
		Mnemonic: "TEST_RESULT_COUNT",
		Code:     2,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			return d.DumpOperand(pos, "count")
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			n, err := rt.ReadNumber(pos)
			if err != nil {
				return interp.Step{}, err
			}
			rt.SetTestResult(uint64(rt.Result.Len()) == n)
			return interp.Continue(), nil
		},
	}
)

var Extension = &interp.ExtensionDef{
	Name:       Name,
	Version:    1,
	Operations: []*interp.Operation{OperationResultReset, OperationFail, OperationResultCount},
}

func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	if _, err := reg.RegisterExtension(Extension); err != nil {
		return err
	}
	defs := []*codegen.CommandDef{
		{
			Name:       "test_result_reset",
			Extensions: []string{Name},
			Generate: func(g *codegen.Generator, cmd *ast.Command) error {
				if _, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{}); err != nil {
					return err
				}
				ext, _ := g.Extension(Name)
				g.EmitOperation(ext, OperationResultReset)
				return nil
			},
		},
		{
			Name:       "test_fail",
			Extensions: []string{Name},
			Generate: func(g *codegen.Generator, cmd *ast.Command) error {
				a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, codegen.Signature{
					Positional: []codegen.ArgKind{codegen.ArgString},
				})
				if err != nil {
					return err
				}
				ext, _ := g.Extension(Name)
				g.EmitOperation(ext, OperationFail)
				return g.EmitString(a.Positional[0])
			},
		},
		{
			Name:       "test_result_count",
			Extensions: []string{Name},
			Test:       true,
			GenerateTest: func(g *codegen.Generator, test *ast.Test) error {
				a, err := g.ParseArgs(test.Name, test.Line, test.Args, codegen.Signature{
					Positional: []codegen.ArgKind{codegen.ArgNumber},
				})
				if err != nil {
					return err
				}
				ext, _ := g.Extension(Name)
				g.EmitOperation(ext, OperationResultCount)
				return g.EmitNumber(a.Positional[0])
			},
		},
	}
	for _, def := range defs {
		if err := cmds.Register(def); err != nil {
			return err
		}
	}
	return nil
}
