package commands

import (
	"fmt"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

var coreOperations = []*interp.Operation{
	OperationStop,
	OperationKeep,
	OperationDiscard,
	OperationRedirect,
	OperationAddress,
	OperationHeader,
	OperationExists,
	OperationSizeOver,
	OperationSizeUnder,
}

// Register adds the core commands and tests to reg and cmds.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	for _, op := range coreOperations {
		if err := reg.RegisterCoreOperation(op); err != nil {
			return err
		}
	}
	defs := []*codegen.CommandDef{
		{Name: "stop", Generate: generateStop},
		{Name: "keep", Generate: generateKeep},
		{Name: "discard", Generate: generateDiscard},
		{Name: "redirect", Generate: generateRedirect},
		{Name: "address", Test: true, GenerateTest: generateAddress},
		{Name: "header", Test: true, GenerateTest: generateHeader},
		{Name: "exists", Test: true, GenerateTest: generateExists},
		{Name: "size", Test: true, GenerateTest: generateSize},
	}
	for _, def := range defs {
		if err := cmds.Register(def); err != nil {
			return fmt.Errorf("core command %s: %w", def.Name, err)
		}
	}
	return nil
}
