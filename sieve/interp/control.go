package interp

import (
	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// Control flow operations. Tests leave their outcome in the test result
// register; conditional jumps consume it.
var (
	OperationJump = &Operation{
		Mnemonic: "JMP",
		Code:     OpJump,
		Dump:     dumpJump,
		Execute: func(rt *Runtime, pos *bytecode.Address) (Step, error) {
			target, err := rt.Code().ReadOffset(pos)
			if err != nil {
				return Step{}, err
			}
			return JumpTo(target), nil
		},
	}
	OperationJumpTrue = &Operation{
		Mnemonic: "JMPTRUE",
		Code:     OpJumpTrue,
		Dump:     dumpJump,
		Execute:  conditionalJump(true),
	}
	OperationJumpFalse = &Operation{
		Mnemonic: "JMPFALSE",
		Code:     OpJumpFalse,
		Dump:     dumpJump,
		Execute:  conditionalJump(false),
	}
)

var controlOperations = []*Operation{OperationJump, OperationJumpTrue, OperationJumpFalse}

func conditionalJump(when bool) func(rt *Runtime, pos *bytecode.Address) (Step, error) {
	return func(rt *Runtime, pos *bytecode.Address) (Step, error) {
		target, err := rt.Code().ReadOffset(pos)
		if err != nil {
			return Step{}, err
		}
		if rt.TestResult() == when {
			rt.Tracef(TraceTests, "jump to %08x", target)
			return JumpTo(target), nil
		}
		return Continue(), nil
	}
}

func dumpJump(d *Dumper, pos *bytecode.Address) error {
	at := *pos
	target, err := d.Code().ReadOffset(pos)
	if err != nil {
		return err
	}
	d.Mark(at)
	d.Printf("offset: %d [%08x]", int(target-at), target)
	return nil
}
