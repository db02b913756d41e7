package interp

import (
	"fmt"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// Core opcodes. Opcode 0 is never valid, which keeps an optional operand
// marker distinguishable from the next operation.
const (
	OpJump uint64 = iota + 1
	OpJumpTrue
	OpJumpFalse
	OpStop
	OpKeep
	OpDiscard
	OpRedirect
	OpAddress
	OpHeader
	OpExists
	OpSizeOver
	OpSizeUnder
)

const (
	maxCoreOpcode = 0x7f
	// opExtension prefixes an extension operation: the marker is followed by
	// the binary-local extension id and the operation code.
	opExtension = 0x80
)

// Operation is an instruction definition.
type Operation struct {
	Mnemonic string
	Code     uint64
	// Dump prints the operands. It may be nil for operations without any.
	Dump func(d *Dumper, pos *bytecode.Address) error
	// Execute runs the operation. It must leave pos right after its last
	// operand.
	Execute func(rt *Runtime, pos *bytecode.Address) (Step, error)
}

// OpInstance is an operation decoded at a particular address.
type OpInstance struct {
	Def *Operation
	// Ext owns the operation; nil for core operations.
	Ext     *Extension
	Address bytecode.Address
}

type stepKind int

const (
	stepContinue stepKind = iota
	stepJump
	stepDone
)

// Step tells the interpreter where to go after an operation.
type Step struct {
	kind   stepKind
	target bytecode.Address
}

// Continue proceeds with the operation following the operands.
func Continue() Step { return Step{} }

// JumpTo transfers control to target.
func JumpTo(target bytecode.Address) Step { return Step{kind: stepJump, target: target} }

// Done ends the run.
func Done() Step { return Step{kind: stepDone} }

// EmitOpcode writes the opcode of a core operation (ext nil) or of an
// extension operation linked into the binary as ext.
func EmitOpcode(b *bytecode.Block, ext *bytecode.LinkedExtension, code uint64) bytecode.Address {
	if ext == nil {
		if code == 0 || code > maxCoreOpcode {
			panic(fmt.Sprintf("interp: core opcode %d out of range", code))
		}
		return b.EmitCode(uint8(code))
	}
	at := b.EmitCode(opExtension)
	b.EmitInteger(ext.LocalID)
	b.EmitInteger(code)
	return at
}

// readOpcode decodes an opcode. localExt is 0 for core operations.
func readOpcode(b *bytecode.Block, pos *bytecode.Address) (localExt, code uint64, err error) {
	start := *pos
	c, err := b.ReadCode(pos)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case c == 0:
		*pos = start
		return 0, 0, fmt.Errorf("opcode 0 at %08x: %w", start, ErrInvalidOpcode)
	case c <= maxCoreOpcode:
		return 0, uint64(c), nil
	case c == opExtension:
		if localExt, err = b.ReadInteger(pos); err != nil {
			*pos = start
			return 0, 0, err
		}
		if code, err = b.ReadInteger(pos); err != nil {
			*pos = start
			return 0, 0, err
		}
		if localExt == 0 {
			*pos = start
			return 0, 0, fmt.Errorf("extension opcode without extension at %08x: %w", start, ErrInvalidOpcode)
		}
		return localExt, code, nil
	default:
		*pos = start
		return 0, 0, fmt.Errorf("opcode %#x at %08x: %w", c, start, ErrInvalidOpcode)
	}
}
