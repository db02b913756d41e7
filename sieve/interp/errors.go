package interp

import (
	"errors"
	"fmt"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

var (
	// ErrMatch reports a failed match evaluation, such as an invalid regular
	// expression key or a comparator that cannot serve the match type.
	ErrMatch = fmt.Errorf("%w: match error", bytecode.ErrCorrupt)
	// ErrInvalidOpcode reports an opcode that does not resolve.
	ErrInvalidOpcode = fmt.Errorf("%w: invalid opcode", bytecode.ErrCorrupt)
	// ErrOperationLimit reports a run that executed more operations than allowed.
	ErrOperationLimit = fmt.Errorf("%w: operation limit exceeded", bytecode.ErrCorrupt)

	ErrRegistrySealed     = errors.New("registry is sealed")
	ErrDuplicateObject    = errors.New("object already registered")
	ErrDuplicateOperation = errors.New("operation already registered")
	ErrNotReady           = errors.New("interpreter already ran")
)

// ExecError is the fault a run ends with. It names the operation that
// failed and, when the binary has a debug block, its source line.
type ExecError struct {
	Address  bytecode.Address
	Line     int
	Mnemonic string
	Err      error
}

func (e *ExecError) Error() string {
	op := e.Mnemonic
	if op == "" {
		op = "operation"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s at %08x (line %d): %v", op, e.Address, e.Line, e.Err)
	}
	return fmt.Sprintf("%s at %08x: %v", op, e.Address, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
