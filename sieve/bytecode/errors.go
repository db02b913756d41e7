package bytecode

import (
	"errors"
	"fmt"
)

// ErrCorrupt is the root of every decode failure. Truncated blocks, bad
// jump targets, unknown operand codes and unresolvable objects all wrap it.
var ErrCorrupt = errors.New("sieve binary is corrupt")

var (
	ErrTruncated       = fmt.Errorf("%w: truncated", ErrCorrupt)
	ErrBadMagic        = fmt.Errorf("%w: invalid magic", ErrCorrupt)
	ErrChecksum        = fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	ErrUnknownObject   = fmt.Errorf("%w: unknown object", ErrCorrupt)
	ErrBadOperand      = fmt.Errorf("%w: unexpected operand", ErrCorrupt)
	ErrUnknownOptional = fmt.Errorf("%w: unknown optional operand", ErrCorrupt)
	ErrBadJump         = fmt.Errorf("%w: jump target out of range", ErrCorrupt)
	ErrIntegerOverflow = fmt.Errorf("%w: integer overflow", ErrCorrupt)
	ErrVersionMismatch = errors.New("sieve binary version mismatch")
	ErrNotFinalized    = errors.New("sieve binary is not finalized")
	ErrFinalized       = errors.New("sieve binary is already finalized")
	ErrNoSuchBlock     = errors.New("no such block")
)

// ErrUnsupportedExtension is returned by Load when the binary needs an
// extension the resolver does not know, or knows at another version.
var ErrUnsupportedExtension = errors.New("unsupported extension")
