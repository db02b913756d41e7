package interp

import (
	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// ExtensionDef describes a capability bundle: its name as used in require,
// the structural version recorded in binaries, and the operations it adds.
// Operations[i].Code must be i.
type ExtensionDef struct {
	Name       string
	Version    uint64
	Operations []*Operation

	// LoadBinary decodes the extension's data block when a binary is
	// loaded. Its result is shared read-only by every run of that binary.
	LoadBinary func(ext *Extension, block *bytecode.Block) (any, error)
	// DumpBinary prints the decoded data block under the extension header
	// of a code dump.
	DumpBinary func(d *Dumper, ext *Extension, data any) error
	// RuntimeInit prepares per-run state before the first operation.
	RuntimeInit func(rt *Runtime, ext *Extension) error
}

// Extension is a registered extension. ID indexes the registry's arena and
// is what objects refer back to.
type Extension struct {
	ID  int
	Def *ExtensionDef
}

func (e *Extension) Name() string { return e.Def.Name }

// Operation returns the extension operation with the given code.
func (e *Extension) Operation(code uint64) (*Operation, bool) {
	if code >= uint64(len(e.Def.Operations)) {
		return nil, false
	}
	return e.Def.Operations[code], true
}
