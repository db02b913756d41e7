package bytecode

import (
	"fmt"
	"sort"
)

// DebugWriter records which source line each command starts on. Entries are
// (address, line) pairs in increasing address order.
type DebugWriter struct {
	block    *Block
	lastAddr Address
	lastLine int
	started  bool
}

func NewDebugWriter(b *Block) *DebugWriter {
	return &DebugWriter{block: b}
}

// Emit records that code at addr belongs to line. Repeated lines are
// coalesced. Addresses must not decrease.
func (w *DebugWriter) Emit(addr Address, line int) {
	if line <= 0 {
		return
	}
	if w.started {
		if addr < w.lastAddr {
			panic(fmt.Sprintf("bytecode: debug address %d before %d", addr, w.lastAddr))
		}
		if line == w.lastLine {
			return
		}
	}
	w.block.EmitInteger(uint64(addr))
	w.block.EmitInteger(uint64(line))
	w.lastAddr, w.lastLine, w.started = addr, line, true
}

type debugEntry struct {
	addr Address
	line int
}

// DebugReader answers address to line lookups. It is immutable once built.
type DebugReader struct {
	entries []debugEntry
}

// NewDebugReader parses a debug block. A malformed block yields an error
// together with a reader over the entries decoded before the damage.
func NewDebugReader(b *Block) (*DebugReader, error) {
	r := &DebugReader{}
	if b == nil {
		return r, nil
	}
	var pos Address
	for pos < b.Len() {
		addr, err := b.ReadInteger(&pos)
		if err != nil {
			return r, err
		}
		line, err := b.ReadInteger(&pos)
		if err != nil {
			return r, err
		}
		if n := len(r.entries); n > 0 && Address(addr) < r.entries[n-1].addr {
			return r, fmt.Errorf("debug entry at %d goes backwards: %w", pos, ErrCorrupt)
		}
		r.entries = append(r.entries, debugEntry{addr: Address(addr), line: int(line)})
	}
	return r, nil
}

// LineAt returns the source line of the command covering addr, or 0.
func (r *DebugReader) LineAt(addr Address) int {
	if r == nil || len(r.entries) == 0 {
		return 0
	}
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].addr > addr })
	if i == 0 {
		return 0
	}
	return r.entries[i-1].line
}

// Len returns the number of entries.
func (r *DebugReader) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
