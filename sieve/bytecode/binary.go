package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"
)

// Magic opens every serialized binary.
const Magic = "\xa1SVB"

// Format version written by this package. A binary with another major
// version, or a newer minor version, is refused.
const (
	VersionMajor uint16 = 1
	VersionMinor uint16 = 0
)

const (
	headerSize   = len(Magic) + 4
	checksumSize = 32
)

// MainBlock is the id of the code block every binary starts with.
const MainBlock = 0

// ExtensionResolver maps an extension named in a binary header to a live
// handle. It must fail with ErrUnsupportedExtension for unknown names or
// incompatible versions.
type ExtensionResolver interface {
	ResolveExtension(name string, version uint64) (handle int, err error)
}

// LinkedExtension is one entry of a binary's extension table.
type LinkedExtension struct {
	Name string
	// LocalID is the id used inside this binary's operands. Ids start at 1;
	// 0 means core.
	LocalID uint64
	Version uint64
	// Handle is the resolver's id for the extension.
	Handle int
	// Block is the extension's private data block, if any.
	Block *Block
}

// Binary is a compiled script: blocks of bytecode plus a header naming the
// extensions they depend on. A binary is built by the code generator, then
// finalized; after that it is immutable and may be shared.
type Binary struct {
	blocks   []*Block
	exts     []*LinkedExtension
	byName   map[string]*LinkedExtension
	sealed   bool
	checksum [checksumSize]byte
	raw      []byte
}

// New creates an empty binary with its main code block.
func New() *Binary {
	bin := &Binary{byName: make(map[string]*LinkedExtension)}
	bin.blocks = append(bin.blocks, &Block{id: MainBlock, kind: KindCode})
	return bin
}

// Main returns the main code block.
func (bin *Binary) Main() *Block { return bin.blocks[MainBlock] }

// Block returns the block with the given id.
func (bin *Binary) Block(id int) (*Block, error) {
	if id < 0 || id >= len(bin.blocks) {
		return nil, fmt.Errorf("block %d: %w", id, ErrNoSuchBlock)
	}
	return bin.blocks[id], nil
}

// Blocks returns all blocks in id order.
func (bin *Binary) Blocks() []*Block { return bin.blocks }

// AddBlock appends a new empty block.
func (bin *Binary) AddBlock(kind BlockKind) (*Block, error) {
	if bin.sealed {
		return nil, ErrFinalized
	}
	b := &Block{id: len(bin.blocks), kind: kind}
	bin.blocks = append(bin.blocks, b)
	return b, nil
}

// DebugBlock returns the first debug block, or nil.
func (bin *Binary) DebugBlock() *Block {
	for _, b := range bin.blocks {
		if b.kind == KindDebug {
			return b
		}
	}
	return nil
}

// LinkExtension adds an extension to the header, or returns the existing
// entry when it is already linked.
func (bin *Binary) LinkExtension(name string, version uint64, handle int) (*LinkedExtension, error) {
	if ext, ok := bin.byName[name]; ok {
		return ext, nil
	}
	if bin.sealed {
		return nil, ErrFinalized
	}
	ext := &LinkedExtension{
		Name:    name,
		LocalID: uint64(len(bin.exts) + 1),
		Version: version,
		Handle:  handle,
	}
	bin.exts = append(bin.exts, ext)
	bin.byName[name] = ext
	return ext, nil
}

// SetExtensionBlock attaches a data block to a linked extension.
func (bin *Binary) SetExtensionBlock(ext *LinkedExtension, b *Block) error {
	if bin.sealed {
		return ErrFinalized
	}
	ext.Block = b
	return nil
}

// Extension returns the extension with the given binary-local id.
func (bin *Binary) Extension(localID uint64) (*LinkedExtension, bool) {
	if localID == 0 || localID > uint64(len(bin.exts)) {
		return nil, false
	}
	return bin.exts[localID-1], true
}

// ExtensionByName returns the linked extension with the given name.
func (bin *Binary) ExtensionByName(name string) (*LinkedExtension, bool) {
	ext, ok := bin.byName[name]
	return ext, ok
}

// Extensions returns the header's extension table in id order.
func (bin *Binary) Extensions() []*LinkedExtension { return bin.exts }

// Finalized reports whether the binary is immutable.
func (bin *Binary) Finalized() bool { return bin.sealed }

// Checksum returns the BLAKE3 checksum of the serialized form.
func (bin *Binary) Checksum() [32]byte { return bin.checksum }

// Finalize freezes the binary and computes its serialized form.
func (bin *Binary) Finalize() error {
	if bin.sealed {
		return ErrFinalized
	}
	var buf bytes.Buffer
	buf.WriteString(Magic)
	var v [4]byte
	binary.BigEndian.PutUint16(v[0:], VersionMajor)
	binary.BigEndian.PutUint16(v[2:], VersionMinor)
	buf.Write(v[:])

	w := &Block{}
	w.EmitInteger(uint64(len(bin.exts)))
	for _, ext := range bin.exts {
		w.EmitString(ext.Name)
		w.EmitInteger(ext.LocalID)
		w.EmitInteger(ext.Version)
		if ext.Block != nil {
			w.EmitInteger(uint64(ext.Block.id + 1))
		} else {
			w.EmitInteger(0)
		}
	}
	w.EmitInteger(uint64(len(bin.blocks)))
	for _, b := range bin.blocks {
		w.EmitInteger(uint64(b.id))
		w.EmitCode(uint8(b.kind))
		w.EmitInteger(uint64(len(b.data)))
		w.EmitBytes(b.data)
	}
	buf.Write(w.data)

	bin.checksum = blake3.Sum256(buf.Bytes())
	buf.Write(bin.checksum[:])
	bin.raw = buf.Bytes()
	bin.sealed = true
	for _, b := range bin.blocks {
		b.sealed = true
	}
	return nil
}

// MarshalBinary returns the serialized binary.
func (bin *Binary) MarshalBinary() ([]byte, error) {
	if !bin.sealed {
		return nil, ErrNotFinalized
	}
	out := make([]byte, len(bin.raw))
	copy(out, bin.raw)
	return out, nil
}

// Load parses a serialized binary. The extension table is resolved before
// any block is decoded, so a binary needing an unknown extension fails with
// ErrUnsupportedExtension without its code being looked at.
func Load(data []byte, resolver ExtensionResolver) (*Binary, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("load binary: %w", ErrTruncated)
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	major := binary.BigEndian.Uint16(data[len(Magic):])
	minor := binary.BigEndian.Uint16(data[len(Magic)+2:])
	if major != VersionMajor || minor > VersionMinor {
		return nil, fmt.Errorf("binary version %d.%d, supported %d.%d: %w",
			major, minor, VersionMajor, VersionMinor, ErrVersionMismatch)
	}

	body := data[:len(data)-checksumSize]
	var sum [checksumSize]byte
	copy(sum[:], data[len(data)-checksumSize:])
	if blake3.Sum256(body) != sum {
		return nil, ErrChecksum
	}

	r := &Block{data: body[headerSize:]}
	var pos Address

	type extEntry struct {
		ext     *LinkedExtension
		blockID uint64
	}
	count, err := r.ReadInteger(&pos)
	if err != nil {
		return nil, fmt.Errorf("read extension count: %w", err)
	}
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("extension count %d: %w", count, ErrTruncated)
	}
	bin := &Binary{byName: make(map[string]*LinkedExtension)}
	entries := make([]extEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := r.ReadString(&pos)
		if err != nil {
			return nil, fmt.Errorf("read extension name: %w", err)
		}
		localID, err := r.ReadInteger(&pos)
		if err != nil {
			return nil, fmt.Errorf("read extension %q id: %w", name, err)
		}
		version, err := r.ReadInteger(&pos)
		if err != nil {
			return nil, fmt.Errorf("read extension %q version: %w", name, err)
		}
		blockID, err := r.ReadInteger(&pos)
		if err != nil {
			return nil, fmt.Errorf("read extension %q block: %w", name, err)
		}
		if localID != i+1 {
			return nil, fmt.Errorf("extension %q has id %d at position %d: %w", name, localID, i+1, ErrCorrupt)
		}
		if _, dup := bin.byName[name]; dup {
			return nil, fmt.Errorf("extension %q listed twice: %w", name, ErrCorrupt)
		}
		handle, err := resolver.ResolveExtension(name, version)
		if err != nil {
			return nil, fmt.Errorf("extension %q: %w", name, err)
		}
		ext := &LinkedExtension{Name: name, LocalID: localID, Version: version, Handle: handle}
		bin.exts = append(bin.exts, ext)
		bin.byName[name] = ext
		entries = append(entries, extEntry{ext: ext, blockID: blockID})
	}

	nblocks, err := r.ReadInteger(&pos)
	if err != nil {
		return nil, fmt.Errorf("read block count: %w", err)
	}
	if nblocks == 0 || nblocks > uint64(r.Len()) {
		return nil, fmt.Errorf("block count %d: %w", nblocks, ErrCorrupt)
	}
	for i := uint64(0); i < nblocks; i++ {
		id, err := r.ReadInteger(&pos)
		if err != nil {
			return nil, fmt.Errorf("read block id: %w", err)
		}
		if id != i {
			return nil, fmt.Errorf("block %d at position %d: %w", id, i, ErrCorrupt)
		}
		kind, err := r.ReadCode(&pos)
		if err != nil {
			return nil, fmt.Errorf("read block %d kind: %w", id, err)
		}
		size, err := r.ReadInteger(&pos)
		if err != nil {
			return nil, fmt.Errorf("read block %d size: %w", id, err)
		}
		if size > uint64(r.Len()-pos) {
			return nil, fmt.Errorf("block %d size %d: %w", id, size, ErrTruncated)
		}
		b := &Block{id: int(id), kind: BlockKind(kind), sealed: true}
		b.data = append([]byte(nil), r.data[pos:pos+Address(size)]...)
		pos += Address(size)
		bin.blocks = append(bin.blocks, b)
	}
	if pos != r.Len() {
		return nil, fmt.Errorf("%d trailing bytes: %w", r.Len()-pos, ErrCorrupt)
	}
	if bin.blocks[MainBlock].kind != KindCode {
		return nil, fmt.Errorf("main block is %s: %w", bin.blocks[MainBlock].kind, ErrCorrupt)
	}

	for _, e := range entries {
		if e.blockID == 0 {
			continue
		}
		if e.blockID > uint64(len(bin.blocks)) {
			return nil, fmt.Errorf("extension %q block %d: %w", e.ext.Name, e.blockID-1, ErrCorrupt)
		}
		e.ext.Block = bin.blocks[e.blockID-1]
	}

	bin.sealed = true
	bin.checksum = sum
	bin.raw = append([]byte(nil), data...)
	return bin, nil
}
