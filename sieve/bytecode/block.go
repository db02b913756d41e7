package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Address is a byte offset inside a block.
type Address int

// BlockKind tells consumers what a block holds.
type BlockKind uint8

const (
	KindCode  BlockKind = 1
	KindDebug BlockKind = 2
	KindData  BlockKind = 3
)

func (k BlockKind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindDebug:
		return "debug"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// offsetSize is the width of a jump offset. Offsets are fixed width so a
// forward jump can be patched once its target is known.
const offsetSize = 4

// Block is an append-only byte buffer during generation and a random-access
// one during execution. Readers pass a cursor that is advanced exactly past
// whatever was read.
type Block struct {
	id     int
	kind   BlockKind
	data   []byte
	sealed bool
}

// NewBlock returns a free-standing block. Blocks belonging to a binary are
// created with Binary.AddBlock.
func NewBlock(kind BlockKind) *Block {
	return &Block{id: -1, kind: kind}
}

func (b *Block) ID() int         { return b.id }
func (b *Block) Kind() BlockKind { return b.kind }
func (b *Block) Len() Address    { return Address(len(b.data)) }

// Bytes returns the raw contents. Callers must not modify them.
func (b *Block) Bytes() []byte { return b.data }

func (b *Block) mustBeOpen() {
	if b.sealed {
		panic("bytecode: emit on finalized block")
	}
}

// EmitCode appends a single byte (opcode or operand code).
func (b *Block) EmitCode(c uint8) Address {
	b.mustBeOpen()
	at := b.Len()
	b.data = append(b.data, c)
	return at
}

// EmitBytes appends raw bytes.
func (b *Block) EmitBytes(p []byte) Address {
	b.mustBeOpen()
	at := b.Len()
	b.data = append(b.data, p...)
	return at
}

// EmitInteger appends v as an unsigned varint.
func (b *Block) EmitInteger(v uint64) Address {
	b.mustBeOpen()
	at := b.Len()
	b.data = binary.AppendUvarint(b.data, v)
	return at
}

// EmitString appends a length-prefixed string without an operand code.
func (b *Block) EmitString(s string) Address {
	at := b.EmitInteger(uint64(len(s)))
	b.data = append(b.data, s...)
	return at
}

// EmitOffset appends a jump offset placeholder and returns its address for
// a later PatchOffset.
func (b *Block) EmitOffset() Address {
	b.mustBeOpen()
	at := b.Len()
	b.data = append(b.data, 0, 0, 0, 0)
	return at
}

// PatchOffset makes the offset stored at `at` point to target.
func (b *Block) PatchOffset(at, target Address) error {
	b.mustBeOpen()
	if at < 0 || at+offsetSize > b.Len() {
		return fmt.Errorf("patch offset at %d: %w", at, ErrBadJump)
	}
	rel := int64(target) - int64(at)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return fmt.Errorf("patch offset at %d: %w", at, ErrBadJump)
	}
	binary.BigEndian.PutUint32(b.data[at:], uint32(int32(rel)))
	return nil
}

// EmitJumpTo appends an offset that already knows its target.
func (b *Block) EmitJumpTo(target Address) error {
	at := b.EmitOffset()
	return b.PatchOffset(at, target)
}

// ReadCode reads one byte.
func (b *Block) ReadCode(pos *Address) (uint8, error) {
	if *pos < 0 || *pos >= b.Len() {
		return 0, fmt.Errorf("read code at %d: %w", *pos, ErrTruncated)
	}
	c := b.data[*pos]
	*pos++
	return c, nil
}

// PeekCode returns the byte at pos without advancing. ok is false at the
// end of the block.
func (b *Block) PeekCode(pos Address) (uint8, bool) {
	if pos < 0 || pos >= b.Len() {
		return 0, false
	}
	return b.data[pos], true
}

// ReadInteger reads an unsigned varint.
func (b *Block) ReadInteger(pos *Address) (uint64, error) {
	if *pos < 0 || *pos >= b.Len() {
		return 0, fmt.Errorf("read integer at %d: %w", *pos, ErrTruncated)
	}
	v, n := binary.Uvarint(b.data[*pos:])
	switch {
	case n == 0:
		return 0, fmt.Errorf("read integer at %d: %w", *pos, ErrTruncated)
	case n < 0:
		return 0, fmt.Errorf("read integer at %d: %w", *pos, ErrIntegerOverflow)
	}
	*pos += Address(n)
	return v, nil
}

// ReadString reads a length-prefixed string.
func (b *Block) ReadString(pos *Address) (string, error) {
	start := *pos
	n, err := b.ReadInteger(pos)
	if err != nil {
		return "", err
	}
	if n > uint64(b.Len()-*pos) {
		*pos = start
		return "", fmt.Errorf("read string at %d: %w", start, ErrTruncated)
	}
	s := string(b.data[*pos : *pos+Address(n)])
	*pos += Address(n)
	return s, nil
}

// ReadOffset reads a jump offset and returns the absolute target. The target
// is checked against the block bounds; the end of the block is a valid
// target.
func (b *Block) ReadOffset(pos *Address) (Address, error) {
	at := *pos
	if at < 0 || at+offsetSize > b.Len() {
		return 0, fmt.Errorf("read offset at %d: %w", at, ErrTruncated)
	}
	rel := int32(binary.BigEndian.Uint32(b.data[at:]))
	target := at + Address(rel)
	if target < 0 || target > b.Len() {
		return 0, fmt.Errorf("offset at %d to %d: %w", at, target, ErrBadJump)
	}
	*pos += offsetSize
	return target, nil
}
