package bytecode

import (
	"fmt"
)

// OperandCode is the first byte of every self-describing operand.
type OperandCode uint8

const (
	// OperandOptional opens a tag-terminated block of optional operands.
	OperandOptional OperandCode = iota
	OperandNumber
	OperandString
	OperandStringList
	OperandCatenated
	OperandVariable
	OperandComparator
	OperandMatchType
	OperandAddressPart
	OperandSideEffect
	operandCodeCount
)

var operandNames = [...]string{
	OperandOptional:    "OPTIONAL",
	OperandNumber:      "NUM",
	OperandString:      "STR",
	OperandStringList:  "STRLIST",
	OperandCatenated:   "CATSTR",
	OperandVariable:    "VAR",
	OperandComparator:  "COMPARATOR",
	OperandMatchType:   "MATCH-TYPE",
	OperandAddressPart: "ADDRESS-PART",
	OperandSideEffect:  "SIDE-EFFECT",
}

func (c OperandCode) String() string {
	if c < operandCodeCount {
		return operandNames[c]
	}
	return fmt.Sprintf("OPERAND(%d)", uint8(c))
}

// IsObject reports whether the operand is an (extension, code) reference.
func (c OperandCode) IsObject() bool {
	switch c {
	case OperandComparator, OperandMatchType, OperandAddressPart, OperandSideEffect:
		return true
	}
	return false
}

// IsString reports whether the operand evaluates to a single string.
func (c OperandCode) IsString() bool {
	return c == OperandString || c == OperandCatenated || c == OperandVariable
}

// Operand is a generically decoded operand. Which fields are meaningful
// depends on Code.
type Operand struct {
	Code OperandCode
	// Address of the operand code byte.
	Address Address
	// Number value, variable index, or item count of a string list.
	Number uint64
	Str    string
	// Ext is the binary-local extension id of an object (0 is core).
	Ext    uint64
	Object uint64
	// Parts of a catenated string, or the parameters of a side effect.
	Parts []Operand
}

// EmitNumberOperand writes a number operand.
func (b *Block) EmitNumberOperand(v uint64) Address {
	at := b.EmitCode(uint8(OperandNumber))
	b.EmitInteger(v)
	return at
}

// EmitStringOperand writes a literal string operand.
func (b *Block) EmitStringOperand(s string) Address {
	at := b.EmitCode(uint8(OperandString))
	b.EmitString(s)
	return at
}

// EmitStringListHeader writes the header of a string list; exactly count
// string operands must follow.
func (b *Block) EmitStringListHeader(count int) Address {
	at := b.EmitCode(uint8(OperandStringList))
	b.EmitInteger(uint64(count))
	return at
}

// EmitStringListOperand writes a string list of literal strings.
func (b *Block) EmitStringListOperand(items []string) Address {
	at := b.EmitStringListHeader(len(items))
	for _, s := range items {
		b.EmitStringOperand(s)
	}
	return at
}

// EmitObjectOperand writes an object reference of the given class.
func (b *Block) EmitObjectOperand(code OperandCode, ext, object uint64) Address {
	if !code.IsObject() {
		panic(fmt.Sprintf("bytecode: %s is not an object operand", code))
	}
	at := b.EmitCode(uint8(code))
	b.EmitInteger(ext)
	b.EmitInteger(object)
	if code == OperandSideEffect {
		b.EmitInteger(0)
	}
	return at
}

// EmitSideEffectHeader writes a side-effect reference followed by the count
// of parameter operands that the caller emits next.
func (b *Block) EmitSideEffectHeader(ext, object uint64, params int) Address {
	at := b.EmitCode(uint8(OperandSideEffect))
	b.EmitInteger(ext)
	b.EmitInteger(object)
	b.EmitInteger(uint64(params))
	return at
}

// EmitCatenatedHeader writes the header of a catenated string; exactly parts
// string or variable operands must follow.
func (b *Block) EmitCatenatedHeader(parts int) Address {
	at := b.EmitCode(uint8(OperandCatenated))
	b.EmitInteger(uint64(parts))
	return at
}

// EmitVariableOperand writes a reference to variable slot index.
func (b *Block) EmitVariableOperand(index uint64) Address {
	at := b.EmitCode(uint8(OperandVariable))
	b.EmitInteger(index)
	return at
}

// maxNesting bounds recursion through catenated strings and side-effect
// parameters.
const maxNesting = 4

// ReadOperand decodes the operand at pos. String lists are skipped over: the
// returned operand carries the item count and address, and a
// StringListReader can iterate it later.
func ReadOperand(b *Block, pos *Address) (Operand, error) {
	return readOperand(b, pos, 0)
}

func readOperand(b *Block, pos *Address, depth int) (Operand, error) {
	if depth > maxNesting {
		return Operand{}, fmt.Errorf("operand at %d nested too deep: %w", *pos, ErrBadOperand)
	}
	start := *pos
	c, err := b.ReadCode(pos)
	if err != nil {
		return Operand{}, err
	}
	op := Operand{Code: OperandCode(c), Address: start}

	switch op.Code {
	case OperandNumber, OperandVariable:
		op.Number, err = b.ReadInteger(pos)
	case OperandString:
		op.Str, err = b.ReadString(pos)
	case OperandStringList:
		if op.Number, err = b.ReadInteger(pos); err != nil {
			break
		}
		for i := uint64(0); i < op.Number; i++ {
			item, ierr := readOperand(b, pos, depth+1)
			if ierr != nil {
				err = ierr
				break
			}
			if !item.Code.IsString() {
				err = fmt.Errorf("string list item at %d is %s: %w", item.Address, item.Code, ErrBadOperand)
				break
			}
		}
	case OperandCatenated:
		var n uint64
		if n, err = b.ReadInteger(pos); err != nil {
			break
		}
		op.Parts, err = readParts(b, pos, n, depth, func(part Operand) bool {
			return part.Code == OperandString || part.Code == OperandVariable
		})
	case OperandComparator, OperandMatchType, OperandAddressPart, OperandSideEffect:
		if op.Ext, err = b.ReadInteger(pos); err != nil {
			break
		}
		if op.Object, err = b.ReadInteger(pos); err != nil {
			break
		}
		if op.Code == OperandSideEffect {
			var n uint64
			if n, err = b.ReadInteger(pos); err != nil {
				break
			}
			op.Parts, err = readParts(b, pos, n, depth, func(Operand) bool { return true })
		}
	default:
		err = fmt.Errorf("operand code %d at %d: %w", c, start, ErrBadOperand)
	}
	if err != nil {
		*pos = start
		return Operand{}, err
	}
	return op, nil
}

func readParts(b *Block, pos *Address, n uint64, depth int, allowed func(Operand) bool) ([]Operand, error) {
	if n > uint64(b.Len()-*pos) {
		return nil, fmt.Errorf("%d parts at %d: %w", n, *pos, ErrTruncated)
	}
	parts := make([]Operand, 0, n)
	for i := uint64(0); i < n; i++ {
		part, err := readOperand(b, pos, depth+1)
		if err != nil {
			return nil, err
		}
		if !allowed(part) {
			return nil, fmt.Errorf("part at %d is %s: %w", part.Address, part.Code, ErrBadOperand)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// ReadOperandOf decodes the operand at pos and checks its code.
func ReadOperandOf(b *Block, pos *Address, want ...OperandCode) (Operand, error) {
	start := *pos
	op, err := ReadOperand(b, pos)
	if err != nil {
		return Operand{}, err
	}
	for _, w := range want {
		if op.Code == w {
			return op, nil
		}
	}
	*pos = start
	return Operand{}, fmt.Errorf("operand at %d is %s, expected %v: %w", start, op.Code, want, ErrBadOperand)
}

// StringListReader iterates the items of an encoded string list in order
// without decoding the whole list up front.
type StringListReader struct {
	block *Block
	first Address
	count int
	pos   Address
	index int
}

// NewStringListReader returns a reader over the string list operand op.
func NewStringListReader(b *Block, op Operand) (*StringListReader, error) {
	if op.Code != OperandStringList {
		return nil, fmt.Errorf("operand at %d is %s, expected %s: %w", op.Address, op.Code, OperandStringList, ErrBadOperand)
	}
	pos := op.Address + 1
	if _, err := b.ReadInteger(&pos); err != nil {
		return nil, err
	}
	return &StringListReader{block: b, first: pos, count: int(op.Number), pos: pos}, nil
}

// Len returns the number of items in the list.
func (r *StringListReader) Len() int { return r.count }

// Next returns the next item operand. ok is false once the list is done.
func (r *StringListReader) Next() (Operand, bool, error) {
	if r.index >= r.count {
		return Operand{}, false, nil
	}
	item, err := ReadOperand(r.block, &r.pos)
	if err != nil {
		return Operand{}, false, err
	}
	if !item.Code.IsString() {
		return Operand{}, false, fmt.Errorf("string list item at %d is %s: %w", item.Address, item.Code, ErrBadOperand)
	}
	r.index++
	return item, true, nil
}

// Reset rewinds the reader to the first item.
func (r *StringListReader) Reset() {
	r.pos = r.first
	r.index = 0
}

// Optional is one tagged entry of an optional operand block.
type Optional struct {
	Tag     uint64
	Operand Operand
}

// OptionalsBuilder emits an optional operand block. Nothing is written
// unless at least one tag is added.
type OptionalsBuilder struct {
	block  *Block
	opened bool
}

// BeginOptionals starts an optional operand block at the end of b.
func (b *Block) BeginOptionals() *OptionalsBuilder {
	return &OptionalsBuilder{block: b}
}

// Tag writes the tag for the next payload operand, which the caller emits
// right after.
func (o *OptionalsBuilder) Tag(tag uint64) {
	if tag == 0 {
		panic("bytecode: optional tag 0 is reserved")
	}
	if !o.opened {
		o.block.EmitCode(uint8(OperandOptional))
		o.opened = true
	}
	o.block.EmitInteger(tag)
}

// End terminates the block if it was opened.
func (o *OptionalsBuilder) End() {
	if o.opened {
		o.block.EmitInteger(0)
	}
}

// ReadOptionals decodes the optional operand block at pos, if there is one.
// Every tag must be accepted by accept; anything else is a hard error.
func ReadOptionals(b *Block, pos *Address, accept func(tag uint64) bool) ([]Optional, error) {
	c, ok := b.PeekCode(*pos)
	if !ok || OperandCode(c) != OperandOptional {
		return nil, nil
	}
	start := *pos
	*pos++

	var opts []Optional
	for {
		tag, err := b.ReadInteger(pos)
		if err != nil {
			*pos = start
			return nil, err
		}
		if tag == 0 {
			return opts, nil
		}
		if accept == nil || !accept(tag) {
			*pos = start
			return nil, fmt.Errorf("tag %d at %d: %w", tag, start, ErrUnknownOptional)
		}
		op, err := ReadOperand(b, pos)
		if err != nil {
			*pos = start
			return nil, err
		}
		opts = append(opts, Optional{Tag: tag, Operand: op})
	}
}

// Tags builds an accept function for ReadOptionals.
func Tags(tags ...uint64) func(uint64) bool {
	return func(tag uint64) bool {
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
		return false
	}
}
