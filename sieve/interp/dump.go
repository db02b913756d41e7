package interp

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// MatchOptionalNames labels the match optionals in dumps.
var MatchOptionalNames = map[uint64]string{
	OptComparator:  "comparator",
	OptAddressPart: "address-part",
	OptMatchType:   "match-type",
}

// SideEffectOptionalNames labels the side effect optional in dumps.
var SideEffectOptionalNames = map[uint64]string{
	OptSideEffect: "side-effect",
}

// MergeOptionalNames combines label maps.
func MergeOptionalNames(maps ...map[uint64]string) map[uint64]string {
	out := make(map[uint64]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Dumper writes a human readable listing of a program.
type Dumper struct {
	prog     *Program
	w        io.Writer
	err      error
	indent   int
	markAddr bytecode.Address
	markLine int
	lastLine int
}

func NewDumper(prog *Program, w io.Writer) *Dumper {
	return &Dumper{prog: prog, w: w}
}

func (d *Dumper) Program() *Program     { return d.prog }
func (d *Dumper) Code() *bytecode.Block { return d.prog.Code() }

// Descend indents the following lines one level.
func (d *Dumper) Descend() { d.indent++ }

// Ascend undoes Descend.
func (d *Dumper) Ascend() {
	if d.indent > 0 {
		d.indent--
	}
}

// Mark sets the address, and through it the source line, printed with the
// next line.
func (d *Dumper) Mark(addr bytecode.Address) {
	d.markAddr = addr
	d.markLine = d.prog.LineAt(addr)
}

// Printf writes one listing line.
func (d *Dumper) Printf(format string, args ...any) {
	if d.err != nil {
		return
	}
	line := "      "
	if d.markLine > 0 && d.markLine != d.lastLine {
		line = fmt.Sprintf("%4d: ", d.markLine)
		d.lastLine = d.markLine
	}
	_, d.err = fmt.Fprintf(d.w, "%08x: %s%s%s\n", d.markAddr, line,
		strings.Repeat("  ", d.indent), fmt.Sprintf(format, args...))
}

// Dump writes the whole listing.
func (d *Dumper) Dump() error {
	if _, err := io.WriteString(d.w, "Address   Line  Code\n"); err != nil {
		return err
	}

	// The header lines belong to no source line.
	d.markAddr, d.markLine = 0, 0
	exts := d.prog.Extensions()
	d.Printf("EXTENSIONS [%d]:", len(exts))
	d.Descend()
	for _, ext := range exts {
		d.Printf("%s", ext.Def.Name)
		if ext.Def.DumpBinary != nil {
			d.Descend()
			if err := ext.Def.DumpBinary(d, ext, d.prog.ExtensionData(ext)); err != nil {
				d.Printf("Binary is corrupt: %v", err)
				d.Ascend()
				d.Ascend()
				return d.finish(err)
			}
			d.Ascend()
		}
	}
	d.Ascend()
	if debug := d.prog.Binary().DebugBlock(); debug != nil {
		d.Printf("DEBUG BLOCK: %d", debug.ID())
	}

	code := d.Code()
	var pos bytecode.Address
	for pos < code.Len() {
		start := pos
		d.Mark(start)
		inst, err := d.prog.Operation(&pos)
		if err != nil {
			d.Printf("Binary is corrupt: %v", err)
			return d.finish(err)
		}
		d.Printf("%s", inst.Def.Mnemonic)
		if inst.Def.Dump != nil {
			d.Descend()
			err := inst.Def.Dump(d, &pos)
			d.Ascend()
			if err != nil {
				d.Mark(pos)
				d.Printf("Binary is corrupt: %v", err)
				return d.finish(err)
			}
		}
	}
	d.Mark(code.Len())
	d.Printf("[End of code]")
	return d.err
}

func (d *Dumper) finish(err error) error {
	if d.err != nil {
		return d.err
	}
	return err
}

// DumpOperand reads and prints the operand at pos.
func (d *Dumper) DumpOperand(pos *bytecode.Address, label string) error {
	op, err := bytecode.ReadOperand(d.Code(), pos)
	if err != nil {
		return err
	}
	return d.PrintOperand(op, label)
}

// PrintOperand prints an already decoded operand.
func (d *Dumper) PrintOperand(op bytecode.Operand, label string) error {
	prefix := ""
	if label != "" {
		prefix = label + ": "
	}
	d.Mark(op.Address)
	switch op.Code {
	case bytecode.OperandNumber:
		d.Printf("%sNUM %d", prefix, op.Number)
	case bytecode.OperandString:
		d.Printf("%sSTR[%d] %s", prefix, len(op.Str), strconv.Quote(op.Str))
	case bytecode.OperandVariable:
		d.Printf("%sVAR %d", prefix, op.Number)
	case bytecode.OperandCatenated:
		d.Printf("%sCATSTR [%d]:", prefix, len(op.Parts))
		d.Descend()
		for _, part := range op.Parts {
			if err := d.PrintOperand(part, ""); err != nil {
				d.Ascend()
				return err
			}
		}
		d.Ascend()
	case bytecode.OperandStringList:
		r, err := bytecode.NewStringListReader(d.Code(), op)
		if err != nil {
			return err
		}
		d.Printf("%sSTRLIST [%d] (", prefix, r.Len())
		d.Descend()
		for {
			item, ok, err := r.Next()
			if err != nil {
				d.Ascend()
				return err
			}
			if !ok {
				break
			}
			if err := d.PrintOperand(item, ""); err != nil {
				d.Ascend()
				return err
			}
		}
		d.Ascend()
		d.Printf(")")
	default:
		if !op.Code.IsObject() {
			return fmt.Errorf("operand at %d is %s: %w", op.Address, op.Code, bytecode.ErrBadOperand)
		}
		obj, err := d.prog.Object(op)
		if err != nil {
			return err
		}
		d.Printf("%s%s: %s", prefix, op.Code, obj.Def().Name)
		if len(op.Parts) == 0 {
			return nil
		}
		d.Descend()
		for _, param := range op.Parts {
			if err := d.PrintOperand(param, ""); err != nil {
				d.Ascend()
				return err
			}
		}
		d.Ascend()
	}
	return nil
}

// DumpOptionals reads and prints the optional operand block at pos. names
// lists the accepted tags.
func (d *Dumper) DumpOptionals(pos *bytecode.Address, names map[uint64]string) error {
	tags := make([]uint64, 0, len(names))
	for tag := range names {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	opts, err := bytecode.ReadOptionals(d.Code(), pos, bytecode.Tags(tags...))
	if err != nil {
		return err
	}
	for _, opt := range opts {
		if err := d.PrintOperand(opt.Operand, names[opt.Tag]); err != nil {
			return err
		}
	}
	return nil
}
