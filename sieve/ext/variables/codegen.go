package variables

import (
	"fmt"
	"strings"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

// scope numbers the variables of the script being compiled.
type scope struct {
	names []string
	index map[string]uint64
}

func loadGenerator(g *codegen.Generator, ext *interp.Extension) error {
	g.SetExtensionState(ext, &scope{index: make(map[string]uint64)})
	g.SetStringEmitter(emitString)
	return nil
}

func scopeOf(g *codegen.Generator) (*scope, bool) {
	ext, ok := g.Extension(Name)
	if !ok {
		return nil, false
	}
	s, ok := g.ExtensionState(ext).(*scope)
	return s, ok
}

// Declare returns the index of the named variable, adding it on first use.
// The script must have required variables.
func Declare(g *codegen.Generator, line int, name string) (uint64, error) {
	s, ok := scopeOf(g)
	if !ok {
		return 0, codegen.Errorf(line, "variable %q used without requiring %q", name, Name)
	}
	if !ValidName(name) {
		return 0, codegen.Errorf(line, "invalid variable name %q", name)
	}
	name = strings.ToLower(name)
	if i, ok := s.index[name]; ok {
		return i, nil
	}
	if len(s.names) >= MaxVariables {
		return 0, codegen.Errorf(line, "more than %d variables", MaxVariables)
	}
	i := uint64(len(s.names))
	s.names = append(s.names, name)
	s.index[name] = i
	return i, nil
}

// ValidName reports whether name is a variable identifier. Match variables
// (${0} to ${9}) are not assignable.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func isMatchVariable(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < '0' || name[i] > '9' {
			return false
		}
	}
	return true
}

// part is a piece of a string with references: a literal, or a variable
// when isVar is set.
type part struct {
	literal string
	index   uint64
	isVar   bool
}

// splitReferences breaks s into literals and variable references. Text
// that does not form a valid reference stays literal, and match variables
// expand to nothing since no test captures them.
func splitReferences(g *codegen.Generator, line int, s string) ([]part, error) {
	var parts []part
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, part{literal: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(s); {
		if !strings.HasPrefix(s[i:], "${") {
			lit.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			lit.WriteString(s[i:])
			break
		}
		name := s[i+2 : i+2+end]
		switch {
		case isMatchVariable(name):
			i += end + 3
		case ValidName(name):
			idx, err := Declare(g, line, name)
			if err != nil {
				return nil, err
			}
			flush()
			parts = append(parts, part{index: idx, isVar: true})
			i += end + 3
		default:
			lit.WriteString("${")
			i += 2
		}
	}
	flush()
	return parts, nil
}

func emitString(g *codegen.Generator, line int, s string) error {
	parts, err := splitReferences(g, line, s)
	if err != nil {
		return err
	}
	code := g.Code()
	switch {
	case len(parts) == 0:
		code.EmitStringOperand("")
	case len(parts) == 1 && !parts[0].isVar:
		code.EmitStringOperand(parts[0].literal)
	case len(parts) == 1:
		code.EmitVariableOperand(parts[0].index)
	default:
		code.EmitCatenatedHeader(len(parts))
		for _, p := range parts {
			if p.isVar {
				code.EmitVariableOperand(p.index)
			} else {
				code.EmitStringOperand(p.literal)
			}
		}
	}
	return nil
}

func writeSymbols(g *codegen.Generator, ext *interp.Extension) error {
	s, ok := g.ExtensionState(ext).(*scope)
	if !ok {
		return nil
	}
	bin := g.Binary()
	linked, ok := bin.ExtensionByName(Name)
	if !ok {
		return fmt.Errorf("variables not linked")
	}
	block, err := bin.AddBlock(bytecode.KindData)
	if err != nil {
		return err
	}
	block.EmitInteger(uint64(len(s.names)))
	for _, name := range s.names {
		block.EmitString(name)
	}
	return bin.SetExtensionBlock(linked, block)
}

// Modifier bits of the set command, applied from the highest precedence
// down: case, first character case, wildcard quoting, length.
const (
	ModLower uint64 = 1 << iota
	ModUpper
	ModLowerFirst
	ModUpperFirst
	ModQuoteWildcard
	ModLength
)

var modifierTags = []struct {
	name  string
	bit   uint64
	group string
}{
	{"lower", ModLower, "case"},
	{"upper", ModUpper, "case"},
	{"lowerfirst", ModLowerFirst, "first"},
	{"upperfirst", ModUpperFirst, "first"},
	{"quotewildcard", ModQuoteWildcard, ""},
	{"length", ModLength, ""},
}

var setSignature = func() codegen.Signature {
	sig := codegen.Signature{Positional: []codegen.ArgKind{codegen.ArgString, codegen.ArgString}}
	for _, m := range modifierTags {
		sig.Tags = append(sig.Tags, codegen.TagSpec{Name: m.name, Group: m.group})
	}
	return sig
}()

func generateSet(g *codegen.Generator, cmd *ast.Command) error {
	a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, setSignature)
	if err != nil {
		return err
	}
	name := a.Positional[0].(*ast.String)
	if !ValidName(name.Value) {
		return codegen.Errorf(name.Line, "set: invalid variable name %q", name.Value)
	}
	idx, err := Declare(g, name.Line, name.Value)
	if err != nil {
		return err
	}
	var mods uint64
	for _, m := range modifierTags {
		if a.Has(m.name) {
			mods |= m.bit
		}
	}

	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationSet)
	g.Code().EmitNumberOperand(idx)
	if err := g.EmitString(a.Positional[1]); err != nil {
		return err
	}
	opts := g.BeginOptionals()
	if mods != 0 {
		opts.Tag(optModifiers)
		g.Code().EmitNumberOperand(mods)
	}
	opts.End()
	return nil
}

func generateString(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, codegen.Signature{
		Match:      true,
		Positional: []codegen.ArgKind{codegen.ArgStringList, codegen.ArgStringList},
	})
	if err != nil {
		return err
	}
	if err := g.CheckKeys(a, a.Positional[1]); err != nil {
		return err
	}
	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationString)
	if err := g.EmitStringList(a.Positional[0]); err != nil {
		return err
	}
	if err := g.EmitStringList(a.Positional[1]); err != nil {
		return err
	}
	opts := g.BeginOptionals()
	g.EmitMatchOptionals(opts, a)
	opts.End()
	return nil
}
