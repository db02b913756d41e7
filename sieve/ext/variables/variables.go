// Package variables implements RFC 5229: the set command, the string test
// and ${name} substitution in string arguments.
//
// Variables are numbered at compile time. References become variable or
// catenated string operands and the names are kept in the extension's data
// block, so dumps can show them and runs can size their storage.
package variables

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "variables"

const (
	// MaxVariables bounds the variables one script may use.
	MaxVariables = 1024
	// MaxValueSize bounds a variable value in octets; longer values are
	// truncated at a character boundary.
	MaxValueSize = 4096
)

var Extension = &interp.ExtensionDef{
	Name:        Name,
	Version:     1,
	Operations:  []*interp.Operation{OperationSet, OperationString},
	LoadBinary:  loadSymbols,
	DumpBinary:  dumpSymbols,
	RuntimeInit: initRuntime,
}

// Register adds the extension with the set command and the string test.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	if _, err := reg.RegisterExtension(Extension); err != nil {
		return err
	}
	cmds.RegisterHooks(Name, codegen.ExtensionHooks{
		Load:   loadGenerator,
		Finish: writeSymbols,
	})
	if err := cmds.Register(&codegen.CommandDef{
		Name:       "set",
		Extensions: []string{Name},
		Generate:   generateSet,
	}); err != nil {
		return err
	}
	return cmds.Register(&codegen.CommandDef{
		Name:         "string",
		Extensions:   []string{Name},
		Test:         true,
		GenerateTest: generateString,
	})
}

// SymbolTable lists the variable names of a binary by index.
type SymbolTable struct {
	Names []string
}

func loadSymbols(ext *interp.Extension, block *bytecode.Block) (any, error) {
	table := &SymbolTable{}
	if block == nil {
		return table, nil
	}
	var pos bytecode.Address
	n, err := block.ReadInteger(&pos)
	if err != nil {
		return nil, err
	}
	if n > MaxVariables {
		return nil, fmt.Errorf("%d variables: %w", n, bytecode.ErrBadOperand)
	}
	for i := uint64(0); i < n; i++ {
		name, err := block.ReadString(&pos)
		if err != nil {
			return nil, err
		}
		table.Names = append(table.Names, name)
	}
	return table, nil
}

func dumpSymbols(d *interp.Dumper, ext *interp.Extension, data any) error {
	table, _ := data.(*SymbolTable)
	if table == nil {
		return nil
	}
	d.Printf("variables [%d]:", len(table.Names))
	d.Descend()
	for i, name := range table.Names {
		d.Printf("%d: %s", i, name)
	}
	d.Ascend()
	return nil
}

// Storage holds the values of one run.
type Storage struct {
	Values []string
}

func initRuntime(rt *interp.Runtime, ext *interp.Extension) error {
	size := 0
	if table, ok := rt.ExtensionData(ext).(*SymbolTable); ok {
		size = len(table.Names)
	}
	storage := &Storage{Values: make([]string, size)}
	rt.SetExtensionContext(ext, storage)
	rt.SetStringResolver(func(op bytecode.Operand) (string, error) {
		return resolve(rt, storage, op)
	})
	return nil
}

func resolve(rt *interp.Runtime, storage *Storage, op bytecode.Operand) (string, error) {
	switch op.Code {
	case bytecode.OperandVariable:
		if op.Number >= uint64(len(storage.Values)) {
			return "", fmt.Errorf("variable %d at %d: %w", op.Number, op.Address, bytecode.ErrBadOperand)
		}
		return storage.Values[op.Number], nil
	case bytecode.OperandCatenated:
		var b strings.Builder
		for _, part := range op.Parts {
			s, err := rt.StringValue(part)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("operand at %d is %s: %w", op.Address, op.Code, bytecode.ErrBadOperand)
}

func storageOf(rt *interp.Runtime) (*Storage, error) {
	ext, ok := rt.Program.Registry().Extension(Name)
	if !ok {
		return nil, fmt.Errorf("variables not registered: %w", bytecode.ErrUnsupportedExtension)
	}
	storage, ok := rt.ExtensionContext(ext).(*Storage)
	if !ok {
		return nil, fmt.Errorf("variables not linked: %w", bytecode.ErrBadOperand)
	}
	return storage, nil
}

// Get returns the value of the variable with the given index.
func Get(rt *interp.Runtime, index uint64) (string, error) {
	storage, err := storageOf(rt)
	if err != nil {
		return "", err
	}
	if index >= uint64(len(storage.Values)) {
		return "", fmt.Errorf("variable %d: %w", index, bytecode.ErrBadOperand)
	}
	return storage.Values[index], nil
}

// Set assigns the variable with the given index.
func Set(rt *interp.Runtime, index uint64, value string) error {
	storage, err := storageOf(rt)
	if err != nil {
		return err
	}
	if index >= uint64(len(storage.Values)) {
		return fmt.Errorf("variable %d: %w", index, bytecode.ErrBadOperand)
	}
	storage.Values[index] = Truncate(value, MaxValueSize)
	rt.Tracef(interp.TraceCommands, "assign ${%d} = %q", index, storage.Values[index])
	return nil
}

// Truncate cuts s to at most max octets without splitting a character.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
