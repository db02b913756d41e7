// Package codegen compiles a Sieve AST into a bytecode binary.
package codegen

import (
	"fmt"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/interp"
)

// Options tune a compilation.
type Options struct {
	// Extensions limits what a script may require. Nil allows every
	// registered extension.
	Extensions []string
	// NoDebug leaves the debug block out of the binary.
	NoDebug bool
}

// StringEmitter emits a string argument as an operand. Extensions that
// change how strings are evaluated, like variables, install one.
type StringEmitter func(g *Generator, line int, s string) error

// Generator holds the state of one compilation.
type Generator struct {
	reg      *interp.Registry
	cmds     *Commands
	bin      *bytecode.Binary
	code     *bytecode.Block
	debug    *bytecode.DebugWriter
	enabled  map[string]bool
	required []*interp.Extension
	state    map[int]any
	strings  StringEmitter
}

// Generate compiles script into a finalized binary.
func Generate(reg *interp.Registry, cmds *Commands, script *ast.Script, opts Options) (*bytecode.Binary, error) {
	g := &Generator{
		reg:   reg,
		cmds:  cmds,
		bin:   bytecode.New(),
		state: make(map[int]any),
	}
	g.code = g.bin.Main()
	if opts.Extensions != nil {
		g.enabled = make(map[string]bool, len(opts.Extensions))
		for _, name := range opts.Extensions {
			g.enabled[name] = true
		}
	}
	if !opts.NoDebug {
		block, err := g.bin.AddBlock(bytecode.KindDebug)
		if err != nil {
			return nil, err
		}
		g.debug = bytecode.NewDebugWriter(block)
	}

	commands := script.Commands
	for len(commands) > 0 && commands[0].Name == "require" {
		if err := g.generateRequire(commands[0]); err != nil {
			return nil, err
		}
		commands = commands[1:]
	}
	if err := g.GenerateBlock(commands); err != nil {
		return nil, err
	}

	for _, ext := range g.required {
		hooks, ok := g.cmds.hooks[ext.Def.Name]
		if !ok || hooks.Finish == nil {
			continue
		}
		if err := hooks.Finish(g, ext); err != nil {
			return nil, err
		}
	}
	if err := g.bin.Finalize(); err != nil {
		return nil, err
	}
	return g.bin, nil
}

func (g *Generator) Registry() *interp.Registry { return g.reg }
func (g *Generator) Binary() *bytecode.Binary   { return g.bin }
func (g *Generator) Code() *bytecode.Block      { return g.code }

func (g *Generator) generateRequire(cmd *ast.Command) error {
	if len(cmd.Args) != 1 || len(cmd.Tests) > 0 || cmd.Block != nil {
		return Errorf(cmd.Line, "require takes a single string list")
	}
	names, ok := ast.Strings(cmd.Args[0])
	if !ok {
		return Errorf(cmd.Line, "require takes a single string list")
	}
	for _, name := range names {
		if err := g.Require(cmd.Line, name); err != nil {
			return err
		}
	}
	return nil
}

// builtinCapabilities may be required but need no extension.
var builtinCapabilities = map[string]bool{
	"comparator-i;octet":         true,
	"comparator-i;ascii-casemap": true,
}

// Require makes an extension available to the rest of the script and links
// it into the binary.
func (g *Generator) Require(line int, name string) error {
	if builtinCapabilities[name] || g.Required(name) {
		return nil
	}
	if g.enabled != nil && !g.enabled[name] {
		return Errorf(line, "extension %q is not enabled", name)
	}
	ext, ok := g.reg.Extension(name)
	if !ok {
		return Errorf(line, "unsupported extension %q", name)
	}
	if _, err := g.bin.LinkExtension(ext.Def.Name, ext.Def.Version, ext.ID); err != nil {
		return err
	}
	g.required = append(g.required, ext)
	if hooks, ok := g.cmds.hooks[name]; ok && hooks.Load != nil {
		if err := hooks.Load(g, ext); err != nil {
			return err
		}
	}
	return nil
}

// Required reports whether the script required the named extension.
func (g *Generator) Required(name string) bool {
	_, ok := g.Extension(name)
	return ok
}

// Extension returns a required extension.
func (g *Generator) Extension(name string) (*interp.Extension, bool) {
	for _, ext := range g.required {
		if ext.Def.Name == name {
			return ext, true
		}
	}
	return nil, false
}

// ExtensionState returns what an extension stored for this compilation.
func (g *Generator) ExtensionState(ext *interp.Extension) any { return g.state[ext.ID] }

// SetExtensionState stores per-compilation state for an extension.
func (g *Generator) SetExtensionState(ext *interp.Extension, v any) { g.state[ext.ID] = v }

// SetStringEmitter replaces how string arguments are emitted.
func (g *Generator) SetStringEmitter(fn StringEmitter) { g.strings = fn }

func (g *Generator) available(def *CommandDef) bool {
	if len(def.Extensions) == 0 {
		return true
	}
	for _, name := range def.Extensions {
		if g.Required(name) {
			return true
		}
	}
	return false
}

func (g *Generator) objectAvailable(obj interp.Object) bool {
	def := obj.Def()
	if def.ExtID < 0 {
		return true
	}
	ext, ok := g.reg.ExtensionAt(def.ExtID)
	return ok && g.Required(ext.Def.Name)
}

// EmitSourceLine records that the code emitted next belongs to line.
func (g *Generator) EmitSourceLine(line int) {
	if g.debug != nil {
		g.debug.Emit(g.code.Len(), line)
	}
}

// EmitOperation emits the opcode of op, a core operation when ext is nil.
func (g *Generator) EmitOperation(ext *interp.Extension, op *interp.Operation) bytecode.Address {
	if ext == nil {
		return interp.EmitOpcode(g.code, nil, op.Code)
	}
	linked, ok := g.bin.ExtensionByName(ext.Def.Name)
	if !ok {
		panic(fmt.Sprintf("codegen: %s emitted without requiring %s", op.Mnemonic, ext.Def.Name))
	}
	return interp.EmitOpcode(g.code, linked, op.Code)
}

// EmitString emits a string argument.
func (g *Generator) EmitString(arg ast.Argument) error {
	s, ok := arg.(*ast.String)
	if !ok {
		return Errorf(arg.Pos(), "expected a string, got %s", arg)
	}
	return g.emitStringValue(s.Line, s.Value)
}

func (g *Generator) emitStringValue(line int, s string) error {
	if g.strings != nil {
		return g.strings(g, line, s)
	}
	g.code.EmitStringOperand(s)
	return nil
}

// EmitStringList emits a string or string list argument as a string list.
func (g *Generator) EmitStringList(arg ast.Argument) error {
	items, ok := ast.Strings(arg)
	if !ok {
		return Errorf(arg.Pos(), "expected a string list, got %s", arg)
	}
	g.code.EmitStringListHeader(len(items))
	for _, item := range items {
		if err := g.emitStringValue(arg.Pos(), item); err != nil {
			return err
		}
	}
	return nil
}

// EmitNumber emits a number argument.
func (g *Generator) EmitNumber(arg ast.Argument) error {
	n, ok := arg.(*ast.Number)
	if !ok {
		return Errorf(arg.Pos(), "expected a number, got %s", arg)
	}
	g.code.EmitNumberOperand(n.Value)
	return nil
}

// EmitArgument emits any string, string list or number argument.
func (g *Generator) EmitArgument(arg ast.Argument) error {
	switch a := arg.(type) {
	case *ast.String:
		return g.emitStringValue(a.Line, a.Value)
	case *ast.StringList:
		return g.EmitStringList(a)
	case *ast.Number:
		g.code.EmitNumberOperand(a.Value)
		return nil
	}
	return Errorf(arg.Pos(), "unexpected %s", arg)
}

func (g *Generator) localExt(obj interp.Object) uint64 {
	def := obj.Def()
	if def.ExtID < 0 {
		return 0
	}
	ext, ok := g.reg.ExtensionAt(def.ExtID)
	if !ok {
		return 0
	}
	linked, ok := g.bin.ExtensionByName(ext.Def.Name)
	if !ok {
		panic(fmt.Sprintf("codegen: object %q emitted without requiring %s", def.Name, ext.Def.Name))
	}
	return linked.LocalID
}

// EmitObject emits an object operand.
func (g *Generator) EmitObject(obj interp.Object) {
	def := obj.Def()
	g.code.EmitObjectOperand(def.Class.OperandCode(), g.localExt(obj), def.Code)
}

// EmitSideEffect emits a side effect operand with its parameters.
func (g *Generator) EmitSideEffect(se SideEffectArg) error {
	g.code.EmitSideEffectHeader(g.localExt(se.Def), se.Def.Code, len(se.Params))
	for _, p := range se.Params {
		if err := g.EmitArgument(p); err != nil {
			return err
		}
	}
	return nil
}

// BeginOptionals starts the optional operand block of the current
// operation. It must follow the mandatory operands.
func (g *Generator) BeginOptionals() *bytecode.OptionalsBuilder {
	return g.code.BeginOptionals()
}

// EmitMatchOptionals adds the comparator, address part and match type given
// in args.
func (g *Generator) EmitMatchOptionals(opts *bytecode.OptionalsBuilder, a *Args) {
	if a.Comparator != nil {
		opts.Tag(interp.OptComparator)
		g.EmitObject(a.Comparator)
	}
	if a.AddressPart != nil {
		opts.Tag(interp.OptAddressPart)
		g.EmitObject(a.AddressPart)
	}
	if a.MatchType != nil {
		opts.Tag(interp.OptMatchType)
		g.EmitObject(a.MatchType)
	}
}

// EmitSideEffects adds the side effects given in args.
func (g *Generator) EmitSideEffects(opts *bytecode.OptionalsBuilder, a *Args) error {
	for _, se := range a.SideEffects {
		opts.Tag(interp.OptSideEffect)
		if err := g.EmitSideEffect(se); err != nil {
			return err
		}
	}
	return nil
}

// JumpList collects forward jumps to a common, not yet known target.
type JumpList struct {
	sites []bytecode.Address
}

// Len returns the number of pending jumps.
func (l *JumpList) Len() int { return len(l.sites) }

// EmitJump emits a jump operation whose offset is resolved with list.
func (g *Generator) EmitJump(op *interp.Operation, list *JumpList) {
	g.EmitOperation(nil, op)
	list.sites = append(list.sites, g.code.EmitOffset())
}

// ResolveJumps points every jump in list at the current address.
func (g *Generator) ResolveJumps(list *JumpList) error {
	target := g.code.Len()
	for _, at := range list.sites {
		if err := g.code.PatchOffset(at, target); err != nil {
			return err
		}
	}
	list.sites = nil
	return nil
}

// GenerateTest compiles test so that control reaches the jumps in list
// when the test evaluates to jumpTrue and falls through otherwise.
func (g *Generator) GenerateTest(test *ast.Test, list *JumpList, jumpTrue bool) error {
	switch test.Name {
	case "true", "false":
		if len(test.Args) > 0 || len(test.Tests) > 0 {
			return Errorf(test.Line, "%s takes no arguments", test.Name)
		}
		if (test.Name == "true") == jumpTrue {
			g.EmitSourceLine(test.Line)
			g.EmitJump(interp.OperationJump, list)
		}
		return nil

	case "not":
		if len(test.Args) > 0 || len(test.Tests) != 1 {
			return Errorf(test.Line, "not takes a single test")
		}
		return g.GenerateTest(test.Tests[0], list, !jumpTrue)

	case "allof", "anyof":
		if len(test.Args) > 0 || len(test.Tests) == 0 {
			return Errorf(test.Line, "%s takes a list of tests", test.Name)
		}
		// allof jumping on false and anyof jumping on true short-circuit
		// straight to list; the other two combinations need a local list
		// for the short circuit and one jump to list at the end.
		sense := test.Name == "anyof"
		if jumpTrue == sense {
			for _, sub := range test.Tests {
				if err := g.GenerateTest(sub, list, jumpTrue); err != nil {
					return err
				}
			}
			return nil
		}
		var local JumpList
		for _, sub := range test.Tests {
			if err := g.GenerateTest(sub, &local, sense); err != nil {
				return err
			}
		}
		g.EmitJump(interp.OperationJump, list)
		return g.ResolveJumps(&local)
	}

	def, ok := g.cmds.Test(test.Name)
	if !ok {
		if _, isCommand := g.cmds.Command(test.Name); isCommand {
			return Errorf(test.Line, "%s is a command, not a test", test.Name)
		}
		return Errorf(test.Line, "unknown test %q", test.Name)
	}
	if !g.available(def) {
		return Errorf(test.Line, "test %q requires %q", test.Name, def.Extensions[0])
	}
	if len(test.Tests) > 0 {
		return Errorf(test.Line, "%s takes no nested tests", test.Name)
	}
	g.EmitSourceLine(test.Line)
	if err := def.GenerateTest(g, test); err != nil {
		return err
	}
	if jumpTrue {
		g.EmitJump(interp.OperationJumpTrue, list)
	} else {
		g.EmitJump(interp.OperationJumpFalse, list)
	}
	return nil
}

// GenerateBlock compiles a command sequence.
func (g *Generator) GenerateBlock(cmds []*ast.Command) error {
	for i := 0; i < len(cmds); i++ {
		cmd := cmds[i]
		switch cmd.Name {
		case "require":
			return Errorf(cmd.Line, "require must come before any other command")
		case "if":
			last, err := g.generateIf(cmds, i)
			if err != nil {
				return err
			}
			i = last
		case "elsif", "else":
			return Errorf(cmd.Line, "%s without if", cmd.Name)
		default:
			if err := g.generateCommand(cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Generator) generateIf(cmds []*ast.Command, i int) (int, error) {
	var exit JumpList
	for {
		cmd := cmds[i]
		if cmd.Block == nil {
			return i, Errorf(cmd.Line, "%s needs a block", cmd.Name)
		}
		if len(cmd.Args) > 0 {
			return i, Errorf(cmd.Line, "%s takes no arguments", cmd.Name)
		}
		chained := i+1 < len(cmds) && (cmds[i+1].Name == "elsif" || cmds[i+1].Name == "else")

		if cmd.Name == "else" {
			if len(cmd.Tests) > 0 {
				return i, Errorf(cmd.Line, "else takes no test")
			}
			if err := g.GenerateBlock(cmd.Block); err != nil {
				return i, err
			}
			break
		}

		if len(cmd.Tests) != 1 {
			return i, Errorf(cmd.Line, "%s needs a single test", cmd.Name)
		}
		var skip JumpList
		if err := g.GenerateTest(cmd.Tests[0], &skip, false); err != nil {
			return i, err
		}
		if err := g.GenerateBlock(cmd.Block); err != nil {
			return i, err
		}
		if chained {
			g.EmitJump(interp.OperationJump, &exit)
		}
		if err := g.ResolveJumps(&skip); err != nil {
			return i, err
		}
		if !chained {
			break
		}
		i++
	}
	return i, g.ResolveJumps(&exit)
}

func (g *Generator) generateCommand(cmd *ast.Command) error {
	def, ok := g.cmds.Command(cmd.Name)
	if !ok {
		if _, isTest := g.cmds.Test(cmd.Name); isTest {
			return Errorf(cmd.Line, "%s is a test, not a command", cmd.Name)
		}
		return Errorf(cmd.Line, "unknown command %q", cmd.Name)
	}
	if !g.available(def) {
		return Errorf(cmd.Line, "command %q requires %q", cmd.Name, def.Extensions[0])
	}
	if len(cmd.Tests) > 0 || cmd.Block != nil {
		return Errorf(cmd.Line, "%s takes no tests or block", cmd.Name)
	}
	g.EmitSourceLine(cmd.Line)
	return def.Generate(g, cmd)
}
