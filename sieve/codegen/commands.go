package codegen

import (
	"fmt"
	"sort"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/interp"
)

// CommandDef describes a command or test the generator can compile.
type CommandDef struct {
	Name string
	// Extensions lists the require names that make the command available,
	// any one of them being enough. Core commands leave it empty.
	Extensions []string
	// Test marks test commands, which leave their result in the test
	// register.
	Test bool
	// Generate compiles an action or control command.
	Generate func(g *Generator, cmd *ast.Command) error
	// GenerateTest compiles a test.
	GenerateTest func(g *Generator, test *ast.Test) error
}

// ExtensionHooks let an extension take part in code generation beyond its
// own commands.
type ExtensionHooks struct {
	// Load runs when a script requires the extension.
	Load func(g *Generator, ext *interp.Extension) error
	// Finish runs after the last command was generated, in require order.
	Finish func(g *Generator, ext *interp.Extension) error
}

// Commands is the compile-time command table, the counterpart of the
// registry's operation tables. Like the registry it is filled during setup
// and read-only afterwards.
type Commands struct {
	commands map[string]*CommandDef
	tests    map[string]*CommandDef
	hooks    map[string]ExtensionHooks
	// paramMatch lists match type tags taking a parameter, such as :value
	// "gt" resolving to the match type "value-gt".
	paramMatch map[string]bool
}

func NewCommands() *Commands {
	return &Commands{
		commands:   make(map[string]*CommandDef),
		tests:      make(map[string]*CommandDef),
		hooks:      make(map[string]ExtensionHooks),
		paramMatch: make(map[string]bool),
	}
}

// Register adds a command or test. Control structures (require, if, elsif,
// else) and the test combinators are built into the generator.
func (c *Commands) Register(def *CommandDef) error {
	if _, reserved := builtinNames[def.Name]; reserved {
		return fmt.Errorf("command %q is built in", def.Name)
	}
	table := c.commands
	if def.Test {
		table = c.tests
		if def.GenerateTest == nil {
			return fmt.Errorf("test %q has no generator", def.Name)
		}
	} else if def.Generate == nil {
		return fmt.Errorf("command %q has no generator", def.Name)
	}
	if _, dup := table[def.Name]; dup {
		return fmt.Errorf("command %q already registered", def.Name)
	}
	table[def.Name] = def
	return nil
}

// RegisterHooks installs generator hooks for the named extension.
func (c *Commands) RegisterHooks(extension string, hooks ExtensionHooks) {
	c.hooks[extension] = hooks
}

// RegisterParameterizedMatch makes the match type tag take a string
// parameter naming the variant.
func (c *Commands) RegisterParameterizedMatch(tag string) {
	c.paramMatch[tag] = true
}

// Command returns the action or control command with the given name.
func (c *Commands) Command(name string) (*CommandDef, bool) {
	def, ok := c.commands[name]
	return def, ok
}

// Test returns the test with the given name.
func (c *Commands) Test(name string) (*CommandDef, bool) {
	def, ok := c.tests[name]
	return def, ok
}

// Names returns the sorted names of all commands and tests.
func (c *Commands) Names() []string {
	names := make([]string, 0, len(c.commands)+len(c.tests))
	for name := range c.commands {
		names = append(names, name)
	}
	for name := range c.tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtinNames = map[string]struct{}{
	"require": {},
	"if":      {},
	"elsif":   {},
	"else":    {},
	"not":     {},
	"allof":   {},
	"anyof":   {},
	"true":    {},
	"false":   {},
}
