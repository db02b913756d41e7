// Package sieve assembles the compiler and interpreter with the extensions
// this module ships. A Library is built once and shared: its registry is
// sealed and read-only afterwards.
package sieve

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/commands"
	"github.com/migadu/sora-sieve/sieve/ext/body"
	"github.com/migadu/sora-sieve/sieve/ext/comparators"
	"github.com/migadu/sora-sieve/sieve/ext/copyext"
	"github.com/migadu/sora-sieve/sieve/ext/envelope"
	"github.com/migadu/sora-sieve/sieve/ext/fileinto"
	"github.com/migadu/sora-sieve/sieve/ext/imap4flags"
	"github.com/migadu/sora-sieve/sieve/ext/notify"
	"github.com/migadu/sora-sieve/sieve/ext/regex"
	"github.com/migadu/sora-sieve/sieve/ext/relational"
	"github.com/migadu/sora-sieve/sieve/ext/spamtest"
	"github.com/migadu/sora-sieve/sieve/ext/subaddress"
	"github.com/migadu/sora-sieve/sieve/ext/testsuite"
	"github.com/migadu/sora-sieve/sieve/ext/vacation"
	"github.com/migadu/sora-sieve/sieve/ext/variables"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/sieve/parser"
	"github.com/migadu/sora-sieve/sieve/validate"
)

// Options configure a Library.
type Options struct {
	// Extensions limits what scripts may require. Nil enables
	// DefaultExtensions.
	Extensions []string
	Spamtest   spamtest.Config
	Vacation   vacation.Config
	// SubaddressSeparator splits user and detail; "+" when empty.
	SubaddressSeparator string
	// CrossCheck also loads every script with go-sieve when it only uses
	// capabilities go-sieve knows.
	CrossCheck bool
}

// DefaultOptions enables every production extension with default settings.
func DefaultOptions() Options {
	return Options{
		Spamtest: spamtest.DefaultConfig(),
		Vacation: vacation.DefaultConfig(),
	}
}

// DefaultExtensions are the capabilities enabled when Options leaves
// Extensions nil. The test suite extension is never enabled by default.
var DefaultExtensions = []string{
	"body",
	"comparator-i;ascii-numeric",
	"comparator-i;unicode-casemap",
	"copy",
	"envelope",
	"fileinto",
	"imap4flags",
	"notify",
	"regex",
	"relational",
	"spamtest",
	"spamtestplus",
	"subaddress",
	"vacation",
	"variables",
	"virustest",
}

// Library is a sealed registry with its command table.
type Library struct {
	Registry *interp.Registry
	Commands *codegen.Commands
	opts     Options
	enabled  []string
}

// New registers the core commands and every extension, then checks that
// the enabled ones exist.
func New(opts Options) (*Library, error) {
	if opts.Extensions == nil {
		opts.Extensions = DefaultExtensions
	}
	separator := opts.SubaddressSeparator
	if separator == "" {
		separator = subaddress.DefaultSeparator
	}

	reg := interp.NewRegistry()
	cmds := codegen.NewCommands()
	registers := []func(*interp.Registry, *codegen.Commands) error{
		commands.Register,
		fileinto.Register,
		envelope.Register,
		copyext.Register,
		variables.Register,
		imap4flags.Register,
		comparators.Register,
		relational.Register,
		regex.Register,
		subaddress.WithSeparator(separator),
		body.Register,
		notify.Register,
		spamtest.New(opts.Spamtest),
		vacation.New(opts.Vacation),
		testsuite.Register,
	}
	for _, register := range registers {
		if err := register(reg, cmds); err != nil {
			return nil, fmt.Errorf("register extensions: %w", err)
		}
	}
	reg.Seal()

	if err := validate.Extensions(opts.Extensions, reg.ExtensionNames()); err != nil {
		return nil, err
	}
	enabled := append([]string(nil), opts.Extensions...)
	sort.Strings(enabled)
	return &Library{Registry: reg, Commands: cmds, opts: opts, enabled: enabled}, nil
}

// Enabled returns the sorted enabled extension names.
func (l *Library) Enabled() []string { return l.enabled }

// Capabilities returns what a ManageSieve server would advertise.
func (l *Library) Capabilities() []string { return validate.Capabilities(l.enabled) }

// Parse parses src, cross-checking it when configured.
func (l *Library) Parse(src string) (*ast.Script, error) {
	script, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	if l.opts.CrossCheck {
		if _, err := validate.CrossCheck(src, script, l.enabled); err != nil {
			return nil, err
		}
	}
	return script, nil
}

// Compile parses and compiles src into a serialized binary.
func (l *Library) Compile(src string) ([]byte, error) {
	script, err := l.Parse(src)
	if err != nil {
		return nil, err
	}
	bin, err := l.Generate(script)
	if err != nil {
		return nil, err
	}
	return bin.MarshalBinary()
}

// Generate compiles an already validated AST.
func (l *Library) Generate(script *ast.Script) (*bytecode.Binary, error) {
	return codegen.Generate(l.Registry, l.Commands, script, codegen.Options{Extensions: l.enabled})
}

// Load decodes a serialized binary against the library's registry.
func (l *Library) Load(raw []byte) (*interp.Program, error) {
	return l.Registry.Load(raw)
}

// Dump renders the code listing of a serialized binary.
func (l *Library) Dump(raw []byte) (string, error) {
	prog, err := l.Load(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := interp.NewDumper(prog, &buf).Dump(); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}
