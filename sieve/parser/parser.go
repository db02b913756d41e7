// Package parser turns Sieve script text into the tree the code generator
// compiles. It follows the lexical rules and grammar of RFC 5228 and knows
// nothing about which commands exist; that is checked during generation.
package parser

import (
	"errors"
	"fmt"

	"github.com/migadu/sora-sieve/sieve/ast"
)

// MaxNesting bounds the depth of blocks and nested tests.
const MaxNesting = 64

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("sieve syntax error")

// Error is a syntax error at a source line.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

func (e *Error) Unwrap() error { return ErrSyntax }

// Parser is a recursive descent parser over a token stream with one token
// of lookahead.
type Parser struct {
	lex   *Lexer
	tok   Token
	depth int
}

// Parse parses a whole script.
func Parse(src string) (*ast.Script, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.next(); err != nil {
		return nil, err
	}
	cmds, err := p.commands()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != TokenEOF {
		return nil, p.unexpected("a command")
	}
	return &ast.Script{Commands: cmds}, nil
}

func (p *Parser) next() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *Parser) unexpected(want string) error {
	got := p.tok.Type.String()
	switch p.tok.Type {
	case TokenIdentifier:
		got = fmt.Sprintf("identifier %q", p.tok.Value)
	case TokenTag:
		got = fmt.Sprintf("tag :%s", p.tok.Value)
	}
	return &Error{Line: p.tok.Line, Msg: fmt.Sprintf("expected %s, got %s", want, got)}
}

func (p *Parser) expect(t TokenType) error {
	if p.tok.Type != t {
		return p.unexpected(t.String())
	}
	return p.next()
}

func (p *Parser) enter() error {
	p.depth++
	if p.depth > MaxNesting {
		return &Error{Line: p.tok.Line, Msg: "nesting too deep"}
	}
	return nil
}

func (p *Parser) leave() { p.depth-- }

func (p *Parser) commands() ([]*ast.Command, error) {
	var cmds []*ast.Command
	for p.tok.Type == TokenIdentifier {
		cmd, err := p.command()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (p *Parser) command() (*ast.Command, error) {
	cmd := &ast.Command{Name: p.tok.Value, Line: p.tok.Line}
	if err := p.next(); err != nil {
		return nil, err
	}
	args, tests, err := p.arguments()
	if err != nil {
		return nil, err
	}
	cmd.Args, cmd.Tests = args, tests

	switch p.tok.Type {
	case TokenSemicolon:
		return cmd, p.next()
	case TokenLBrace:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		if err := p.next(); err != nil {
			return nil, err
		}
		block, err := p.commands()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRBrace); err != nil {
			return nil, err
		}
		// An empty block is still a block, not a semicolon.
		if block == nil {
			block = []*ast.Command{}
		}
		cmd.Block = block
		return cmd, nil
	}
	return nil, p.unexpected("';' or '{'")
}

// arguments reads the arguments of a command or test, then an optional
// test or parenthesized test list.
func (p *Parser) arguments() ([]ast.Argument, []*ast.Test, error) {
	var args []ast.Argument
	for {
		arg, ok, err := p.argument()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		args = append(args, arg)
	}

	switch p.tok.Type {
	case TokenIdentifier:
		test, err := p.test()
		if err != nil {
			return nil, nil, err
		}
		return args, []*ast.Test{test}, nil
	case TokenLParen:
		tests, err := p.testList()
		return args, tests, err
	}
	return args, nil, nil
}

func (p *Parser) argument() (ast.Argument, bool, error) {
	tok := p.tok
	switch tok.Type {
	case TokenString:
		return &ast.String{Line: tok.Line, Value: tok.Value}, true, p.next()
	case TokenNumber:
		return &ast.Number{Line: tok.Line, Value: tok.Number}, true, p.next()
	case TokenTag:
		return &ast.Tag{Line: tok.Line, Name: tok.Value}, true, p.next()
	case TokenLBracket:
		list, err := p.stringList()
		return list, err == nil, err
	}
	return nil, false, nil
}

func (p *Parser) stringList() (*ast.StringList, error) {
	list := &ast.StringList{Line: p.tok.Line, Values: []string{}}
	if err := p.next(); err != nil {
		return nil, err
	}
	for {
		if p.tok.Type != TokenString {
			return nil, p.unexpected("a string")
		}
		list.Values = append(list.Values, p.tok.Value)
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Type == TokenRBracket {
			return list, p.next()
		}
		if err := p.expect(TokenComma); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) test() (*ast.Test, error) {
	if p.tok.Type != TokenIdentifier {
		return nil, p.unexpected("a test")
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	test := &ast.Test{Name: p.tok.Value, Line: p.tok.Line}
	if err := p.next(); err != nil {
		return nil, err
	}
	args, tests, err := p.arguments()
	if err != nil {
		return nil, err
	}
	test.Args, test.Tests = args, tests
	return test, nil
}

func (p *Parser) testList() ([]*ast.Test, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	var tests []*ast.Test
	for {
		test, err := p.test()
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
		if p.tok.Type == TokenRParen {
			return tests, p.next()
		}
		if err := p.expect(TokenComma); err != nil {
			return nil, err
		}
	}
}
