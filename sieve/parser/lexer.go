package parser

import (
	"fmt"
	"math"
	"strings"
)

// TokenType identifies the kind of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdentifier
	TokenTag
	TokenNumber
	TokenString
	TokenLBracket
	TokenRBracket
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenComma
	TokenSemicolon
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "end of script",
	TokenIdentifier: "identifier",
	TokenTag:        "tag",
	TokenNumber:     "number",
	TokenString:     "string",
	TokenLBracket:   "'['",
	TokenRBracket:   "']'",
	TokenLParen:     "'('",
	TokenRParen:     "')'",
	TokenLBrace:     "'{'",
	TokenRBrace:     "'}'",
	TokenComma:      "','",
	TokenSemicolon:  "';'",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

var punctuation = map[byte]TokenType{
	'[': TokenLBracket, ']': TokenRBracket,
	'(': TokenLParen, ')': TokenRParen,
	'{': TokenLBrace, '}': TokenRBrace,
	',': TokenComma, ';': TokenSemicolon,
}

// Token is a lexical token. Value holds the identifier or tag name without
// the colon, and the decoded content of strings.
type Token struct {
	Type   TokenType
	Value  string
	Number uint64
	Line   int
}

// Lexer tokenizes Sieve source.
type Lexer struct {
	input string
	pos   int
	line  int
}

// NewLexer creates a lexer positioned at the start of input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1}
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance() byte {
	c := l.input[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
	}
	return c
}

func (l *Lexer) errorf(format string, args ...any) error {
	return &Error{Line: l.line, Msg: fmt.Sprintf(format, args...)}
}

// skipSpace skips white space and both comment forms.
func (l *Lexer) skipSpace() error {
	for l.pos < len(l.input) {
		switch c := l.peek(0); {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '#':
			for l.pos < len(l.input) && l.peek(0) != '\n' {
				l.advance()
			}
		case c == '/' && l.peek(1) == '*':
			start := l.line
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.input) {
					return &Error{Line: start, Msg: "unterminated comment"}
				}
				if l.peek(0) == '*' && l.peek(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipSpace(); err != nil {
		return Token{}, err
	}
	tok := Token{Line: l.line}
	if l.pos >= len(l.input) {
		tok.Type = TokenEOF
		return tok, nil
	}

	c := l.peek(0)
	switch {
	case c == '"':
		return l.quoted(tok)
	case c == ':':
		l.advance()
		if !isIdentStart(l.peek(0)) {
			return tok, l.errorf("expected a tag name after ':'")
		}
		tok.Type = TokenTag
		tok.Value = l.identifier()
		return tok, nil
	case isDigit(c):
		return l.number(tok)
	case isIdentStart(c):
		tok.Value = l.identifier()
		if strings.EqualFold(tok.Value, "text") && l.peek(0) == ':' {
			l.advance()
			return l.multiline(tok)
		}
		tok.Type = TokenIdentifier
		return tok, nil
	}

	if t, ok := punctuation[c]; ok {
		l.advance()
		tok.Type = t
		return tok, nil
	}
	return tok, l.errorf("unexpected character %q", c)
}

func (l *Lexer) identifier() string {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.peek(0)) {
		l.advance()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) number(tok Token) (Token, error) {
	var n uint64
	for l.pos < len(l.input) && isDigit(l.peek(0)) {
		d := uint64(l.advance() - '0')
		if n > (math.MaxUint64-d)/10 {
			return tok, l.errorf("number too large")
		}
		n = n*10 + d
	}
	var shift uint
	switch l.peek(0) {
	case 'K', 'k':
		shift = 10
	case 'M', 'm':
		shift = 20
	case 'G', 'g':
		shift = 30
	}
	if shift > 0 {
		l.advance()
		if n > math.MaxUint64>>shift {
			return tok, l.errorf("number too large")
		}
		n <<= shift
	}
	if isIdentChar(l.peek(0)) {
		return tok, l.errorf("invalid number suffix %q", l.peek(0))
	}
	tok.Type = TokenNumber
	tok.Number = n
	return tok, nil
}

// quoted reads a quoted string. A backslash keeps the next character as is,
// so only \" and \\ change the meaning of what follows.
func (l *Lexer) quoted(tok Token) (Token, error) {
	l.advance()
	var b strings.Builder
	for {
		if l.pos >= len(l.input) {
			return tok, &Error{Line: tok.Line, Msg: "unterminated string"}
		}
		c := l.advance()
		switch c {
		case '"':
			tok.Type = TokenString
			tok.Value = b.String()
			return tok, nil
		case '\\':
			if l.pos >= len(l.input) {
				return tok, &Error{Line: tok.Line, Msg: "unterminated string"}
			}
			b.WriteByte(l.advance())
		default:
			b.WriteByte(c)
		}
	}
}

// multiline reads the body of text: up to the line holding a single dot.
// Lines starting with a dot have it doubled in the source.
func (l *Lexer) multiline(tok Token) (Token, error) {
	for l.pos < len(l.input) && (l.peek(0) == ' ' || l.peek(0) == '\t') {
		l.advance()
	}
	if l.peek(0) == '#' {
		for l.pos < len(l.input) && l.peek(0) != '\n' {
			l.advance()
		}
	}
	if l.peek(0) == '\r' {
		l.advance()
	}
	if l.pos >= len(l.input) || l.peek(0) != '\n' {
		return tok, l.errorf("text: must be followed by a line break")
	}
	l.advance()

	var b strings.Builder
	for {
		if l.pos >= len(l.input) {
			return tok, &Error{Line: tok.Line, Msg: "unterminated text: block"}
		}
		end := strings.IndexByte(l.input[l.pos:], '\n')
		var line string
		if end < 0 {
			line = l.input[l.pos:]
		} else {
			line = l.input[l.pos : l.pos+end+1]
		}
		for i := 0; i < len(line); i++ {
			l.advance()
		}
		content := strings.TrimRight(line, "\r\n")
		if content == "." {
			tok.Type = TokenString
			tok.Value = b.String()
			return tok, nil
		}
		if strings.HasPrefix(content, "..") {
			line = line[1:]
		}
		b.WriteString(strings.TrimRight(line, "\r\n"))
		if end >= 0 {
			b.WriteString("\r\n")
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }
