// Package ast is the tree handed from a Sieve frontend to the code
// generator. Nodes carry the source line of their first token.
package ast

import (
	"strconv"
	"strings"
)

// Script is a parsed Sieve script.
type Script struct {
	Commands []*Command
}

// Command is a control or action command.
type Command struct {
	Name  string
	Line  int
	Args  []Argument
	Tests []*Test
	// Block is nil when the command ends with a semicolon.
	Block []*Command
}

// Test is a test, possibly nesting other tests (not, allof, anyof).
type Test struct {
	Name  string
	Line  int
	Args  []Argument
	Tests []*Test
}

// Argument is one of *String, *StringList, *Number or *Tag.
type Argument interface {
	Pos() int
	String() string
}

type String struct {
	Line  int
	Value string
}

type StringList struct {
	Line   int
	Values []string
}

// Number is a numeric argument with its quantifier already applied.
type Number struct {
	Line  int
	Value uint64
}

// Tag is a tagged argument such as ":contains", stored without the colon.
type Tag struct {
	Line int
	Name string
}

func (a *String) Pos() int     { return a.Line }
func (a *StringList) Pos() int { return a.Line }
func (a *Number) Pos() int     { return a.Line }
func (a *Tag) Pos() int        { return a.Line }

func (a *String) String() string { return strconv.Quote(a.Value) }

func (a *StringList) String() string {
	quoted := make([]string, len(a.Values))
	for i, v := range a.Values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func (a *Number) String() string { return strconv.FormatUint(a.Value, 10) }
func (a *Tag) String() string    { return ":" + a.Name }

// Strings returns the values of a string or string-list argument.
func Strings(a Argument) ([]string, bool) {
	switch v := a.(type) {
	case *String:
		return []string{v.Value}, true
	case *StringList:
		return v.Values, true
	}
	return nil, false
}

// Requires lists the capabilities named by the script's require commands,
// in order and without duplicates.
func (s *Script) Requires() []string {
	var names []string
	seen := make(map[string]bool)
	for _, cmd := range s.Commands {
		if cmd.Name != "require" || len(cmd.Args) == 0 {
			continue
		}
		values, _ := Strings(cmd.Args[0])
		for _, v := range values {
			if !seen[v] {
				seen[v] = true
				names = append(names, v)
			}
		}
	}
	return names
}
