// Package relational implements RFC 5231: the :value and :count match types
// with the relations gt, ge, lt, le, eq and ne.
package relational

import (
	"strconv"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "relational"

// Relation is a relational operator.
type Relation struct {
	Name string
	Test func(cmp int) bool
}

var Relations = []Relation{
	{"gt", func(c int) bool { return c > 0 }},
	{"ge", func(c int) bool { return c >= 0 }},
	{"lt", func(c int) bool { return c < 0 }},
	{"le", func(c int) bool { return c <= 0 }},
	{"eq", func(c int) bool { return c == 0 }},
	{"ne", func(c int) bool { return c != 0 }},
}

var Extension = &interp.ExtensionDef{Name: Name, Version: 1}

// Register adds the extension with a value-<rel> and a count-<rel> match
// type per relation.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	ext, err := reg.RegisterExtension(Extension)
	if err != nil {
		return err
	}
	for i, rel := range Relations {
		if err := reg.RegisterObject(ext, valueMatch(rel, uint64(i))); err != nil {
			return err
		}
		if err := reg.RegisterObject(ext, countMatch(rel, uint64(len(Relations)+i))); err != nil {
			return err
		}
	}
	cmds.RegisterParameterizedMatch("value")
	cmds.RegisterParameterizedMatch("count")
	return nil
}

func valueMatch(rel Relation, code uint64) *interp.MatchTypeDef {
	return &interp.MatchTypeDef{
		ObjectDef: interp.ObjectDef{Class: interp.ClassMatchType, Name: "value-" + rel.Name, Code: code},
		Match: func(mc *interp.MatchContext, value, key string) (bool, error) {
			return rel.Test(mc.Comparator.Compare(value, key)), nil
		},
	}
}

// countMatch compares the number of values seen against the keys, through
// the comparator like any other value.
func countMatch(rel Relation, code uint64) *interp.MatchTypeDef {
	return &interp.MatchTypeDef{
		ObjectDef: interp.ObjectDef{Class: interp.ClassMatchType, Name: "count-" + rel.Name, Code: code},
		Aggregate: true,
		End: func(mc *interp.MatchContext) (bool, error) {
			count := strconv.Itoa(mc.Values)
			return mc.EachKey(func(key string) (bool, error) {
				return rel.Test(mc.Comparator.Compare(count, key)), nil
			})
		},
	}
}
