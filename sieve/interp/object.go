package interp

import (
	"fmt"
	"strings"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// ObjectClass groups objects that can stand in for one another as an
// operand: every comparator can be used where a comparator is expected.
type ObjectClass int

const (
	ClassComparator ObjectClass = iota
	ClassMatchType
	ClassAddressPart
	ClassSideEffect
	numClasses
)

func (c ObjectClass) String() string {
	switch c {
	case ClassComparator:
		return "comparator"
	case ClassMatchType:
		return "match-type"
	case ClassAddressPart:
		return "address-part"
	case ClassSideEffect:
		return "side-effect"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// OperandCode returns the operand code objects of this class are encoded with.
func (c ObjectClass) OperandCode() bytecode.OperandCode {
	switch c {
	case ClassComparator:
		return bytecode.OperandComparator
	case ClassMatchType:
		return bytecode.OperandMatchType
	case ClassAddressPart:
		return bytecode.OperandAddressPart
	default:
		return bytecode.OperandSideEffect
	}
}

func classOf(code bytecode.OperandCode) (ObjectClass, bool) {
	switch code {
	case bytecode.OperandComparator:
		return ClassComparator, true
	case bytecode.OperandMatchType:
		return ClassMatchType, true
	case bytecode.OperandAddressPart:
		return ClassAddressPart, true
	case bytecode.OperandSideEffect:
		return ClassSideEffect, true
	}
	return 0, false
}

// ObjectDef is the part every object definition shares. ExtID is the
// owning extension's registry index, -1 for core objects; the registry
// fills it in.
type ObjectDef struct {
	Class ObjectClass
	Name  string
	Code  uint64
	ExtID int
}

func (d *ObjectDef) Def() *ObjectDef { return d }

// Object is implemented by every object definition through its embedded
// ObjectDef.
type Object interface {
	Def() *ObjectDef
}

// ComparatorDef defines string comparison semantics.
type ComparatorDef struct {
	ObjectDef
	// Compare orders two values.
	Compare func(a, b string) int
	// Fold normalizes a value for substring and wildcard matching. It is nil
	// for comparators that only support equality and ordering.
	Fold func(s string) string
	// CaseInsensitive is set for comparators that ignore case.
	CaseInsensitive bool
}

// MatchTypeDef defines how values are compared against keys.
type MatchTypeDef struct {
	ObjectDef
	// Substring is set when the match type needs a comparator with Fold.
	Substring bool
	// Match decides a single value against a single key.
	Match func(mc *MatchContext, value, key string) (bool, error)
	// Aggregate match types see every value before deciding; their result
	// comes from End.
	Aggregate bool
	End       func(mc *MatchContext) (bool, error)
	// CheckKey validates a constant key at compile time, if set.
	CheckKey func(key string) error
}

// AddressPartDef projects an address onto the part being compared.
type AddressPartDef struct {
	ObjectDef
	// Extract returns the part of address to compare; ok is false when the
	// address has no such part.
	Extract func(address string) (part string, ok bool)
}

// SideEffectDef defines an attribute that can be attached to an action,
// such as :copy or :flags.
type SideEffectDef struct {
	ObjectDef
	// Params is the number of value arguments following the tag in a script.
	Params int
	// Actions limits the action kinds the side effect applies to.
	Actions []string
	// Read turns the encoded parameters into the side effect context.
	Read func(rt *Runtime, params []bytecode.Operand) (any, error)
	// Describe renders the context for traces and result listings.
	Describe func(ctx any) string
}

// AppliesTo reports whether the side effect may be attached to the action.
func (d *SideEffectDef) AppliesTo(action string) bool {
	if len(d.Actions) == 0 {
		return true
	}
	for _, a := range d.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// SideEffect is a side effect attached to a pending action.
type SideEffect struct {
	Def     *SideEffectDef
	Context any
}

func (s SideEffect) String() string {
	if s.Def.Describe != nil {
		if desc := s.Def.Describe(s.Context); desc != "" {
			return s.Def.Name + " " + desc
		}
	}
	return s.Def.Name
}

func describeSideEffects(effects []SideEffect) string {
	parts := make([]string, len(effects))
	for i, se := range effects {
		parts[i] = se.String()
	}
	return strings.Join(parts, ", ")
}
