package codegen

import (
	"strings"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/interp"
)

// ArgKind is the shape of an argument.
type ArgKind int

const (
	ArgNone ArgKind = iota
	ArgString
	// ArgStringList also accepts a single string.
	ArgStringList
	ArgNumber
)

func (k ArgKind) String() string {
	switch k {
	case ArgString:
		return "string"
	case ArgStringList:
		return "string list"
	case ArgNumber:
		return "number"
	}
	return "nothing"
}

func (k ArgKind) accepts(arg ast.Argument) bool {
	switch arg.(type) {
	case *ast.String:
		return k == ArgString || k == ArgStringList
	case *ast.StringList:
		return k == ArgStringList
	case *ast.Number:
		return k == ArgNumber
	}
	return false
}

// TagSpec is a tagged argument a command accepts.
type TagSpec struct {
	Name  string
	Param ArgKind
	// Group makes tags mutually exclusive, like :over and :under.
	Group string
}

// Signature describes the arguments of a command or test.
type Signature struct {
	Tags []TagSpec
	// Match accepts :comparator and the match type tags.
	Match bool
	// AddressParts accepts the address part tags.
	AddressParts bool
	// Action accepts the side effects that apply to the named action.
	Action     string
	Positional []ArgKind
	// Optional is how many trailing positional arguments may be left out.
	Optional int
}

// TagArg is a tag found in the arguments.
type TagArg struct {
	Name  string
	Line  int
	Value ast.Argument
}

// SideEffectArg is a side effect tag with its parameters.
type SideEffectArg struct {
	Def    *interp.SideEffectDef
	Line   int
	Params []ast.Argument
}

// Args holds parsed arguments.
type Args struct {
	Command     string
	Line        int
	Tags        map[string]*TagArg
	Comparator  *interp.ComparatorDef
	MatchType   *interp.MatchTypeDef
	AddressPart *interp.AddressPartDef
	SideEffects []SideEffectArg
	Positional  []ast.Argument
}

// Has reports whether the tag was given.
func (a *Args) Has(tag string) bool {
	_, ok := a.Tags[tag]
	return ok
}

// Tag returns the tag's parameter.
func (a *Args) Tag(tag string) (ast.Argument, bool) {
	t, ok := a.Tags[tag]
	if !ok {
		return nil, false
	}
	return t.Value, true
}

// Number returns the number parameter of a tag.
func (a *Args) Number(tag string) (uint64, bool) {
	t, ok := a.Tags[tag]
	if !ok {
		return 0, false
	}
	n, ok := t.Value.(*ast.Number)
	if !ok {
		return 0, false
	}
	return n.Value, true
}

// Group returns the tag given from a group, if any.
func (a *Args) Group(sig Signature, group string) (string, bool) {
	for _, spec := range sig.Tags {
		if spec.Group == group && a.Has(spec.Name) {
			return spec.Name, true
		}
	}
	return "", false
}

// ParseArgs checks args against sig and resolves the match and side
// effect tags through the registry.
func (g *Generator) ParseArgs(command string, line int, args []ast.Argument, sig Signature) (*Args, error) {
	out := &Args{Command: command, Line: line, Tags: make(map[string]*TagArg)}
	groups := make(map[string]string)

	i := 0
	for ; i < len(args); i++ {
		tag, ok := args[i].(*ast.Tag)
		if !ok {
			break
		}
		next := func(kind ArgKind) (ast.Argument, error) {
			if i+1 >= len(args) || !kind.accepts(args[i+1]) {
				return nil, Errorf(tag.Line, "%s: tag :%s needs a %s", command, tag.Name, kind)
			}
			i++
			return args[i], nil
		}

		if spec, ok := findTag(sig.Tags, tag.Name); ok {
			if out.Has(tag.Name) {
				return nil, Errorf(tag.Line, "%s: tag :%s given twice", command, tag.Name)
			}
			if spec.Group != "" {
				if other, taken := groups[spec.Group]; taken {
					return nil, Errorf(tag.Line, "%s: tags :%s and :%s exclude each other", command, other, tag.Name)
				}
				groups[spec.Group] = tag.Name
			}
			ta := &TagArg{Name: tag.Name, Line: tag.Line}
			if spec.Param != ArgNone {
				v, err := next(spec.Param)
				if err != nil {
					return nil, err
				}
				ta.Value = v
			}
			out.Tags[tag.Name] = ta
			continue
		}

		if sig.Match && tag.Name == "comparator" {
			if out.Comparator != nil {
				return nil, Errorf(tag.Line, "%s: more than one comparator", command)
			}
			v, err := next(ArgString)
			if err != nil {
				return nil, err
			}
			name := v.(*ast.String).Value
			cmp, ok := g.reg.Comparator(name)
			if !ok || !g.objectAvailable(cmp) {
				return nil, Errorf(v.Pos(), "%s: unknown comparator %q", command, name)
			}
			out.Comparator = cmp
			continue
		}

		if sig.Match {
			mt, err := g.matchTypeTag(command, tag, next)
			if err != nil {
				return nil, err
			}
			if mt != nil {
				if out.MatchType != nil {
					return nil, Errorf(tag.Line, "%s: more than one match type", command)
				}
				out.MatchType = mt
				continue
			}
		}

		if sig.AddressParts {
			if ap, ok := g.reg.AddressPart(tag.Name); ok && g.objectAvailable(ap) {
				if out.AddressPart != nil {
					return nil, Errorf(tag.Line, "%s: more than one address part", command)
				}
				out.AddressPart = ap
				continue
			}
		}

		if sig.Action != "" {
			if obj, ok := g.reg.LookupObject(interp.ClassSideEffect, tag.Name); ok && g.objectAvailable(obj) {
				se := obj.(*interp.SideEffectDef)
				if !se.AppliesTo(sig.Action) {
					return nil, Errorf(tag.Line, "%s: tag :%s does not apply", command, tag.Name)
				}
				for _, prev := range out.SideEffects {
					if prev.Def == se {
						return nil, Errorf(tag.Line, "%s: tag :%s given twice", command, tag.Name)
					}
				}
				arg := SideEffectArg{Def: se, Line: tag.Line}
				for p := 0; p < se.Params; p++ {
					if i+1 >= len(args) {
						return nil, Errorf(tag.Line, "%s: tag :%s needs %d arguments", command, tag.Name, se.Params)
					}
					if _, isTag := args[i+1].(*ast.Tag); isTag {
						return nil, Errorf(tag.Line, "%s: tag :%s needs %d arguments", command, tag.Name, se.Params)
					}
					i++
					arg.Params = append(arg.Params, args[i])
				}
				out.SideEffects = append(out.SideEffects, arg)
				continue
			}
		}

		return nil, Errorf(tag.Line, "%s: unknown tag :%s", command, tag.Name)
	}

	rest := args[i:]
	required := len(sig.Positional) - sig.Optional
	if len(rest) < required || len(rest) > len(sig.Positional) {
		for _, arg := range rest {
			if tag, ok := arg.(*ast.Tag); ok {
				return nil, Errorf(tag.Line, "%s: tag :%s after positional arguments", command, tag.Name)
			}
		}
		return nil, Errorf(line, "%s: expected %d arguments, got %d", command, len(sig.Positional), len(rest))
	}
	for j, arg := range rest {
		if tag, ok := arg.(*ast.Tag); ok {
			return nil, Errorf(tag.Line, "%s: tag :%s after positional arguments", command, tag.Name)
		}
		if !sig.Positional[j].accepts(arg) {
			return nil, Errorf(arg.Pos(), "%s: argument %d must be a %s", command, j+1, sig.Positional[j])
		}
	}
	out.Positional = rest

	if out.MatchType != nil && out.MatchType.Substring {
		cmp := out.Comparator
		if cmp == nil {
			cmp, _ = g.reg.Comparator(interp.DefaultComparator)
		}
		if cmp != nil && cmp.Fold == nil {
			return nil, Errorf(line, "%s: comparator %q cannot be used with :%s", command, cmp.Name, out.MatchType.Name)
		}
	}
	return out, nil
}

func (g *Generator) matchTypeTag(command string, tag *ast.Tag, next func(ArgKind) (ast.Argument, error)) (*interp.MatchTypeDef, error) {
	if g.cmds.paramMatch[tag.Name] {
		v, err := next(ArgString)
		if err != nil {
			return nil, err
		}
		variant := v.(*ast.String).Value
		mt, ok := g.reg.MatchType(tag.Name + "-" + variant)
		if !ok || !g.objectAvailable(mt) {
			return nil, Errorf(v.Pos(), "%s: invalid :%s argument %q", command, tag.Name, variant)
		}
		return mt, nil
	}
	if dash := strings.IndexByte(tag.Name, '-'); dash > 0 && g.cmds.paramMatch[tag.Name[:dash]] {
		return nil, nil
	}
	mt, ok := g.reg.MatchType(tag.Name)
	if !ok || !g.objectAvailable(mt) {
		return nil, nil
	}
	return mt, nil
}

func findTag(tags []TagSpec, name string) (TagSpec, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t, true
		}
	}
	return TagSpec{}, false
}

// CheckKeys validates the constant keys of a match against its match type.
// Keys holding variable references are left to run time.
func (g *Generator) CheckKeys(a *Args, keys ast.Argument) error {
	if a.MatchType == nil || a.MatchType.CheckKey == nil {
		return nil
	}
	items, _ := ast.Strings(keys)
	for _, key := range items {
		if g.strings != nil && strings.Contains(key, "${") {
			continue
		}
		if err := a.MatchType.CheckKey(key); err != nil {
			return Errorf(keys.Pos(), "%s: invalid :%s key %q: %v", a.Command, a.MatchType.Name, key, err)
		}
	}
	return nil
}
