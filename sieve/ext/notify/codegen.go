package notify

import (
	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

var notifySignature = codegen.Signature{
	Tags: append([]codegen.TagSpec{
		{Name: "method", Param: codegen.ArgString},
		{Name: "id", Param: codegen.ArgString},
		{Name: "options", Param: codegen.ArgStringList},
		{Name: "message", Param: codegen.ArgString},
	}, importanceTags...),
	Action: ActionNotify.Name,
}

func generateNotify(g *codegen.Generator, cmd *ast.Command) error {
	a, err := g.ParseArgs(cmd.Name, cmd.Line, cmd.Args, notifySignature)
	if err != nil {
		return err
	}
	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationNotify)
	opts := g.BeginOptionals()
	if err := g.EmitSideEffects(opts, a); err != nil {
		return err
	}
	if n, ok := importanceOf(a); ok {
		opts.Tag(optImportance)
		g.Code().EmitNumberOperand(n)
	}
	tagged := []struct {
		name string
		tag  uint64
	}{
		{"message", optMessage},
		{"id", optID},
		{"method", optMethod},
		{"options", optOptions},
	}
	for _, t := range tagged {
		v, ok := a.Tag(t.name)
		if !ok {
			continue
		}
		opts.Tag(t.tag)
		if err := g.EmitArgument(v); err != nil {
			return err
		}
	}
	opts.End()
	return nil
}

var denotifySignature = codegen.Signature{
	Tags:       importanceTags,
	Match:      true,
	Positional: []codegen.ArgKind{codegen.ArgString},
	Optional:   1,
}

// generateDenotify compiles denotify [MATCH-TYPE key] [:low|:normal|:high].
// The importance may follow the key, so a trailing importance tag is taken
// off before the usual argument parsing.
func generateDenotify(g *codegen.Generator, cmd *ast.Command) error {
	args := cmd.Args
	var trailing *ast.Tag
	if n := len(args); n > 1 {
		if tag, ok := args[n-1].(*ast.Tag); ok {
			if _, isImportance := importanceTag(tag.Name); isImportance {
				if _, afterKey := args[n-2].(*ast.String); afterKey {
					trailing = tag
					args = args[:n-1]
				}
			}
		}
	}

	a, err := g.ParseArgs(cmd.Name, cmd.Line, args, denotifySignature)
	if err != nil {
		return err
	}
	if a.Comparator != nil {
		return codegen.Errorf(cmd.Line, "denotify: :comparator is not allowed")
	}
	if a.MatchType != nil && len(a.Positional) == 0 {
		return codegen.Errorf(cmd.Line, "denotify: :%s needs a key", a.MatchType.Name)
	}
	if a.MatchType == nil && len(a.Positional) > 0 {
		return codegen.Errorf(cmd.Line, "denotify: key without a match type")
	}
	importance, hasImportance := importanceOf(a)
	if trailing != nil {
		if hasImportance {
			return codegen.Errorf(trailing.Line, "denotify: more than one importance")
		}
		importance, hasImportance = importanceTag(trailing.Name)
	}
	if len(a.Positional) > 0 {
		if err := g.CheckKeys(a, a.Positional[0]); err != nil {
			return err
		}
	}

	ext, _ := g.Extension(Name)
	g.EmitOperation(ext, OperationDenotify)
	opts := g.BeginOptionals()
	if a.MatchType != nil {
		opts.Tag(interp.OptMatchType)
		g.EmitObject(a.MatchType)
		opts.Tag(optDenotifyKey)
		if err := g.EmitStringList(a.Positional[0]); err != nil {
			return err
		}
	}
	if hasImportance {
		opts.Tag(optDenotifyImportance)
		g.Code().EmitNumberOperand(importance)
	}
	opts.End()
	return nil
}
