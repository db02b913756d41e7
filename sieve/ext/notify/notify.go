// Package notify implements the legacy notify extension
// (draft-martin-sieve-notify-01): the notify action and the denotify
// command, which cancels notifications queued earlier in the same run.
package notify

import (
	"strconv"
	"strings"

	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "notify"

// Importance levels. Zero in a denotify means any importance.
const (
	ImportanceHigh   = 1
	ImportanceNormal = 2
	ImportanceLow    = 3
)

// DefaultMessage is used when notify has no :message.
const DefaultMessage = "$from$: $subject$"

// Optional operand tags of NOTIFY.
const (
	optImportance = interp.OptActionLast + iota
	optMessage
	optID
	optMethod
	optOptions
)

// Optional operand tags of DENOTIFY, after the match type.
const (
	optDenotifyKey = interp.OptMatchLast + iota
	optDenotifyImportance
)

// Context is the context of a notify action.
type Context struct {
	ID         string
	Method     string
	Options    []string
	Importance int
	Message    string
}

var ActionNotify = &interp.ActionDef{
	Name: "notify",
	Describe: func(ctx any) string {
		c, ok := ctx.(*Context)
		if !ok {
			return ""
		}
		parts := []string{"importance " + strconv.Itoa(c.Importance)}
		if c.ID != "" {
			parts = append(parts, "id "+strconv.Quote(c.ID))
		}
		if c.Method != "" {
			parts = append(parts, "method "+strconv.Quote(c.Method))
		}
		return strings.Join(parts, " ")
	},
}

var OperationNotify = &interp.Operation{
	Mnemonic: "NOTIFY",
	Code:     0,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		return d.DumpOptionals(pos, interp.MergeOptionalNames(interp.SideEffectOptionalNames, map[uint64]string{
			optImportance: "importance",
			optMessage:    "message",
			optID:         "id",
			optMethod:     "method",
			optOptions:    "options",
		}))
	},
	Execute: executeNotify,
}

var OperationDenotify = &interp.Operation{
	Mnemonic: "DENOTIFY",
	Code:     1,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		return d.DumpOptionals(pos, map[uint64]string{
			interp.OptMatchType:   "match-type",
			optDenotifyKey:        "key",
			optDenotifyImportance: "importance",
		})
	},
	Execute: executeDenotify,
}

var Extension = &interp.ExtensionDef{
	Name:       Name,
	Version:    1,
	Operations: []*interp.Operation{OperationNotify, OperationDenotify},
}

// Register adds the extension with the notify and denotify commands.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	if _, err := reg.RegisterExtension(Extension); err != nil {
		return err
	}
	if err := cmds.Register(&codegen.CommandDef{
		Name:       "notify",
		Extensions: []string{Name},
		Generate:   generateNotify,
	}); err != nil {
		return err
	}
	return cmds.Register(&codegen.CommandDef{
		Name:       "denotify",
		Extensions: []string{Name},
		Generate:   generateDenotify,
	})
}

// ClampImportance forces a stored importance into 1..3.
func ClampImportance(n uint64) int {
	switch {
	case n < ImportanceHigh:
		return ImportanceHigh
	case n > ImportanceLow:
		return ImportanceLow
	}
	return int(n)
}

// ExpandMessage replaces $from$, $env-from$ and $subject$ in a message.
func ExpandMessage(rt *interp.Runtime, msg string) string {
	first := func(name string) string {
		if values := rt.HeaderValues(name); len(values) > 0 {
			return values[0]
		}
		return ""
	}
	return strings.NewReplacer(
		"$from$", first("from"),
		"$env-from$", strings.Trim(rt.Env.Envelope.From, "<>"),
		"$subject$", first("subject"),
	).Replace(msg)
}

func executeNotify(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
	opts, err := rt.ReadOptionals(pos, interp.OptSideEffect, optImportance, optMessage, optID, optMethod, optOptions)
	if err != nil {
		return interp.Step{}, err
	}
	effects, err := rt.SideEffects(opts, ActionNotify)
	if err != nil {
		return interp.Step{}, err
	}
	ctx := &Context{Importance: ImportanceNormal, Message: DefaultMessage}
	for _, opt := range opts {
		switch opt.Tag {
		case optImportance:
			n, err := rt.NumberValue(opt.Operand)
			if err != nil {
				return interp.Step{}, err
			}
			ctx.Importance = ClampImportance(n)
		case optMessage:
			if ctx.Message, err = rt.StringValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
		case optID:
			if ctx.ID, err = rt.StringValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
		case optMethod:
			if ctx.Method, err = rt.StringValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
		case optOptions:
			list, err := rt.StringListValue(opt.Operand)
			if err != nil {
				return interp.Step{}, err
			}
			if ctx.Options, err = list.All(); err != nil {
				return interp.Step{}, err
			}
		}
	}
	ctx.Message = ExpandMessage(rt, ctx.Message)
	rt.AppendAction(ActionNotify, ctx, effects)
	return interp.Continue(), nil
}

// executeDenotify removes the pending notify actions whose importance and id
// match. Each id is matched on its own.
func executeDenotify(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
	opts, err := rt.ReadOptionals(pos, interp.OptMatchType, optDenotifyKey, optDenotifyImportance)
	if err != nil {
		return interp.Step{}, err
	}
	spec, err := rt.MatchSpec(opts, "i;octet")
	if err != nil {
		return interp.Step{}, err
	}
	importance := 0
	if op, ok := opts.Get(optDenotifyImportance); ok {
		n, err := rt.NumberValue(op)
		if err != nil {
			return interp.Step{}, err
		}
		importance = ClampImportance(n)
	}
	var keys *interp.StringList
	if op, ok := opts.Get(optDenotifyKey); ok {
		if keys, err = rt.StringListValue(op); err != nil {
			return interp.Step{}, err
		}
	}

	it := rt.Result.Iterate()
	for a, ok := it.Next(); ok; a, ok = it.Next() {
		if a.Def != ActionNotify {
			continue
		}
		ctx, _ := a.Context.(*Context)
		if ctx == nil || (importance != 0 && ctx.Importance != importance) {
			continue
		}
		if keys != nil {
			mc, err := rt.BeginMatch(spec, keys)
			if err != nil {
				return interp.Step{}, err
			}
			if _, err := mc.Feed(ctx.ID); err != nil {
				return interp.Step{}, err
			}
			matched, err := mc.End()
			if err != nil {
				return interp.Step{}, err
			}
			if !matched {
				continue
			}
		}
		rt.Tracef(interp.TraceActions, "cancel %s", a)
		it.Delete()
	}
	return interp.Continue(), nil
}

func importanceTag(name string) (uint64, bool) {
	switch name {
	case "high":
		return ImportanceHigh, true
	case "normal":
		return ImportanceNormal, true
	case "low":
		return ImportanceLow, true
	}
	return 0, false
}

var importanceTags = []codegen.TagSpec{
	{Name: "low", Group: "importance"},
	{Name: "normal", Group: "importance"},
	{Name: "high", Group: "importance"},
}

func importanceOf(a *codegen.Args) (uint64, bool) {
	for _, spec := range importanceTags {
		if a.Has(spec.Name) {
			return importanceTag(spec.Name)
		}
	}
	return 0, false
}
