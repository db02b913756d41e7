package interp

import (
	"fmt"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// Tags shared by test operations that take match arguments.
const (
	OptComparator  uint64 = 1
	OptAddressPart uint64 = 2
	OptMatchType   uint64 = 3
	// OptMatchLast is the first tag a test may use for its own optionals.
	OptMatchLast uint64 = 4
)

// Tags shared by action operations.
const (
	OptSideEffect uint64 = 1
	// OptActionLast is the first tag an action may use for its own optionals.
	OptActionLast uint64 = 2
)

// StringResolver evaluates catenated strings and variable references.
type StringResolver func(op bytecode.Operand) (string, error)

// ImplicitSideEffect supplies a side effect for actions queued without one
// of its kind.
type ImplicitSideEffect func(rt *Runtime) (SideEffect, bool)

// Runtime is the state of a single run that operations see.
type Runtime struct {
	Program *Program
	Env     *ScriptEnv
	Result  *Result

	op         OpInstance
	testResult bool
	trace      *tracer
	extCtx     map[int]any
	resolver   StringResolver
	implicit   map[string][]ImplicitSideEffect
}

// Code returns the main code block.
func (rt *Runtime) Code() *bytecode.Block { return rt.Program.Code() }

// Op returns the operation being executed.
func (rt *Runtime) Op() OpInstance { return rt.op }

// Line returns the source line of the operation being executed, or 0.
func (rt *Runtime) Line() int { return rt.Program.LineAt(rt.op.Address) }

// TestResult returns the result of the last test.
func (rt *Runtime) TestResult() bool { return rt.testResult }

// SetTestResult stores the result of a test for the following jump.
func (rt *Runtime) SetTestResult(v bool) {
	rt.testResult = v
	rt.Tracef(TraceTests, "=> %v", v)
}

// ExtensionContext returns per-run state stored by an extension.
func (rt *Runtime) ExtensionContext(ext *Extension) any { return rt.extCtx[ext.ID] }

// SetExtensionContext stores per-run state for an extension.
func (rt *Runtime) SetExtensionContext(ext *Extension, v any) { rt.extCtx[ext.ID] = v }

// ExtensionData returns the extension's decoded data block.
func (rt *Runtime) ExtensionData(ext *Extension) any { return rt.Program.ExtensionData(ext) }

// SetStringResolver installs the evaluator for catenated strings.
func (rt *Runtime) SetStringResolver(fn StringResolver) { rt.resolver = fn }

// AddImplicitSideEffect registers fn for actions of the named kind.
func (rt *Runtime) AddImplicitSideEffect(action string, fn ImplicitSideEffect) {
	rt.implicit[action] = append(rt.implicit[action], fn)
}

// HeaderValues returns the values of a message header, none when the run
// has no message.
func (rt *Runtime) HeaderValues(name string) []string {
	if rt.Env.Message == nil {
		return nil
	}
	return rt.Env.Message.HeaderValues(name)
}

// MessageSize returns the message size in octets.
func (rt *Runtime) MessageSize() int64 {
	if rt.Env.Message == nil {
		return 0
	}
	return rt.Env.Message.Size()
}

// Tracing reports whether trace output at level is wanted.
func (rt *Runtime) Tracing(level TraceLevel) bool { return rt.trace.enabled(level) }

// Tracef writes a trace line attributed to the current operation.
func (rt *Runtime) Tracef(level TraceLevel, format string, args ...any) {
	if rt.trace.enabled(level) {
		rt.trace.printf(level, rt.Line(), format, args...)
	}
}

// TraceDescend indents following trace lines.
func (rt *Runtime) TraceDescend() {
	if rt.trace != nil {
		rt.trace.indent++
	}
}

// TraceAscend undoes TraceDescend.
func (rt *Runtime) TraceAscend() {
	if rt.trace != nil && rt.trace.indent > 0 {
		rt.trace.indent--
	}
}

// ReadNumber reads a number operand.
func (rt *Runtime) ReadNumber(pos *bytecode.Address) (uint64, error) {
	op, err := bytecode.ReadOperandOf(rt.Code(), pos, bytecode.OperandNumber)
	if err != nil {
		return 0, err
	}
	return op.Number, nil
}

// ReadString reads a string operand and evaluates it.
func (rt *Runtime) ReadString(pos *bytecode.Address) (string, error) {
	op, err := bytecode.ReadOperandOf(rt.Code(), pos,
		bytecode.OperandString, bytecode.OperandCatenated, bytecode.OperandVariable)
	if err != nil {
		return "", err
	}
	return rt.StringValue(op)
}

// StringValue evaluates a decoded string operand.
func (rt *Runtime) StringValue(op bytecode.Operand) (string, error) {
	switch op.Code {
	case bytecode.OperandString:
		return op.Str, nil
	case bytecode.OperandCatenated, bytecode.OperandVariable:
		if rt.resolver == nil {
			return "", fmt.Errorf("%s at %d without variables support: %w", op.Code, op.Address, bytecode.ErrBadOperand)
		}
		return rt.resolver(op)
	}
	return "", fmt.Errorf("operand at %d is %s, expected a string: %w", op.Address, op.Code, bytecode.ErrBadOperand)
}

// NumberValue checks that a decoded operand is a number.
func (rt *Runtime) NumberValue(op bytecode.Operand) (uint64, error) {
	if op.Code != bytecode.OperandNumber {
		return 0, fmt.Errorf("operand at %d is %s, expected a number: %w", op.Address, op.Code, bytecode.ErrBadOperand)
	}
	return op.Number, nil
}

// ReadStringList reads a string list operand. A single string is accepted
// as a list of one.
func (rt *Runtime) ReadStringList(pos *bytecode.Address) (*StringList, error) {
	op, err := bytecode.ReadOperandOf(rt.Code(), pos,
		bytecode.OperandStringList, bytecode.OperandString, bytecode.OperandCatenated, bytecode.OperandVariable)
	if err != nil {
		return nil, err
	}
	return rt.StringListValue(op)
}

// StringListValue wraps a decoded string or string list operand.
func (rt *Runtime) StringListValue(op bytecode.Operand) (*StringList, error) {
	if op.Code.IsString() {
		single := op
		return &StringList{rt: rt, single: &single}, nil
	}
	r, err := bytecode.NewStringListReader(rt.Code(), op)
	if err != nil {
		return nil, err
	}
	return &StringList{rt: rt, reader: r}, nil
}

// ReadObject reads an object operand of the given class.
func (rt *Runtime) ReadObject(class ObjectClass, pos *bytecode.Address) (Object, error) {
	start := *pos
	op, err := bytecode.ReadOperandOf(rt.Code(), pos, class.OperandCode())
	if err != nil {
		return nil, err
	}
	obj, err := rt.Program.Object(op)
	if err != nil {
		*pos = start
		return nil, err
	}
	return obj, nil
}

// ReadOptionals reads the optional operand block, accepting only tags.
func (rt *Runtime) ReadOptionals(pos *bytecode.Address, tags ...uint64) (Optionals, error) {
	opts, err := bytecode.ReadOptionals(rt.Code(), pos, bytecode.Tags(tags...))
	if err != nil {
		return nil, err
	}
	return Optionals(opts), nil
}

// MatchSpec is the comparator, match type and address part of a test.
type MatchSpec struct {
	Comparator  *ComparatorDef
	MatchType   *MatchTypeDef
	AddressPart *AddressPartDef
}

// MatchSpec resolves the match optionals of a test, falling back to
// defaultComparator (or i;ascii-casemap), :is and :all.
func (rt *Runtime) MatchSpec(opts Optionals, defaultComparator string) (MatchSpec, error) {
	if defaultComparator == "" {
		defaultComparator = DefaultComparator
	}
	reg := rt.Program.Registry()
	var spec MatchSpec
	var ok bool
	if spec.Comparator, ok = reg.Comparator(defaultComparator); !ok {
		return spec, fmt.Errorf("default comparator %q: %w", defaultComparator, bytecode.ErrUnknownObject)
	}
	spec.MatchType, _ = reg.MatchType(DefaultMatchType)

	for _, opt := range opts {
		var obj Object
		switch opt.Tag {
		case OptComparator, OptMatchType, OptAddressPart:
			var err error
			if obj, err = rt.Program.Object(opt.Operand); err != nil {
				return spec, err
			}
		default:
			continue
		}
		var typed bool
		switch opt.Tag {
		case OptComparator:
			spec.Comparator, typed = obj.(*ComparatorDef)
		case OptMatchType:
			spec.MatchType, typed = obj.(*MatchTypeDef)
		case OptAddressPart:
			spec.AddressPart, typed = obj.(*AddressPartDef)
		}
		if !typed {
			return spec, fmt.Errorf("optional %d at %d holds a %s: %w",
				opt.Tag, opt.Operand.Address, obj.Def().Class, bytecode.ErrBadOperand)
		}
	}
	return spec, nil
}

// BeginMatch starts a match for spec. Tests without address parts pass a
// spec whose AddressPart is nil.
func (rt *Runtime) BeginMatch(spec MatchSpec, keys StringIterator) (*MatchContext, error) {
	mc, err := BeginMatch(spec.MatchType, spec.Comparator, spec.AddressPart, keys)
	if err != nil {
		return nil, err
	}
	rt.Tracef(TraceMatching, "match :%s comparator %s", spec.MatchType.Name, spec.Comparator.Name)
	return mc, nil
}

// SideEffects resolves the side effect optionals of an action.
func (rt *Runtime) SideEffects(opts Optionals, action *ActionDef) ([]SideEffect, error) {
	var effects []SideEffect
	for _, opt := range opts {
		if opt.Tag != OptSideEffect {
			continue
		}
		obj, err := rt.Program.Object(opt.Operand)
		if err != nil {
			return nil, err
		}
		def, ok := obj.(*SideEffectDef)
		if !ok {
			return nil, fmt.Errorf("side effect at %d is a %s: %w", opt.Operand.Address, obj.Def().Class, bytecode.ErrBadOperand)
		}
		if !def.AppliesTo(action.Name) {
			return nil, fmt.Errorf("side effect %q on %s: %w", def.Name, action.Name, bytecode.ErrBadOperand)
		}
		var ctx any
		if def.Read != nil {
			if ctx, err = def.Read(rt, opt.Operand.Parts); err != nil {
				return nil, err
			}
		}
		effects = appendSideEffect(effects, SideEffect{Def: def, Context: ctx})
	}
	return effects, nil
}

func appendSideEffect(effects []SideEffect, se SideEffect) []SideEffect {
	for i := range effects {
		if effects[i].Def == se.Def {
			effects[i] = se
			return effects
		}
	}
	return append(effects, se)
}

// AppendAction queues an action attributed to the current command, adding
// the implicit side effects registered for its kind.
func (rt *Runtime) AppendAction(def *ActionDef, ctx any, effects []SideEffect) *Action {
	a := rt.Result.Append(def, ctx, rt.withImplicit(def.Name, effects), rt.Line())
	rt.Tracef(TraceActions, "queue %s", a)
	return a
}

func (rt *Runtime) withImplicit(action string, effects []SideEffect) []SideEffect {
	for _, fn := range rt.implicit[action] {
		se, ok := fn(rt)
		if !ok {
			continue
		}
		present := false
		for _, e := range effects {
			if e.Def.Name == se.Def.Name {
				present = true
				break
			}
		}
		if !present {
			effects = append(effects, se)
		}
	}
	return effects
}

// Optionals is a decoded optional operand block.
type Optionals []bytecode.Optional

// Get returns the first operand with the given tag.
func (o Optionals) Get(tag uint64) (bytecode.Operand, bool) {
	for _, opt := range o {
		if opt.Tag == tag {
			return opt.Operand, true
		}
	}
	return bytecode.Operand{}, false
}

// Has reports whether the tag is present.
func (o Optionals) Has(tag uint64) bool {
	_, ok := o.Get(tag)
	return ok
}

// StringList is a string list operand evaluated lazily.
type StringList struct {
	rt     *Runtime
	reader *bytecode.StringListReader
	single *bytecode.Operand
	done   bool
}

// Len returns the number of items.
func (l *StringList) Len() int {
	if l.single != nil {
		return 1
	}
	return l.reader.Len()
}

// Next returns the next item.
func (l *StringList) Next() (string, bool, error) {
	if l.single != nil {
		if l.done {
			return "", false, nil
		}
		l.done = true
		s, err := l.rt.StringValue(*l.single)
		return s, err == nil, err
	}
	op, ok, err := l.reader.Next()
	if err != nil || !ok {
		return "", false, err
	}
	s, err := l.rt.StringValue(op)
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

// Reset rewinds the list.
func (l *StringList) Reset() {
	if l.single != nil {
		l.done = false
		return
	}
	l.reader.Reset()
}

// All evaluates every item.
func (l *StringList) All() ([]string, error) {
	l.Reset()
	out := make([]string, 0, l.Len())
	for {
		s, ok, err := l.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, s)
	}
}
