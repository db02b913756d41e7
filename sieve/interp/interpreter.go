package interp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/migadu/sora-sieve/sieve/bytecode"
)

// State is the interpreter's lifecycle state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultMaxOperations bounds a run when Options leaves it at zero.
const DefaultMaxOperations = 100000

// Options tune a run.
type Options struct {
	// MaxOperations faults a run that executes more operations. Sieve has
	// no loops, so this only trips on damaged binaries.
	MaxOperations int
	Trace         io.Writer
	TraceLevel    TraceLevel
}

// Interpreter executes a program once against one message.
type Interpreter struct {
	prog     *Program
	rt       *Runtime
	opts     Options
	pc       bytecode.Address
	state    State
	err      error
	executed int
}

// NewInterpreter prepares a run of prog in env.
func NewInterpreter(prog *Program, env *ScriptEnv, opts Options) *Interpreter {
	if opts.MaxOperations <= 0 {
		opts.MaxOperations = DefaultMaxOperations
	}
	if env == nil {
		env = &ScriptEnv{}
	}
	rt := &Runtime{
		Program:  prog,
		Env:      env,
		Result:   NewResult(),
		extCtx:   make(map[int]any),
		implicit: make(map[string][]ImplicitSideEffect),
	}
	if opts.Trace != nil && opts.TraceLevel > TraceNone {
		rt.trace = &tracer{w: opts.Trace, level: opts.TraceLevel}
	}
	return &Interpreter{prog: prog, rt: rt, opts: opts}
}

func (i *Interpreter) State() State { return i.state }

// Err returns the fault of a faulted run.
func (i *Interpreter) Err() error { return i.err }

// Operations returns how many operations the run executed.
func (i *Interpreter) Operations() int { return i.executed }

// Result returns the result of a halted run, nil otherwise.
func (i *Interpreter) Result() *Result {
	if i.state != StateHalted {
		return nil
	}
	return i.rt.Result
}

// Run executes the program to completion. A faulted run returns no result;
// the caller decides what to do instead, usually an implicit keep.
func (i *Interpreter) Run(ctx context.Context) (*Result, error) {
	if i.state != StateReady {
		return nil, ErrNotReady
	}
	i.state = StateRunning

	for _, ext := range i.prog.Extensions() {
		if ext.Def.RuntimeInit == nil {
			continue
		}
		if err := ext.Def.RuntimeInit(i.rt, ext); err != nil {
			return nil, i.fault(OpInstance{}, fmt.Errorf("initialize %s: %w", ext.Def.Name, err))
		}
	}

	code := i.prog.Code()
	for i.pc < code.Len() {
		if err := ctx.Err(); err != nil {
			return nil, i.fault(OpInstance{Address: i.pc}, err)
		}
		if i.executed >= i.opts.MaxOperations {
			return nil, i.fault(OpInstance{Address: i.pc}, ErrOperationLimit)
		}

		pos := i.pc
		inst, err := i.prog.Operation(&pos)
		if err != nil {
			return nil, i.fault(OpInstance{Address: i.pc}, err)
		}
		i.rt.op = inst
		i.executed++
		i.rt.Tracef(TraceCommands, "%s", inst.Def.Mnemonic)

		step, err := inst.Def.Execute(i.rt, &pos)
		if err != nil {
			return nil, i.fault(inst, err)
		}
		switch step.kind {
		case stepContinue:
			i.pc = pos
		case stepJump:
			if step.target < 0 || step.target > code.Len() {
				return nil, i.fault(inst, fmt.Errorf("jump to %08x: %w", step.target, bytecode.ErrBadJump))
			}
			i.pc = step.target
		case stepDone:
			i.pc = code.Len()
		}
	}

	i.state = StateHalted
	return i.rt.Result, nil
}

// ImplicitKeep returns the keep a halted run falls back to when it queued
// no final action. It carries the implicit side effects of keep, such as
// the flags set by the script.
func (i *Interpreter) ImplicitKeep() *Action {
	return &Action{
		Def:         ActionKeep,
		Context:     &KeepContext{Mailbox: i.rt.Env.Mailbox()},
		SideEffects: i.rt.withImplicit(ActionKeep.Name, nil),
	}
}

func (i *Interpreter) fault(inst OpInstance, err error) error {
	execErr := &ExecError{Address: inst.Address, Err: err}
	if inst.Def != nil {
		execErr.Mnemonic = inst.Def.Mnemonic
		execErr.Line = i.prog.LineAt(inst.Address)
	}
	i.state = StateFaulted
	i.err = execErr
	i.rt.Tracef(TraceActions, "fault: %v", execErr)
	return execErr
}

// IsCorrupt reports whether err means the binary itself is bad.
func IsCorrupt(err error) bool {
	return errors.Is(err, bytecode.ErrCorrupt)
}
