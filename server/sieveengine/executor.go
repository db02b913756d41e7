package sieveengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/migadu/sora-sieve/consts"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/sieve/message"
)

// Context is the delivery a script is evaluated for.
type Context struct {
	EnvelopeFrom string
	EnvelopeTo   string
	AuthUser     string
	Username     string
	// Message is the raw RFC 5322 message.
	Message []byte
}

type Executor interface {
	Evaluate(evalCtx context.Context, ctx Context) (Summary, error)
}

// ScriptExecutor implements the Executor interface for one compiled script.
type ScriptExecutor struct {
	engine *Engine
	prog   *interp.Program

	mu     sync.Mutex
	policy *Policy
}

// NewExecutor prepares src for evaluation without persistent vacation
// tracking. It suits syntax checks and scripts without vacation.
func (e *Engine) NewExecutor(ctx context.Context, src string) (Executor, error) {
	return e.NewExecutorWithOracle(ctx, src, 0, nil)
}

// NewExecutorWithOracle prepares src for evaluation on behalf of accountID,
// consulting oracle before sending vacation responses.
func (e *Engine) NewExecutorWithOracle(ctx context.Context, src string, accountID int64, oracle VacationOracle) (Executor, error) {
	prog, err := e.Program(ctx, src)
	if err != nil {
		return nil, err
	}
	return &ScriptExecutor{
		engine: e,
		prog:   prog,
		policy: &Policy{AccountID: accountID, Oracle: oracle},
	}, nil
}

// Evaluate runs the script against the delivery. On failure the returned
// summary is still usable: it keeps the message.
func (x *ScriptExecutor) Evaluate(evalCtx context.Context, ctx Context) (Summary, error) {
	msg, err := message.Parse(ctx.Message)
	if err != nil {
		return Summary{Action: ActionKeep, Mailbox: x.engine.opts.DefaultMailbox},
			fmt.Errorf("%w: %w", consts.ErrMalformedMessage, err)
	}
	env := &interp.ScriptEnv{
		Message: msg,
		Envelope: interp.Envelope{
			From: ctx.EnvelopeFrom,
			To:   ctx.EnvelopeTo,
			Auth: ctx.AuthUser,
		},
		Username: ctx.Username,
	}

	exec, err := x.engine.Execute(evalCtx, x.prog, env)
	summary := exec.Summary()
	if err != nil {
		return summary, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.policy.Apply(evalCtx, summary, ctx.EnvelopeFrom)
}
