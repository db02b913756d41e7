// Package vacation implements the vacation action of RFC 5230. The action
// only describes the reply; whether a reply is sent, and to whom, is
// decided by whoever commits the result.
package vacation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
	"lukechampine.com/blake3"
)

const Name = "vacation"

// ErrDuplicate is returned when a run queues a second vacation.
var ErrDuplicate = errors.New("vacation action already queued")

// Optional operand tags of VACATION.
const (
	optDays = interp.OptActionLast + iota
	optSubject
	optFrom
	optAddresses
	optMime
	optHandle
)

// Config bounds the :days argument.
type Config struct {
	MinDays     uint64
	MaxDays     uint64
	DefaultDays uint64
}

func DefaultConfig() Config {
	return Config{MinDays: 1, MaxDays: 60, DefaultDays: 7}
}

// Days applies the configured bounds; zero selects the default.
func (c Config) Days(n uint64) uint64 {
	if n == 0 {
		n = c.DefaultDays
	}
	if n < c.MinDays {
		n = c.MinDays
	}
	if c.MaxDays > 0 && n > c.MaxDays {
		n = c.MaxDays
	}
	return n
}

// Context is the context of a vacation action.
type Context struct {
	Reason    string
	Days      uint64
	Subject   string
	From      string
	Addresses []string
	Mime      bool
	// Handle identifies the reply for duplicate tracking.
	Handle string
}

var ActionVacation = &interp.ActionDef{
	Name: "vacation",
	Describe: func(ctx any) string {
		c, ok := ctx.(*Context)
		if !ok {
			return ""
		}
		return fmt.Sprintf("days %d subject %s", c.Days, strconv.Quote(c.Subject))
	},
}

// Register adds the extension with the default configuration.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	return New(DefaultConfig())(reg, cmds)
}

// New returns a register function bounding :days by cfg.
func New(cfg Config) func(*interp.Registry, *codegen.Commands) error {
	if cfg.DefaultDays == 0 {
		cfg.DefaultDays = DefaultConfig().DefaultDays
	}
	if cfg.MinDays == 0 {
		cfg.MinDays = 1
	}
	op := &interp.Operation{
		Mnemonic: "VACATION",
		Code:     0,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			if err := d.DumpOperand(pos, "reason"); err != nil {
				return err
			}
			return d.DumpOptionals(pos, interp.MergeOptionalNames(interp.SideEffectOptionalNames, map[uint64]string{
				optDays:      "days",
				optSubject:   "subject",
				optFrom:      "from",
				optAddresses: "addresses",
				optMime:      "mime",
				optHandle:    "handle",
			}))
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			return execute(rt, pos, cfg)
		},
	}
	return func(reg *interp.Registry, cmds *codegen.Commands) error {
		if _, err := reg.RegisterExtension(&interp.ExtensionDef{
			Name:       Name,
			Version:    1,
			Operations: []*interp.Operation{op},
		}); err != nil {
			return err
		}
		return cmds.Register(&codegen.CommandDef{
			Name:       "vacation",
			Extensions: []string{Name},
			Generate:   generator(op),
		})
	}
}

// DefaultSubject is the subject of a reply to a message with subject.
func DefaultSubject(subject string) string {
	base := helpers.BaseSubject(subject)
	if base == "" {
		return "Automated reply"
	}
	return "Auto: " + base
}

// DefaultHandle derives a handle from the arguments that shape the reply,
// so changing the reason starts a new round of replies.
func DefaultHandle(c *Context) string {
	h := blake3.New(16, nil)
	for _, s := range []string{c.Reason, c.Subject, c.From, strings.Join(c.Addresses, ","), strconv.FormatBool(c.Mime)} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func execute(rt *interp.Runtime, pos *bytecode.Address, cfg Config) (interp.Step, error) {
	reason, err := rt.ReadString(pos)
	if err != nil {
		return interp.Step{}, err
	}
	opts, err := rt.ReadOptionals(pos, interp.OptSideEffect, optDays, optSubject, optFrom, optAddresses, optMime, optHandle)
	if err != nil {
		return interp.Step{}, err
	}
	effects, err := rt.SideEffects(opts, ActionVacation)
	if err != nil {
		return interp.Step{}, err
	}

	ctx := &Context{Reason: reason}
	var days uint64
	var explicitSubject bool
	for _, opt := range opts {
		switch opt.Tag {
		case optDays:
			if days, err = rt.NumberValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
		case optSubject:
			if ctx.Subject, err = rt.StringValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
			explicitSubject = true
		case optFrom:
			if ctx.From, err = rt.StringValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
			if !helpers.ValidAddress(ctx.From) {
				return interp.Step{}, fmt.Errorf("vacation: invalid :from address %q", ctx.From)
			}
		case optAddresses:
			list, err := rt.StringListValue(opt.Operand)
			if err != nil {
				return interp.Step{}, err
			}
			if ctx.Addresses, err = list.All(); err != nil {
				return interp.Step{}, err
			}
		case optMime:
			ctx.Mime = true
		case optHandle:
			if ctx.Handle, err = rt.StringValue(opt.Operand); err != nil {
				return interp.Step{}, err
			}
		}
	}
	ctx.Days = cfg.Days(days)
	if ctx.Handle == "" {
		ctx.Handle = DefaultHandle(ctx)
	}
	if !explicitSubject {
		var original string
		if values := rt.HeaderValues("subject"); len(values) > 0 {
			original = values[0]
		}
		ctx.Subject = DefaultSubject(original)
	}

	if rt.Result.Has(ActionVacation) {
		return interp.Step{}, ErrDuplicate
	}
	rt.AppendAction(ActionVacation, ctx, effects)
	return interp.Continue(), nil
}
