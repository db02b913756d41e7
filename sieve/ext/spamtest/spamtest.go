// Package spamtest implements RFC 5235: the spamtest test, its :percent form
// from spamtestplus, and virustest. Scores come from headers added by the
// filters that ran before delivery.
package spamtest

import (
	"math"
	"strconv"
	"strings"

	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const (
	SpamtestName     = "spamtest"
	SpamtestPlusName = "spamtestplus"
	VirustestName    = "virustest"
)

const optPercent = interp.OptMatchLast

// Config tells where the scores are found.
type Config struct {
	// SpamHeader holds a numeric spam score, such as X-Spam-Score.
	SpamHeader string
	// SpamThreshold is the score that counts as certainly spam: 10 for
	// spamtest, 100 with :percent.
	SpamThreshold float64
	// VirusHeader holds a virus verdict from 1 (clean) to 5 (infected).
	VirusHeader string
}

// DefaultConfig reads the SpamAssassin style score header.
func DefaultConfig() Config {
	return Config{
		SpamHeader:    "X-Spam-Score",
		SpamThreshold: 10,
		VirusHeader:   "X-Virus-Score",
	}
}

// Register adds the three extensions with the default configuration.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	return New(DefaultConfig())(reg, cmds)
}

// New returns a register function reading scores as cfg says.
func New(cfg Config) func(*interp.Registry, *codegen.Commands) error {
	if cfg.SpamThreshold <= 0 {
		cfg.SpamThreshold = DefaultConfig().SpamThreshold
	}
	spam := &interp.Operation{
		Mnemonic: "SPAMTEST",
		Code:     0,
		Dump:     dump,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			return execute(rt, pos, func(percent bool) string {
				return SpamValue(rt.HeaderValues(cfg.SpamHeader), cfg.SpamThreshold, percent)
			})
		},
	}
	virus := &interp.Operation{
		Mnemonic: "VIRUSTEST",
		Code:     0,
		Dump:     dump,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			return execute(rt, pos, func(bool) string {
				return VirusValue(rt.HeaderValues(cfg.VirusHeader))
			})
		},
	}

	return func(reg *interp.Registry, cmds *codegen.Commands) error {
		defs := []*interp.ExtensionDef{
			{Name: SpamtestName, Version: 1, Operations: []*interp.Operation{spam}},
			{Name: SpamtestPlusName, Version: 1, Operations: []*interp.Operation{spam}},
			{Name: VirustestName, Version: 1, Operations: []*interp.Operation{virus}},
		}
		for _, def := range defs {
			if _, err := reg.RegisterExtension(def); err != nil {
				return err
			}
		}
		if err := cmds.Register(&codegen.CommandDef{
			Name:         "spamtest",
			Extensions:   []string{SpamtestName, SpamtestPlusName},
			Test:         true,
			GenerateTest: generator(spam),
		}); err != nil {
			return err
		}
		return cmds.Register(&codegen.CommandDef{
			Name:         "virustest",
			Extensions:   []string{VirustestName},
			Test:         true,
			GenerateTest: generator(virus),
		})
	}
}

// SpamValue turns the first parsable score into the spamtest value: "0"
// when the message was not tested, otherwise 1 to 10, or 0 to 100 with
// percent.
func SpamValue(headers []string, threshold float64, percent bool) string {
	score, ok := firstScore(headers)
	if !ok {
		return "0"
	}
	ratio := math.Max(0, math.Min(1, score/threshold))
	if percent {
		return strconv.Itoa(int(math.Round(ratio * 100)))
	}
	return strconv.Itoa(1 + int(math.Round(ratio*9)))
}

// VirusValue returns the virustest value: "0" when untested, otherwise the
// verdict clamped to 1..5.
func VirusValue(headers []string) string {
	score, ok := firstScore(headers)
	if !ok {
		return "0"
	}
	v := int(math.Round(score))
	if v < 1 {
		v = 1
	}
	if v > 5 {
		v = 5
	}
	return strconv.Itoa(v)
}

// firstScore parses the leading number of the first header holding one,
// so "5.2 / 5.0" and "5.2 (spam)" both give 5.2.
func firstScore(headers []string) (float64, bool) {
	for _, h := range headers {
		field := strings.Fields(strings.TrimSpace(h))
		if len(field) == 0 {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSuffix(field[0], ","), 64); err == nil && !math.IsNaN(v) {
			return v, true
		}
	}
	return 0, false
}

func dump(d *interp.Dumper, pos *bytecode.Address) error {
	if err := d.DumpOperand(pos, "value"); err != nil {
		return err
	}
	return d.DumpOptionals(pos, interp.MergeOptionalNames(interp.MatchOptionalNames,
		map[uint64]string{optPercent: "percent"}))
}

func execute(rt *interp.Runtime, pos *bytecode.Address, value func(percent bool) string) (interp.Step, error) {
	keys, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	opts, err := rt.ReadOptionals(pos, interp.OptComparator, interp.OptMatchType, optPercent)
	if err != nil {
		return interp.Step{}, err
	}
	spec, err := rt.MatchSpec(opts, "")
	if err != nil {
		return interp.Step{}, err
	}
	v := value(opts.Has(optPercent))
	rt.Tracef(interp.TraceTests, "%s value %s", rt.Op().Def.Mnemonic, v)

	mc, err := rt.BeginMatch(spec, keys)
	if err != nil {
		return interp.Step{}, err
	}
	if _, err := mc.Feed(v); err != nil {
		return interp.Step{}, err
	}
	ok, err := mc.End()
	if err != nil {
		return interp.Step{}, err
	}
	rt.SetTestResult(ok)
	return interp.Continue(), nil
}

func generator(op *interp.Operation) func(g *codegen.Generator, test *ast.Test) error {
	return func(g *codegen.Generator, test *ast.Test) error {
		sig := codegen.Signature{
			Match:      true,
			Positional: []codegen.ArgKind{codegen.ArgStringList},
		}
		if op.Mnemonic == "SPAMTEST" {
			sig.Tags = []codegen.TagSpec{{Name: "percent"}}
		}
		a, err := g.ParseArgs(test.Name, test.Line, test.Args, sig)
		if err != nil {
			return err
		}
		if a.Has("percent") && !g.Required(SpamtestPlusName) {
			return codegen.Errorf(test.Line, "spamtest: :percent needs %q", SpamtestPlusName)
		}
		if err := g.CheckKeys(a, a.Positional[0]); err != nil {
			return err
		}

		name := VirustestName
		if op.Mnemonic == "SPAMTEST" {
			name = SpamtestName
			if g.Required(SpamtestPlusName) {
				name = SpamtestPlusName
			}
		}
		ext, _ := g.Extension(name)
		g.EmitOperation(ext, op)
		if err := g.EmitStringList(a.Positional[0]); err != nil {
			return err
		}
		opts := g.BeginOptionals()
		g.EmitMatchOptionals(opts, a)
		if a.Has("percent") {
			opts.Tag(optPercent)
			g.Code().EmitNumberOperand(1)
		}
		opts.End()
		return nil
	}
}
