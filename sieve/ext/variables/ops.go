package variables

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const optModifiers uint64 = 1

var OperationSet = &interp.Operation{
	Mnemonic: "SET",
	Code:     0,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		if err := d.DumpOperand(pos, "variable"); err != nil {
			return err
		}
		if err := d.DumpOperand(pos, "value"); err != nil {
			return err
		}
		return d.DumpOptionals(pos, map[uint64]string{optModifiers: "modifiers"})
	},
	Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
		idx, err := rt.ReadNumber(pos)
		if err != nil {
			return interp.Step{}, err
		}
		value, err := rt.ReadString(pos)
		if err != nil {
			return interp.Step{}, err
		}
		opts, err := rt.ReadOptionals(pos, optModifiers)
		if err != nil {
			return interp.Step{}, err
		}
		if op, ok := opts.Get(optModifiers); ok {
			mods, err := rt.NumberValue(op)
			if err != nil {
				return interp.Step{}, err
			}
			value = ApplyModifiers(value, mods)
		}
		if err := Set(rt, idx, value); err != nil {
			return interp.Step{}, err
		}
		return interp.Continue(), nil
	},
}

var OperationString = &interp.Operation{
	Mnemonic: "STRING",
	Code:     1,
	Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
		if err := d.DumpOperand(pos, "source"); err != nil {
			return err
		}
		if err := d.DumpOperand(pos, "key list"); err != nil {
			return err
		}
		return d.DumpOptionals(pos, interp.MatchOptionalNames)
	},
	Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
		source, err := rt.ReadStringList(pos)
		if err != nil {
			return interp.Step{}, err
		}
		keys, err := rt.ReadStringList(pos)
		if err != nil {
			return interp.Step{}, err
		}
		opts, err := rt.ReadOptionals(pos, interp.OptComparator, interp.OptMatchType)
		if err != nil {
			return interp.Step{}, err
		}
		spec, err := rt.MatchSpec(opts, "")
		if err != nil {
			return interp.Step{}, err
		}
		values, err := source.All()
		if err != nil {
			return interp.Step{}, err
		}
		// Empty strings do not count for aggregate matches like :count.
		if spec.MatchType.Aggregate {
			kept := values[:0]
			for _, v := range values {
				if v != "" {
					kept = append(kept, v)
				}
			}
			values = kept
		}
		mc, err := rt.BeginMatch(spec, keys)
		if err != nil {
			return interp.Step{}, err
		}
		if _, err := mc.FeedAll(values); err != nil {
			return interp.Step{}, err
		}
		ok, err := mc.End()
		if err != nil {
			return interp.Step{}, err
		}
		rt.SetTestResult(ok)
		return interp.Continue(), nil
	},
}

// ApplyModifiers applies set modifiers in precedence order.
func ApplyModifiers(value string, mods uint64) string {
	switch {
	case mods&ModLower != 0:
		value = strings.ToLower(value)
	case mods&ModUpper != 0:
		value = strings.ToUpper(value)
	}
	switch {
	case mods&ModLowerFirst != 0:
		value = mapFirst(value, unicode.ToLower)
	case mods&ModUpperFirst != 0:
		value = mapFirst(value, unicode.ToUpper)
	}
	if mods&ModQuoteWildcard != 0 {
		var b strings.Builder
		for _, r := range value {
			if r == '*' || r == '?' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		value = b.String()
	}
	if mods&ModLength != 0 {
		value = strconv.Itoa(utf8.RuneCountInString(value))
	}
	return value
}

func mapFirst(s string, fn func(rune) rune) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(fn(r)) + s[size:]
}
