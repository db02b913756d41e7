package commands

import (
	"strings"

	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/ast"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

// AddressHeaders are the fields the address test accepts.
var AddressHeaders = []string{
	"from", "to", "cc", "bcc", "sender", "reply-to",
	"resent-from", "resent-to", "resent-cc", "resent-bcc", "resent-sender",
	"return-path", "delivered-to", "errors-to", "disposition-notification-to",
}

var (
	OperationAddress = &interp.Operation{
		Mnemonic: "ADDRESS",
		Code:     interp.OpAddress,
		Dump:     dumpHeaderTest,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			return matchHeaders(rt, pos, helpers.ParseAddresses)
		},
	}
	OperationHeader = &interp.Operation{
		Mnemonic: "HEADER",
		Code:     interp.OpHeader,
		Dump:     dumpHeaderTest,
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			return matchHeaders(rt, pos, nil)
		},
	}
	OperationExists = &interp.Operation{
		Mnemonic: "EXISTS",
		Code:     interp.OpExists,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			return d.DumpOperand(pos, "header names")
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			names, err := rt.ReadStringList(pos)
			if err != nil {
				return interp.Step{}, err
			}
			all, err := names.All()
			if err != nil {
				return interp.Step{}, err
			}
			result := true
			for _, name := range all {
				if len(rt.HeaderValues(name)) == 0 {
					rt.Tracef(interp.TraceTests, "header %q missing", name)
					result = false
					break
				}
			}
			rt.SetTestResult(result)
			return interp.Continue(), nil
		},
	}
	OperationSizeOver  = sizeOperation("SIZEOVER", interp.OpSizeOver, true)
	OperationSizeUnder = sizeOperation("SIZEUNDER", interp.OpSizeUnder, false)
)

func sizeOperation(mnemonic string, code uint64, over bool) *interp.Operation {
	return &interp.Operation{
		Mnemonic: mnemonic,
		Code:     code,
		Dump: func(d *interp.Dumper, pos *bytecode.Address) error {
			return d.DumpOperand(pos, "limit")
		},
		Execute: func(rt *interp.Runtime, pos *bytecode.Address) (interp.Step, error) {
			limit, err := rt.ReadNumber(pos)
			if err != nil {
				return interp.Step{}, err
			}
			size := uint64(rt.MessageSize())
			if over {
				rt.SetTestResult(size > limit)
			} else {
				rt.SetTestResult(size < limit)
			}
			rt.Tracef(interp.TraceTests, "size %d against %d", size, limit)
			return interp.Continue(), nil
		},
	}
}

func dumpHeaderTest(d *interp.Dumper, pos *bytecode.Address) error {
	if err := d.DumpOperand(pos, "header names"); err != nil {
		return err
	}
	if err := d.DumpOperand(pos, "key list"); err != nil {
		return err
	}
	return d.DumpOptionals(pos, interp.MatchOptionalNames)
}

// MatchHeaderValues runs a match over the values of the named headers.
// split, when set, turns one field value into the values to compare.
func MatchHeaderValues(rt *interp.Runtime, mc *interp.MatchContext, names []string, split func(string) []string) (bool, error) {
	for _, name := range names {
		for _, value := range rt.HeaderValues(name) {
			values := []string{value}
			if split != nil {
				values = split(value)
			}
			done, err := mc.FeedAll(values)
			if err != nil {
				return false, err
			}
			if done {
				return mc.End()
			}
		}
	}
	return mc.End()
}

func matchHeaders(rt *interp.Runtime, pos *bytecode.Address, split func(string) []string) (interp.Step, error) {
	names, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	keys, err := rt.ReadStringList(pos)
	if err != nil {
		return interp.Step{}, err
	}
	opts, err := rt.ReadOptionals(pos, interp.OptComparator, interp.OptAddressPart, interp.OptMatchType)
	if err != nil {
		return interp.Step{}, err
	}
	spec, err := rt.MatchSpec(opts, "")
	if err != nil {
		return interp.Step{}, err
	}
	headers, err := names.All()
	if err != nil {
		return interp.Step{}, err
	}
	mc, err := rt.BeginMatch(spec, keys)
	if err != nil {
		return interp.Step{}, err
	}
	ok, err := MatchHeaderValues(rt, mc, headers, split)
	if err != nil {
		return interp.Step{}, err
	}
	rt.SetTestResult(ok)
	return interp.Continue(), nil
}

var (
	headerSignature = codegen.Signature{
		Match:      true,
		Positional: []codegen.ArgKind{codegen.ArgStringList, codegen.ArgStringList},
	}
	addressSignature = codegen.Signature{
		Match:        true,
		AddressParts: true,
		Positional:   []codegen.ArgKind{codegen.ArgStringList, codegen.ArgStringList},
	}
	sizeSignature = codegen.Signature{
		Tags: []codegen.TagSpec{
			{Name: "over", Param: codegen.ArgNumber, Group: "limit"},
			{Name: "under", Param: codegen.ArgNumber, Group: "limit"},
		},
	}
)

// EmitMatchTest emits the common tail of tests shaped like header: two
// string lists and the match optionals.
func EmitMatchTest(g *codegen.Generator, a *codegen.Args) error {
	if err := g.CheckKeys(a, a.Positional[1]); err != nil {
		return err
	}
	if err := g.EmitStringList(a.Positional[0]); err != nil {
		return err
	}
	if err := g.EmitStringList(a.Positional[1]); err != nil {
		return err
	}
	opts := g.BeginOptionals()
	g.EmitMatchOptionals(opts, a)
	opts.End()
	return nil
}

func generateHeader(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, headerSignature)
	if err != nil {
		return err
	}
	g.EmitOperation(nil, OperationHeader)
	return EmitMatchTest(g, a)
}

func generateAddress(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, addressSignature)
	if err != nil {
		return err
	}
	if err := checkAddressHeaders(a.Positional[0]); err != nil {
		return err
	}
	g.EmitOperation(nil, OperationAddress)
	return EmitMatchTest(g, a)
}

func checkAddressHeaders(arg ast.Argument) error {
	names, _ := ast.Strings(arg)
	for _, name := range names {
		if strings.Contains(name, "${") {
			continue
		}
		if !IsAddressHeader(name) {
			return codegen.Errorf(arg.Pos(), "address: %q is not an address header", name)
		}
	}
	return nil
}

// IsAddressHeader reports whether the field holds addresses.
func IsAddressHeader(name string) bool {
	name = strings.ToLower(name)
	for _, h := range AddressHeaders {
		if h == name {
			return true
		}
	}
	return false
}

func generateExists(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, codegen.Signature{
		Positional: []codegen.ArgKind{codegen.ArgStringList},
	})
	if err != nil {
		return err
	}
	g.EmitOperation(nil, OperationExists)
	return g.EmitStringList(a.Positional[0])
}

func generateSize(g *codegen.Generator, test *ast.Test) error {
	a, err := g.ParseArgs(test.Name, test.Line, test.Args, sizeSignature)
	if err != nil {
		return err
	}
	which, ok := a.Group(sizeSignature, "limit")
	if !ok {
		return codegen.Errorf(test.Line, "size needs :over or :under")
	}
	op := OperationSizeOver
	if which == "under" {
		op = OperationSizeUnder
	}
	limit, _ := a.Tag(which)
	g.EmitOperation(nil, op)
	return g.EmitNumber(limit)
}
