// Package copyext implements the :copy side effect of RFC 3894. A fileinto or
// redirect carrying it does not cancel the implicit keep.
package copyext

import (
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "copy"

// SideEffectName is the name of the side effect, as seen on actions.
const SideEffectName = "copy"

var Extension = &interp.ExtensionDef{
	Name:    Name,
	Version: 1,
}

// Register adds the extension and its side effect. It has no commands of
// its own, so cmds is left alone.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	ext, err := reg.RegisterExtension(Extension)
	if err != nil {
		return err
	}
	return reg.RegisterObject(ext, &interp.SideEffectDef{
		ObjectDef: interp.ObjectDef{Class: interp.ClassSideEffect, Name: SideEffectName, Code: 0},
		Actions:   []string{"fileinto", "redirect"},
	})
}

// Has reports whether an action carries :copy.
func Has(a *interp.Action) bool {
	_, ok := a.SideEffect(SideEffectName)
	return ok
}
