// Package subaddress implements RFC 5233: the :user and :detail address
// parts, splitting the local part at a configurable separator.
package subaddress

import (
	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "subaddress"

// DefaultSeparator separates user and detail when none is configured.
const DefaultSeparator = "+"

var Extension = &interp.ExtensionDef{Name: Name, Version: 1}

// Register adds the extension with the default separator.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	return WithSeparator(DefaultSeparator)(reg, cmds)
}

// WithSeparator returns a register function using separator.
func WithSeparator(separator string) func(*interp.Registry, *codegen.Commands) error {
	if separator == "" {
		separator = DefaultSeparator
	}
	return func(reg *interp.Registry, cmds *codegen.Commands) error {
		ext, err := reg.RegisterExtension(Extension)
		if err != nil {
			return err
		}
		if err := reg.RegisterObject(ext, &interp.AddressPartDef{
			ObjectDef: interp.ObjectDef{Class: interp.ClassAddressPart, Name: "user", Code: 0},
			Extract: func(addr string) (string, bool) {
				local, _, _ := helpers.SplitAddress(addr)
				user, _, _ := helpers.SplitDetail(local, separator)
				return user, true
			},
		}); err != nil {
			return err
		}
		return reg.RegisterObject(ext, &interp.AddressPartDef{
			ObjectDef: interp.ObjectDef{Class: interp.ClassAddressPart, Name: "detail", Code: 1},
			// Without a separator there is no detail and the address never
			// matches.
			Extract: func(addr string) (string, bool) {
				local, _, _ := helpers.SplitAddress(addr)
				_, detail, ok := helpers.SplitDetail(local, separator)
				return detail, ok
			},
		})
	}
}
