package interp

import "strconv"

// KeepContext is the context of a keep action.
type KeepContext struct {
	Mailbox string
}

// RedirectContext is the context of a redirect action.
type RedirectContext struct {
	Address string
}

var (
	ActionKeep = &ActionDef{
		Name:  "keep",
		Final: true,
		Describe: func(ctx any) string {
			if k, ok := ctx.(*KeepContext); ok && k.Mailbox != "" {
				return "into " + strconv.Quote(k.Mailbox)
			}
			return ""
		},
	}
	ActionDiscard = &ActionDef{
		Name:  "discard",
		Final: true,
	}
	ActionRedirect = &ActionDef{
		Name:  "redirect",
		Final: true,
		Describe: func(ctx any) string {
			if r, ok := ctx.(*RedirectContext); ok {
				return "to " + strconv.Quote(r.Address)
			}
			return ""
		},
	}
)
