// Package regex adds the :regex match type. Keys are RE2 expressions;
// comparators that ignore case make the match case-insensitive.
package regex

import (
	"fmt"
	"regexp"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/sieve/interp"
)

const Name = "regex"

// MaxKeyLength bounds an expression in octets.
const MaxKeyLength = 1024

var Extension = &interp.ExtensionDef{Name: Name, Version: 1}

// Register adds the extension and its match type.
func Register(reg *interp.Registry, cmds *codegen.Commands) error {
	ext, err := reg.RegisterExtension(Extension)
	if err != nil {
		return err
	}
	return reg.RegisterObject(ext, &interp.MatchTypeDef{
		ObjectDef: interp.ObjectDef{Class: interp.ClassMatchType, Name: Name, Code: 0},
		Substring: true,
		Match:     match,
		CheckKey:  func(key string) error { _, err := compile(key, false); return err },
	})
}

func compile(key string, fold bool) (*regexp.Regexp, error) {
	if len(key) > MaxKeyLength {
		return nil, fmt.Errorf("expression longer than %d octets", MaxKeyLength)
	}
	if fold {
		key = "(?i)" + key
	}
	return regexp.Compile(key)
}

// match compiles every key once per match context.
func match(mc *interp.MatchContext, value, key string) (bool, error) {
	cache, _ := mc.State.(map[string]*regexp.Regexp)
	if cache == nil {
		cache = make(map[string]*regexp.Regexp)
		mc.State = cache
	}
	re, ok := cache[key]
	if !ok {
		var err error
		re, err = compile(key, mc.Comparator.CaseInsensitive)
		if err != nil {
			return false, fmt.Errorf("regex %q: %v: %w", key, err, interp.ErrMatch)
		}
		cache[key] = re
	}
	return re.MatchString(value), nil
}
