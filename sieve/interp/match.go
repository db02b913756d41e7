package interp

import (
	"fmt"
)

// MatchResult is the outcome of feeding one value to a match.
type MatchResult int

const (
	MatchNo MatchResult = iota
	MatchYes
	// MatchNeedMore is returned by aggregate match types, which decide only
	// once every value has been seen.
	MatchNeedMore
)

func (m MatchResult) String() string {
	switch m {
	case MatchYes:
		return "yes"
	case MatchNo:
		return "no"
	default:
		return "need-more"
	}
}

// StringIterator yields strings in order and can start over.
type StringIterator interface {
	Next() (string, bool, error)
	Reset()
}

type sliceIterator struct {
	items []string
	i     int
}

// Strings returns an iterator over fixed strings.
func Strings(items ...string) StringIterator {
	return &sliceIterator{items: items}
}

func (s *sliceIterator) Next() (string, bool, error) {
	if s.i >= len(s.items) {
		return "", false, nil
	}
	s.i++
	return s.items[s.i-1], true, nil
}

func (s *sliceIterator) Reset() { s.i = 0 }

// MatchContext evaluates one test: a match type, a comparator, an optional
// address part and the keys, fed with candidate values one at a time.
type MatchContext struct {
	Type        *MatchTypeDef
	Comparator  *ComparatorDef
	AddressPart *AddressPartDef
	Keys        StringIterator
	// Values counts the values fed so far, after address part projection.
	Values int
	// State is private to the match type.
	State any

	matched bool
}

// BeginMatch starts a match. ap may be nil.
func BeginMatch(mt *MatchTypeDef, cmp *ComparatorDef, ap *AddressPartDef, keys StringIterator) (*MatchContext, error) {
	if mt == nil || cmp == nil || keys == nil {
		return nil, fmt.Errorf("incomplete match: %w", ErrMatch)
	}
	if mt.Substring && cmp.Fold == nil {
		return nil, fmt.Errorf("comparator %q does not support :%s: %w", cmp.Name, mt.Name, ErrMatch)
	}
	if mt.Aggregate && mt.End == nil {
		return nil, fmt.Errorf("match type %q has no end: %w", mt.Name, ErrMatch)
	}
	return &MatchContext{Type: mt, Comparator: cmp, AddressPart: ap, Keys: keys}, nil
}

// Feed evaluates one candidate value. Once a value matched, further values
// are not looked at.
func (mc *MatchContext) Feed(value string) (MatchResult, error) {
	if mc.matched {
		return MatchYes, nil
	}
	if mc.AddressPart != nil {
		part, ok := mc.AddressPart.Extract(value)
		if !ok {
			return MatchNo, nil
		}
		value = part
	}
	mc.Values++
	if mc.Type.Aggregate {
		return MatchNeedMore, nil
	}
	ok, err := mc.EachKey(func(key string) (bool, error) {
		return mc.Type.Match(mc, value, key)
	})
	if err != nil {
		return MatchNo, err
	}
	if ok {
		mc.matched = true
		return MatchYes, nil
	}
	return MatchNo, nil
}

// FeedAll feeds values until one matches. It reports whether the match is
// already decided.
func (mc *MatchContext) FeedAll(values []string) (bool, error) {
	for _, v := range values {
		res, err := mc.Feed(v)
		if err != nil {
			return false, err
		}
		if res == MatchYes {
			return true, nil
		}
	}
	return false, nil
}

// End returns the final result.
func (mc *MatchContext) End() (bool, error) {
	if mc.Type.Aggregate {
		return mc.Type.End(mc)
	}
	return mc.matched, nil
}

// EachKey calls fn for every key from the start until fn reports true.
func (mc *MatchContext) EachKey(fn func(key string) (bool, error)) (bool, error) {
	mc.Keys.Reset()
	for {
		key, ok, err := mc.Keys.Next()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		matched, err := fn(key)
		if err != nil || matched {
			return matched, err
		}
	}
}

// MatchValues is a convenience running a whole match over values.
func MatchValues(mt *MatchTypeDef, cmp *ComparatorDef, ap *AddressPartDef, keys StringIterator, values []string) (bool, error) {
	mc, err := BeginMatch(mt, cmp, ap, keys)
	if err != nil {
		return false, err
	}
	if _, err := mc.FeedAll(values); err != nil {
		return false, err
	}
	return mc.End()
}
