package interp

import (
	"fmt"
	"io"
)

// ActionDef is an action kind. Kinds are compared by identity.
type ActionDef struct {
	Name string
	// Final marks actions that decide where the message goes: keep,
	// discard, fileinto and redirect. Choosing between several of them is
	// left to whoever commits the result.
	Final bool
	// Describe renders an action context for traces and listings.
	Describe func(ctx any) string
}

// Action is a pending action.
type Action struct {
	Def         *ActionDef
	Context     any
	SideEffects []SideEffect
	// Line is the source line of the command that queued the action.
	Line int

	prev, next *Action
	removed    bool
}

func (a *Action) Kind() string { return a.Def.Name }

// SideEffect returns the attached side effect with the given name.
func (a *Action) SideEffect(name string) (SideEffect, bool) {
	for _, se := range a.SideEffects {
		if se.Def.Name == name {
			return se, true
		}
	}
	return SideEffect{}, false
}

func (a *Action) String() string {
	s := a.Def.Name
	if a.Def.Describe != nil {
		if desc := a.Def.Describe(a.Context); desc != "" {
			s += " " + desc
		}
	}
	if len(a.SideEffects) > 0 {
		s += " [" + describeSideEffects(a.SideEffects) + "]"
	}
	return s
}

// Result is the ordered queue of pending actions of one run.
type Result struct {
	head, tail *Action
	n          int
}

func NewResult() *Result { return &Result{} }

// Append queues an action at the end.
func (r *Result) Append(def *ActionDef, ctx any, effects []SideEffect, line int) *Action {
	a := &Action{Def: def, Context: ctx, SideEffects: effects, Line: line, prev: r.tail}
	if r.tail != nil {
		r.tail.next = a
	} else {
		r.head = a
	}
	r.tail = a
	r.n++
	return a
}

// Len returns the number of pending actions.
func (r *Result) Len() int { return r.n }

// Actions returns the pending actions in order.
func (r *Result) Actions() []*Action {
	out := make([]*Action, 0, r.n)
	for a := r.head; a != nil; a = a.next {
		out = append(out, a)
	}
	return out
}

// FindKind returns the pending actions of the given kind, in order.
func (r *Result) FindKind(def *ActionDef) []*Action {
	var out []*Action
	for a := r.head; a != nil; a = a.next {
		if a.Def == def {
			out = append(out, a)
		}
	}
	return out
}

// Has reports whether an action of the given kind is pending.
func (r *Result) Has(def *ActionDef) bool {
	for a := r.head; a != nil; a = a.next {
		if a.Def == def {
			return true
		}
	}
	return false
}

// Remove takes an action out of the queue. It reports false if the action
// was already removed.
func (r *Result) Remove(a *Action) bool {
	if a == nil || a.removed {
		return false
	}
	if a.prev != nil {
		a.prev.next = a.next
	} else {
		r.head = a.next
	}
	if a.next != nil {
		a.next.prev = a.prev
	} else {
		r.tail = a.prev
	}
	// a.next stays intact so an iterator positioned on a can move on.
	a.removed = true
	r.n--
	return true
}

// Reset drops every pending action.
func (r *Result) Reset() {
	for a := r.head; a != nil; a = a.next {
		a.removed = true
	}
	r.head, r.tail, r.n = nil, nil, 0
}

// Iterate returns a cursor over the queue in insertion order.
func (r *Result) Iterate() *ResultIterator {
	return &ResultIterator{result: r}
}

// Print writes one line per pending action.
func (r *Result) Print(w io.Writer) error {
	for i, a := range r.Actions() {
		if _, err := fmt.Fprintf(w, "%d: %s\n", i+1, a); err != nil {
			return err
		}
	}
	return nil
}

// ResultIterator walks a Result. Delete removes the action Next returned
// last without disturbing the walk.
type ResultIterator struct {
	result  *Result
	pos     *Action
	last    *Action
	started bool
}

// Next returns the next pending action.
func (it *ResultIterator) Next() (*Action, bool) {
	var a *Action
	switch {
	case !it.started:
		a = it.result.head
		it.started = true
	case it.pos != nil:
		a = it.pos.next
	}
	for a != nil && a.removed {
		a = a.next
	}
	it.pos, it.last = a, a
	return a, a != nil
}

// Delete removes the action last returned by Next.
func (it *ResultIterator) Delete() bool {
	if it.last == nil {
		return false
	}
	ok := it.result.Remove(it.last)
	it.last = nil
	return ok
}
