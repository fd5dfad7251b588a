// Package flurry provides a concurrent unordered set accessed through
// pinned views: a view bundles the set with a reclamation guard, so one
// protection episode covers any number of operations and every
// reference handed back stays valid for as long as the view's guard.
package flurry

import (
	"fmt"
	"iter"
	"strings"

	"github.com/sochaos/flurry/epoch"
)

type guardKind uint8

const (
	guardOwned guardKind = iota
	guardBorrowed
)

// guardRef tags the guard with its provenance; only the owned variant
// is released when the view is.
type guardRef struct {
	kind guardKind
	g    *epoch.Guard
}

// SetRef - a pinned view over a HashSet. For as long as it is held, the
// collection of garbage generated by the set is prevented. The guard
// variant is fixed at construction: a view built by Pin owns its guard
// and releases it in Release, a view built by WithGuard borrows the
// caller's guard and never releases it.
type SetRef[T comparable] struct {
	set   *HashSet[T]
	guard guardRef
}

// View is the operation surface of a pinned view.
type View[T comparable] interface {
	Contains(item T) bool
	Get(item T) *T
	Insert(item T) bool
	Remove(item T) bool
	Take(item T) *T
	ComputeIfPresent(item T, remap func(current T) (T, bool)) *T
	Retain(pred func(item T) bool)
	RetainForce(pred func(item T) bool)
	Reserve(additional int)
	Clear()
	Len() int
	IsEmpty() bool
	Iter() iter.Seq[T]
}

var _ View[int] = (*SetRef[int])(nil)

// Pin returns a view with the calling goroutine pinned. Keep in mind
// that holding it prevents the collection of garbage generated by the
// set; Release it when done.
func (s *HashSet[T]) Pin() *SetRef[T] {
	return &SetRef[T]{
		set:   s,
		guard: guardRef{kind: guardOwned, g: s.collector.Pin()},
	}
}

// WithGuard returns a view borrowing an existing guard. The caller
// keeps control of the guard's lifetime and must not release it before
// it is done with the view.
func (s *HashSet[T]) WithGuard(g *epoch.Guard) *SetRef[T] {
	return &SetRef[T]{
		set:   s,
		guard: guardRef{kind: guardBorrowed, g: g},
	}
}

// Release ends the view's protection episode. Owned guards are
// released (idempotently); for a borrowed guard this is a no-op, the
// caller releases it itself. No reference obtained through the view may
// be used once its backing guard is released.
func (r *SetRef[T]) Release() {
	if r.guard.kind == guardOwned {
		r.guard.g.Release()
	}
}

// Clone duplicates the view. A view owning its guard re-pins, so the
// clone carries a fresh guard and either copy can be released in any
// order without affecting the other. A borrowing view shares the
// borrowed guard, whose lifetime the caller already controls.
func (r *SetRef[T]) Clone() *SetRef[T] {
	if r.guard.kind == guardOwned {
		return r.set.Pin()
	}
	return &SetRef[T]{set: r.set, guard: r.guard}
}

// Guard exposes the view's guard, e.g. to build further borrowed views
// over sets sharing the same collector.
func (r *SetRef[T]) Guard() *epoch.Guard {
	return r.guard.g
}

// Set returns the underlying set.
func (r *SetRef[T]) Set() *HashSet[T] {
	return r.set
}

func (r *SetRef[T]) Contains(item T) bool {
	return r.set.Contains(item, r.guard.g)
}

func (r *SetRef[T]) Get(item T) *T {
	return r.set.Get(item, r.guard.g)
}

func (r *SetRef[T]) Insert(item T) bool {
	return r.set.Insert(item, r.guard.g)
}

func (r *SetRef[T]) Remove(item T) bool {
	return r.set.Remove(item, r.guard.g)
}

func (r *SetRef[T]) Take(item T) *T {
	return r.set.Take(item, r.guard.g)
}

func (r *SetRef[T]) ComputeIfPresent(item T, remap func(current T) (T, bool)) *T {
	return r.set.ComputeIfPresent(item, remap, r.guard.g)
}

// Retain - the weakly consistent filter. See HashSet.Retain.
func (r *SetRef[T]) Retain(pred func(item T) bool) {
	r.set.Retain(pred, r.guard.g)
}

// RetainForce - the strict filter. See HashSet.RetainForce.
func (r *SetRef[T]) RetainForce(pred func(item T) bool) {
	r.set.RetainForce(pred, r.guard.g)
}

func (r *SetRef[T]) Reserve(additional int) {
	r.set.Reserve(additional, r.guard.g)
}

func (r *SetRef[T]) Clear() {
	r.set.Clear(r.guard.g)
}

func (r *SetRef[T]) Len() int {
	return r.set.Len()
}

func (r *SetRef[T]) IsEmpty() bool {
	return r.set.IsEmpty()
}

func (r *SetRef[T]) Iter() iter.Seq[T] {
	return r.set.Iter(r.guard.g)
}

// Eq reports element-wise equality with another view, regardless of
// which guard variant each side holds.
func (r *SetRef[T]) Eq(other *SetRef[T]) bool {
	return r.set.GuardedEq(other.set, r.guard.g, other.guard.g)
}

// EqSet reports element-wise equality with a bare set, pinning it
// transiently for the comparison.
func (r *SetRef[T]) EqSet(other *HashSet[T]) bool {
	g := other.collector.Pin()
	defer g.Release()
	return r.set.GuardedEq(other, r.guard.g, g)
}

// String renders the view as a set of its elements, visited under the
// view's own guard. Element order is arbitrary.
func (r *SetRef[T]) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for item := range r.Iter() {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%v", item)
	}
	b.WriteByte('}')
	return b.String()
}
