package flurry

import (
	"iter"
	"sync"

	"github.com/sochaos/flurry/epoch"
)

const shardCount = 32

type (
	// node owns the stored element. A removed node keeps its value
	// intact until the collector decides no guard can still reach it,
	// at which point the value is zeroed.
	node[T any] struct {
		value T
	}

	shard[T comparable] struct {
		mu sync.RWMutex
		m  map[T]*node[T]
	}

	// HashSet - a concurrent unordered set, striped across locked
	// shards. Every access goes through a reclamation guard obtained
	// from the set's collector, either directly or via a pinned
	// SetRef view.
	HashSet[T comparable] struct {
		strategy  Strategy[T]
		collector *epoch.Collector
		shards    []shard[T]
	}

	config[T comparable] struct {
		strategy  Strategy[T]
		collector *epoch.Collector
		capacity  int
	}

	Option[T comparable] func(*config[T])
)

// WithStrategy replaces the default runtime-hash strategy.
func WithStrategy[T comparable](strategy Strategy[T]) Option[T] {
	return func(cfg *config[T]) {
		cfg.strategy = strategy
	}
}

// WithCapacity pre-sizes the set for at least n elements.
func WithCapacity[T comparable](n int) Option[T] {
	return func(cfg *config[T]) {
		cfg.capacity = n
	}
}

// WithCollector makes the set share an existing collector, so a single
// guard can cover operations on several sets.
func WithCollector[T comparable](c *epoch.Collector) Option[T] {
	return func(cfg *config[T]) {
		cfg.collector = c
	}
}

func NewHashSet[T comparable](opts ...Option[T]) *HashSet[T] {
	cfg := config[T]{
		strategy:  DefaultStrategy[T](),
		collector: epoch.NewCollector(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	s := &HashSet[T]{
		strategy:  cfg.strategy,
		collector: cfg.collector,
		shards:    make([]shard[T], shardCount),
	}
	perShard := cfg.capacity / shardCount
	for i := range s.shards {
		s.shards[i].m = make(map[T]*node[T], perShard)
	}
	return s
}

// Guard pins the calling goroutine against the set's collector. The
// caller owns the guard and must Release it; prefer Pin, which bundles
// the guard into a view that releases it for you.
func (s *HashSet[T]) Guard() *epoch.Guard {
	return s.collector.Pin()
}

// Collector exposes the set's collector, for sharing guards across sets
// built with WithCollector.
func (s *HashSet[T]) Collector() *epoch.Collector {
	return s.collector
}

// Contains reports whether an element equal to item is present.
func (s *HashSet[T]) Contains(item T, g *epoch.Guard) bool {
	s.check(g)
	sh := &s.shards[s.shardIdx(item)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, found := sh.m[item]
	return found
}

// Get returns a pointer to the stored element equal to item, or nil.
// The pointee stays intact only while g is held.
func (s *HashSet[T]) Get(item T, g *epoch.Guard) *T {
	s.check(g)
	sh := &s.shards[s.shardIdx(item)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if n, found := sh.m[item]; found {
		return &n.value
	}
	return nil
}

// Insert adds item if no equal element is present. On a duplicate the
// stored element is kept, the argument is dropped and false is
// returned; Insert never replaces an existing equal element.
func (s *HashSet[T]) Insert(item T, g *epoch.Guard) bool {
	s.check(g)
	sh := &s.shards[s.shardIdx(item)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, found := sh.m[item]; found {
		return false
	}
	sh.m[item] = &node[T]{value: item}
	return true
}

// Remove logically removes the element equal to item. Destruction of
// the node is deferred to the collector.
func (s *HashSet[T]) Remove(item T, g *epoch.Guard) bool {
	s.check(g)
	sh := &s.shards[s.shardIdx(item)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, found := sh.m[item]
	if !found {
		return false
	}
	delete(sh.m, item)
	s.retire(n)
	return true
}

// Take removes the element equal to item and returns a pointer to it,
// or nil if absent. The pointee stays intact while g is held even
// though the element is already gone from the set.
func (s *HashSet[T]) Take(item T, g *epoch.Guard) *T {
	s.check(g)
	sh := &s.shards[s.shardIdx(item)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, found := sh.m[item]
	if !found {
		return nil
	}
	delete(sh.m, item)
	s.retire(n)
	return &n.value
}

// ComputeIfPresent remaps the element equal to item. remap receives the
// current element; yielding (next, true) replaces it with next and a
// pointer to the stored replacement is returned, yielding (_, false)
// removes it and nil is returned. With no matching element remap is not
// invoked and nil is returned. A replacement equal to an element
// already in the set displaces that element. remap runs under shard
// locks and must not call back into the set.
func (s *HashSet[T]) ComputeIfPresent(item T, remap func(current T) (T, bool), g *epoch.Guard) *T {
	s.check(g)
	srcIdx := s.shardIdx(item)
	src := &s.shards[srcIdx]
	for {
		src.mu.Lock()
		n, found := src.m[item]
		if !found {
			src.mu.Unlock()
			return nil
		}

		next, keep := remap(n.value)
		if !keep {
			delete(src.m, item)
			s.retire(n)
			src.mu.Unlock()
			return nil
		}

		dstIdx := s.shardIdx(next)
		dst := &s.shards[dstIdx]
		if dst == src {
			delete(src.m, item)
			s.retire(n)
			if old, clash := src.m[next]; clash {
				s.retire(old)
			}
			nn := &node[T]{value: next}
			src.m[next] = nn
			src.mu.Unlock()
			return &nn.value
		}
		src.mu.Unlock()

		// The replacement lives in another shard: take both locks in
		// index order and re-verify the entry was not swapped out in
		// the window. If it was, start over against the new entry.
		lo, hi := src, dst
		if dstIdx < srcIdx {
			lo, hi = dst, src
		}
		lo.mu.Lock()
		hi.mu.Lock()
		if src.m[item] != n {
			hi.mu.Unlock()
			lo.mu.Unlock()
			continue
		}
		delete(src.m, item)
		s.retire(n)
		if old, clash := dst.m[next]; clash {
			s.retire(old)
		}
		nn := &node[T]{value: next}
		dst.m[next] = nn
		hi.mu.Unlock()
		lo.mu.Unlock()
		return &nn.value
	}
}

// Retain removes every element for which pred returns false. This is
// the cheap variant: it walks a weakly consistent snapshot and
// re-checks presence on removal, so under heavy concurrent mutation it
// may miss elements inserted mid-walk or remove a re-inserted equal
// element pred never saw. See RetainForce for the strict variant.
func (s *HashSet[T]) Retain(pred func(item T) bool, g *epoch.Guard) {
	s.check(g)
	for item := range s.Iter(g) {
		if !pred(item) {
			s.Remove(item, g)
		}
	}
}

// RetainForce removes every element for which pred returns false,
// holding each shard's write lock while filtering it, so every element
// present at call start is evaluated exactly once. pred must not call
// back into the set.
func (s *HashSet[T]) RetainForce(pred func(item T) bool, g *epoch.Guard) {
	s.check(g)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		var dropped []*node[T]
		for item, n := range sh.m {
			if !pred(item) {
				delete(sh.m, item)
				dropped = append(dropped, n)
			}
		}
		sh.mu.Unlock()
		s.retireAll(dropped)
	}
}

// Reserve grows the set's capacity for at least additional more
// elements. It never shrinks, and is not atomic with respect to
// concurrent growth driven by inserts on other goroutines.
func (s *HashSet[T]) Reserve(additional int, g *epoch.Guard) {
	s.check(g)
	if additional <= 0 {
		return
	}
	perShard := (additional + shardCount - 1) / shardCount
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		grown := make(map[T]*node[T], len(sh.m)+perShard)
		for item, n := range sh.m {
			grown[item] = n
		}
		sh.m = grown
		sh.mu.Unlock()
	}
}

// Clear logically removes all elements. Node destruction is deferred.
func (s *HashSet[T]) Clear(g *epoch.Guard) {
	s.check(g)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		dropped := make([]*node[T], 0, len(sh.m))
		for _, n := range sh.m {
			dropped = append(dropped, n)
		}
		sh.m = make(map[T]*node[T])
		sh.mu.Unlock()
		s.retireAll(dropped)
	}
}

// Len returns the number of elements. Best effort under concurrent
// mutation: shards are counted one at a time.
func (s *HashSet[T]) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.m)
		sh.mu.RUnlock()
	}
	return total
}

func (s *HashSet[T]) IsEmpty() bool {
	return s.Len() == 0
}

// Iter returns a lazy sequence over the elements in arbitrary order.
// The sequence is restartable and weakly consistent: each shard is
// snapshotted as the walk reaches it, so concurrent mutation may or may
// not be observed. Elements are yielded as owned copies.
func (s *HashSet[T]) Iter(g *epoch.Guard) iter.Seq[T] {
	s.check(g)
	return func(yield func(T) bool) {
		for i := range s.shards {
			sh := &s.shards[i]
			sh.mu.RLock()
			batch := make([]T, 0, len(sh.m))
			for item := range sh.m {
				batch = append(batch, item)
			}
			sh.mu.RUnlock()
			for _, item := range batch {
				if !yield(item) {
					return
				}
			}
		}
	}
}

// GuardedEq reports element-wise equality of two sets, each visited
// under its own guard.
func (s *HashSet[T]) GuardedEq(other *HashSet[T], g, otherGuard *epoch.Guard) bool {
	s.check(g)
	other.check(otherGuard)
	if s == other {
		return true
	}
	if s.Len() != other.Len() {
		return false
	}
	for item := range s.Iter(g) {
		if !other.Contains(item, otherGuard) {
			return false
		}
	}
	return true
}

func (s *HashSet[T]) shardIdx(item T) uint64 {
	return s.strategy.Hash(item) % shardCount
}

// check rejects guards this set's collector never pinned, and guards
// already released. Both are programmer errors, not runtime conditions.
func (s *HashSet[T]) check(g *epoch.Guard) {
	if g == nil {
		panic("flurry: nil guard")
	}
	if g.Collector() != s.collector {
		panic("flurry: guard was pinned by a different collector")
	}
	if !g.Active() {
		panic("flurry: use of a released guard")
	}
}

func (s *HashSet[T]) retire(n *node[T]) {
	s.collector.Retire(func() {
		n.value = getZero[T]()
	})
}

func (s *HashSet[T]) retireAll(nodes []*node[T]) {
	if len(nodes) == 0 {
		return
	}
	s.collector.Retire(func() {
		for _, n := range nodes {
			n.value = getZero[T]()
		}
	})
}

func getZero[T any]() T {
	var result T
	return result
}
