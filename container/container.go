// Package container implements the hash-indexed, LRU-tracked cache table
// that owns cache.Entry instances and the lock pools they are accessed
// through. It is the "cache container" collaborator the entry state
// machine assumes exists but never touches directly: Cache decides which
// lock protects a key, tracks recency for eviction, and removes entries
// once they reach cache.Decached. It does not itself know anything about
// state transitions.
package container

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/cachelock"
)

// LockFamily distinguishes the two independent lock pools the cache
// maintains: object entries and name-binding entries never contend with
// each other for a lock.
type LockFamily int

const (
	ObjectFamily LockFamily = iota
	BindingFamily
)

func (f LockFamily) String() string {
	if f == BindingFamily {
		return "binding"
	}
	return "object"
}

type record[K comparable, V any] struct {
	entry *cache.Entry[K, V]
	elem  *list.Element
}

type family[K comparable, V any] struct {
	mu       sync.RWMutex
	index    map[K]*record[K, V]
	lru      *list.List
	capacity int
}

func newFamily[K comparable, V any](capacity int) *family[K, V] {
	return &family[K, V]{
		index:    make(map[K]*record[K, V]),
		lru:      list.New(),
		capacity: capacity,
	}
}

// defaultStripes is the lock-pool width per family. It is not exposed as a
// knob: the container's concurrency story is "enough stripes that unrelated
// keys rarely collide", not a capacity-planning parameter callers should
// have to think about.
const defaultStripes = 64

// Cache is the node-local cache table. One Cache instance is shared by all
// transactions on a node; object entries and binding entries live in
// separate families so a hot binding key never contends with an unrelated
// object key.
type Cache[K comparable, V any] struct {
	stripes  int
	objLocks []*cachelock.Lock
	binLocks []*cachelock.Lock

	objects  *family[K, V]
	bindings *family[K, V]
}

// New creates a Cache with the given per-family capacity. A capacity of 0
// means unbounded; EvictionCandidates is then purely advisory and callers
// decide when to act on it.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	c := &Cache[K, V]{
		stripes:  defaultStripes,
		objLocks: make([]*cachelock.Lock, defaultStripes),
		binLocks: make([]*cachelock.Lock, defaultStripes),
		objects:  newFamily[K, V](capacity),
		bindings: newFamily[K, V](capacity),
	}
	for i := 0; i < defaultStripes; i++ {
		c.objLocks[i] = cachelock.New()
		c.binLocks[i] = cachelock.New()
	}
	return c
}

func stripeIndex(key any, stripes int) int {
	h := fnv.New32a()
	h.Write([]byte(keyBytes(key)))
	return int(h.Sum32() % uint32(stripes))
}

func keyBytes(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	if s, ok := key.(fmtStringer); ok {
		return s.String()
	}
	return fmt.Sprint(key)
}

type fmtStringer interface{ String() string }

func (c *Cache[K, V]) familyFor(fam LockFamily) *family[K, V] {
	if fam == BindingFamily {
		return c.bindings
	}
	return c.objects
}

// LockFor returns the stripe lock that must be held to touch the entry for
// key in the given family, whether or not the entry currently exists.
func (c *Cache[K, V]) LockFor(key K, fam LockFamily) *cachelock.Lock {
	idx := stripeIndex(key, c.stripes)
	if fam == BindingFamily {
		return c.binLocks[idx]
	}
	return c.objLocks[idx]
}

// GetOrFetch returns the entry for key in the given family and its lock,
// bumping the key's LRU recency, or ok=false if no entry is indexed for
// that key. ctx is accepted for symmetry with the rest of the fetch path
// (backingstore and workers both take one) but a pure index lookup never
// blocks, so it is never consulted. On a miss, the caller constructs a new
// entry in a Fetching* state under the returned lock and calls Put.
func (c *Cache[K, V]) GetOrFetch(ctx context.Context, key K, fam LockFamily) (entry *cache.Entry[K, V], lock *cachelock.Lock, ok bool) {
	_ = ctx
	f := c.familyFor(fam)
	lock = c.LockFor(key, fam)

	f.mu.Lock()
	rec, found := f.index[key]
	if found {
		f.lru.MoveToFront(rec.elem)
	}
	f.mu.Unlock()

	if !found {
		return nil, lock, false
	}
	return rec.entry, lock, true
}

// Put indexes entry under key in the given family, making it visible to
// future GetOrFetch calls and eligible for LRU eviction. The caller must hold the
// entry's lock while constructing it in a Fetching* state, but Put itself
// only touches the container's index, not the entry.
func (c *Cache[K, V]) Put(key K, fam LockFamily, entry *cache.Entry[K, V]) {
	f := c.familyFor(fam)

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.index[key]; ok {
		existing.entry = entry
		f.lru.MoveToFront(existing.elem)
		return
	}
	elem := f.lru.PushFront(key)
	f.index[key] = &record[K, V]{entry: entry, elem: elem}
}

// Remove drops key from the container's index. Callers invoke this after
// the entry has reached cache.Decached while still holding its lock, so no
// other goroutine can observe a decached entry that GetOrFetch still
// returns.
func (c *Cache[K, V]) Remove(key K, fam LockFamily) {
	f := c.familyFor(fam)

	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.index[key]
	if !ok {
		return
	}
	f.lru.Remove(rec.elem)
	delete(f.index, key)
}

// Len reports how many entries are currently indexed in the given family.
func (c *Cache[K, V]) Len(fam LockFamily) int {
	f := c.familyFor(fam)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.index)
}

// AtCapacity reports whether the given family has reached its configured
// capacity (always false for an unbounded family, capacity == 0). The
// eviction worker polls this to decide whether to sweep EvictionCandidates.
func (c *Cache[K, V]) AtCapacity(fam LockFamily) bool {
	f := c.familyFor(fam)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.capacity > 0 && len(f.index) >= f.capacity
}

// EvictionCandidates returns up to n of the least-recently-used keys in
// the given family, oldest first. It does not remove anything; the
// eviction worker is responsible for driving the state machine and calling
// Remove once an entry lands in cache.Decached.
func (c *Cache[K, V]) EvictionCandidates(fam LockFamily, n int) []K {
	f := c.familyFor(fam)
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]K, 0, n)
	for elem := f.lru.Back(); elem != nil && len(keys) < n; elem = elem.Prev() {
		keys = append(keys, elem.Value.(K))
	}
	return keys
}
