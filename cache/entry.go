package cache

import (
	"fmt"

	"github.com/riverdb/nodecache/cachelock"
)

// Entry is the cached image of one key: its most recently fetched value,
// the lifecycle state governing whether that value is usable, and the
// highest transaction context ID that has touched it. One Entry exists per
// cached key for the lifetime between a cache miss and eviction.
//
// Entry holds no lock of its own. Every method below except reading Key
// requires the caller to already hold the *cachelock.Lock passed in —
// object entries and binding entries are protected by distinct lock pools
// supplied by the cache container, never by Entry itself.
type Entry[K comparable, V any] struct {
	// Key is immutable after construction and safe to read without a lock.
	Key K

	value     *V
	state     State
	contextID int64
}

// New constructs an entry in one of the four valid initial states
// (FetchingRead, FetchingWrite, CachedRead, CachedWrite). The constructor
// does not validate which initial state the caller picked.
func New[K comparable, V any](key K, contextID int64, initial State) *Entry[K, V] {
	return &Entry[K, V]{Key: key, state: initial, contextID: contextID}
}

func (e *Entry[K, V]) identity() string {
	return fmt.Sprintf("%v", e.Key)
}

func (e *Entry[K, V]) transition(lock *cachelock.Lock, op string, from []State, to State) error {
	lock.MustHold()
	for _, s := range from {
		if e.state == s {
			e.state = to
			lock.Broadcast()
			return nil
		}
	}
	return &InvalidStateError{Op: op, Expected: from, Actual: e.state}
}

// SetCachedRead transitions FetchingRead -> CachedRead.
func (e *Entry[K, V]) SetCachedRead(lock *cachelock.Lock) error {
	return e.transition(lock, "SetCachedRead", []State{FetchingRead}, CachedRead)
}

// SetCachedWrite transitions FetchingWrite -> CachedWrite.
func (e *Entry[K, V]) SetCachedWrite(lock *cachelock.Lock) error {
	return e.transition(lock, "SetCachedWrite", []State{FetchingWrite}, CachedWrite)
}

// SetUpgraded transitions FetchingUpgrade -> CachedWrite.
func (e *Entry[K, V]) SetUpgraded(lock *cachelock.Lock) error {
	return e.transition(lock, "SetUpgraded", []State{FetchingUpgrade}, CachedWrite)
}

// SetFetchingUpgrade transitions CachedRead -> FetchingUpgrade.
func (e *Entry[K, V]) SetFetchingUpgrade(lock *cachelock.Lock) error {
	return e.transition(lock, "SetFetchingUpgrade", []State{CachedRead}, FetchingUpgrade)
}

// SetUpgradedImmediate transitions CachedRead -> CachedWrite synchronously,
// used when a neighboring binding was removed and no fetch round-trip is
// needed.
func (e *Entry[K, V]) SetUpgradedImmediate(lock *cachelock.Lock) error {
	return e.transition(lock, "SetUpgradedImmediate", []State{CachedRead}, CachedWrite)
}

// SetCachedDirty transitions CachedWrite -> CachedDirty. Calling this twice
// without an intervening SetNotModified fails on the second call, since
// CachedDirty is not itself in the precondition.
func (e *Entry[K, V]) SetCachedDirty(lock *cachelock.Lock) error {
	return e.transition(lock, "SetCachedDirty", []State{CachedWrite}, CachedDirty)
}

// SetNotModified transitions CachedDirty -> CachedWrite, at transaction
// commit or abort after the dirty value has been flushed.
func (e *Entry[K, V]) SetNotModified(lock *cachelock.Lock) error {
	return e.transition(lock, "SetNotModified", []State{CachedDirty}, CachedWrite)
}

// SetEvictingDowngrade transitions CachedWrite -> EvictingDowngrade.
func (e *Entry[K, V]) SetEvictingDowngrade(lock *cachelock.Lock) error {
	return e.transition(lock, "SetEvictingDowngrade", []State{CachedWrite}, EvictingDowngrade)
}

// SetEvictedDowngrade transitions EvictingDowngrade -> CachedRead.
func (e *Entry[K, V]) SetEvictedDowngrade(lock *cachelock.Lock) error {
	return e.transition(lock, "SetEvictedDowngrade", []State{EvictingDowngrade}, CachedRead)
}

// SetEvictedDowngradeImmediate transitions CachedWrite -> CachedRead
// synchronously, used when the entry is known not to be in use.
func (e *Entry[K, V]) SetEvictedDowngradeImmediate(lock *cachelock.Lock) error {
	return e.transition(lock, "SetEvictedDowngradeImmediate", []State{CachedWrite}, CachedRead)
}

// SetEvicting transitions CachedRead -> EvictingRead or CachedWrite ->
// EvictingWrite; the destination is chosen by the source.
func (e *Entry[K, V]) SetEvicting(lock *cachelock.Lock) error {
	lock.MustHold()
	switch e.state {
	case CachedRead:
		e.state = EvictingRead
	case CachedWrite:
		e.state = EvictingWrite
	default:
		return &InvalidStateError{Op: "SetEvicting", Expected: []State{CachedRead, CachedWrite}, Actual: e.state}
	}
	lock.Broadcast()
	return nil
}

// SetEvicted transitions EvictingRead or EvictingWrite -> Decached.
func (e *Entry[K, V]) SetEvicted(lock *cachelock.Lock) error {
	return e.transition(lock, "SetEvicted", []State{EvictingRead, EvictingWrite}, Decached)
}

// SetEvictedImmediate transitions CachedRead or CachedWrite -> Decached
// synchronously, used when the entry is known not to be in use.
func (e *Entry[K, V]) SetEvictedImmediate(lock *cachelock.Lock) error {
	return e.transition(lock, "SetEvictedImmediate", []State{CachedRead, CachedWrite}, Decached)
}

// SetEvictedAbandonFetching transitions FetchingRead or FetchingWrite ->
// Decached, used only when the fetch yielded no useful information and Key
// equals the sentinel "last binding" key supplied by the container.
func (e *Entry[K, V]) SetEvictedAbandonFetching(lock *cachelock.Lock, sentinelLastBindingKey K) error {
	lock.MustHold()
	if e.Key != sentinelLastBindingKey {
		return &InvalidStateError{Op: "SetEvictedAbandonFetching", Expected: []State{FetchingRead, FetchingWrite}, Actual: e.state}
	}
	return e.transition(lock, "SetEvictedAbandonFetching", []State{FetchingRead, FetchingWrite}, Decached)
}

// Reading reports whether a fetch for read is in progress.
func (e *Entry[K, V]) Reading(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsReading()
}

// Upgrading reports whether a transition to writable is in progress.
func (e *Entry[K, V]) Upgrading(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsUpgrading()
}

// Downgrading reports whether a transition away from writable is in
// progress.
func (e *Entry[K, V]) Downgrading(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsDowngrading()
}

// Decaching reports whether eviction is in progress.
func (e *Entry[K, V]) Decaching(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsDecaching()
}

// Readable reports whether the value may be read.
func (e *Entry[K, V]) Readable(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsReadable()
}

// Writable reports whether the value may be written.
func (e *Entry[K, V]) Writable(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsWritable()
}

// Modified reports whether the local value diverges from the backing
// store.
func (e *Entry[K, V]) Modified(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsModified()
}

// Decached reports whether the entry has reached its terminal state.
func (e *Entry[K, V]) Decached(lock *cachelock.Lock) bool {
	lock.MustHold()
	return e.state.IsDecached()
}

// State returns the current lifecycle state.
func (e *Entry[K, V]) State(lock *cachelock.Lock) State {
	lock.MustHold()
	return e.state
}

// Value returns the cached value. The caller must not rely on it being
// non-nil unless Readable(lock) is true.
func (e *Entry[K, V]) Value(lock *cachelock.Lock) *V {
	lock.MustHold()
	return e.value
}

// SetValue replaces the cached value.
func (e *Entry[K, V]) SetValue(lock *cachelock.Lock, v *V) {
	lock.MustHold()
	e.value = v
}

// ContextID returns the highest transaction context ID seen by this entry.
func (e *Entry[K, V]) ContextID(lock *cachelock.Lock) int64 {
	lock.MustHold()
	return e.contextID
}

// NoteAccess records that a transaction with the given context ID touched
// this entry, advancing ContextID if c is higher than what is recorded.
func (e *Entry[K, V]) NoteAccess(lock *cachelock.Lock, c int64) {
	lock.MustHold()
	if c > e.contextID {
		e.contextID = c
	}
}
