// Package cache implements the per-entry state machine and wait protocol of
// a node-local cache sitting in front of an authoritative backing store.
// Each Entry tracks a single key's fetch/read/write/eviction lifecycle; the
// package holds no lock of its own and touches no network or disk — every
// mutating or state-reading method requires the caller to already hold the
// entry's associated cachelock.Lock.
package cache

import "fmt"

// State is the ten-valued enumeration of an entry's lifecycle position,
// encoded as a bitmask of independent status flags so predicates reduce to
// bit tests. The numeric value of a State constant IS its bitmask — there
// is no separate lookup table, since every permitted state happens to be
// the union of zero or more flags below.
type State uint8

// Orthogonal status flags composing a State.
const (
	Reading     State = 0x01 // a fetch for read is in progress
	Readable    State = 0x02 // value may be read
	Upgrading   State = 0x04 // a transition to writable is in progress
	Writable    State = 0x08 // value may be written
	Modified    State = 0x10 // local value diverges from backing store
	Downgrading State = 0x20 // a transition away from writable is in progress
	Decaching   State = 0x40 // eviction is in progress
	NotCached   State = 0x80 // entry is gone from the cache
)

// The ten permitted states.
const (
	FetchingRead      = Reading
	CachedRead        = Readable
	FetchingUpgrade   = Readable | Upgrading
	FetchingWrite     = Reading | Upgrading
	CachedWrite       = Readable | Writable
	CachedDirty       = Readable | Writable | Modified
	EvictingDowngrade = Readable | Downgrading
	EvictingRead      = Decaching
	EvictingWrite     = Downgrading | Decaching
	Decached          = NotCached
)

var stateNames = map[State]string{
	FetchingRead:      "FETCHING_READ",
	CachedRead:        "CACHED_READ",
	FetchingUpgrade:   "FETCHING_UPGRADE",
	FetchingWrite:     "FETCHING_WRITE",
	CachedWrite:       "CACHED_WRITE",
	CachedDirty:       "CACHED_DIRTY",
	EvictingDowngrade: "EVICTING_DOWNGRADE",
	EvictingRead:      "EVICTING_READ",
	EvictingWrite:     "EVICTING_WRITE",
	Decached:          "DECACHED",
}

// String renders the canonical name of a state, or its raw bitmask if it is
// not one of the ten permitted values (which should never happen).
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("INVALID_STATE(0x%02x)", uint8(s))
}

func (s State) has(mask State) bool { return s&mask == mask }

// IsReading reports whether a fetch for read is in progress.
func (s State) IsReading() bool { return s.has(Reading) }

// IsReadable reports whether the value may be read.
func (s State) IsReadable() bool { return s.has(Readable) }

// IsUpgrading reports whether a transition to writable is in progress.
func (s State) IsUpgrading() bool { return s.has(Upgrading) }

// IsWritable reports whether the value may be written.
func (s State) IsWritable() bool { return s.has(Writable) }

// IsModified reports whether the local value diverges from the backing
// store.
func (s State) IsModified() bool { return s.has(Modified) }

// IsDowngrading reports whether a transition away from writable is in
// progress.
func (s State) IsDowngrading() bool { return s.has(Downgrading) }

// IsDecaching reports whether eviction is in progress.
func (s State) IsDecaching() bool { return s.has(Decaching) }

// IsDecached reports whether the entry has been fully removed from the
// cache. Unlike the other predicates this is an identity comparison, not a
// bitmask test, since NotCached has no other bits that could be set
// alongside it.
func (s State) IsDecached() bool { return s == Decached }
