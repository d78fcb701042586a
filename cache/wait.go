package cache

import (
	"context"
	"time"

	"github.com/riverdb/nodecache/cachelock"
)

// AccessResult is the outcome of AwaitWritable: the access mode the caller
// ended up with once the wait resolved.
type AccessResult int

const (
	// AccessWritable means the entry settled in a writable state.
	AccessWritable AccessResult = iota
	// AccessReadable means the entry settled in CachedRead: readable but
	// not writable, and no upgrade is in flight.
	AccessReadable
	// AccessDecached means the entry was evicted while waiting.
	AccessDecached
)

func (r AccessResult) String() string {
	switch r {
	case AccessWritable:
		return "WRITABLE"
	case AccessReadable:
		return "READABLE"
	case AccessDecached:
		return "DECACHED"
	default:
		return "UNKNOWN"
	}
}

// maxAwaitWritableIterations bounds AwaitWritable's retry loop. Exceeding
// it means an upstream coordinator is flipping an entry between upgrading
// and downgrading forever, a logic bug severe enough to warrant crashing
// rather than spinning or returning a wrong answer.
const maxAwaitWritableIterations = 1000

// wait blocks the calling goroutine, which must already hold lock, until
// satisfied() returns true, ctx is done, or deadline passes. It always
// returns with lock held. satisfied is re-evaluated under the lock after
// every wake-up; spurious wake-ups are expected, not merely tolerated.
func wait(ctx context.Context, lock *cachelock.Lock, deadline time.Time, identity string, satisfied func() bool) error {
	lock.MustHold()
	if satisfied() {
		return nil
	}
	start := time.Now()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{ElapsedMS: time.Since(start).Milliseconds(), EntryKey: identity}
		}

		ch := lock.Chan()
		lock.Unlock()
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			lock.Lock()
		case <-timer.C:
			lock.Lock()
		case <-ctx.Done():
			timer.Stop()
			lock.Lock()
			return &InterruptedError{EntryKey: identity}
		}

		if satisfied() {
			return nil
		}
	}
}

// Await blocks until every bit in mask is set in the current state, the
// context is cancelled, or deadline passes.
func (e *Entry[K, V]) Await(ctx context.Context, lock *cachelock.Lock, mask State, deadline time.Time) error {
	lock.MustHold()
	return wait(ctx, lock, deadline, e.identity(), func() bool { return e.state.has(mask) })
}

// AwaitNot blocks until every bit in mask is clear in the current state,
// the context is cancelled, or deadline passes.
func (e *Entry[K, V]) AwaitNot(ctx context.Context, lock *cachelock.Lock, mask State, deadline time.Time) error {
	lock.MustHold()
	return wait(ctx, lock, deadline, e.identity(), func() bool { return e.state&mask == 0 })
}

// AwaitReadable blocks until the entry is readable or has left the cache
// without ever becoming readable, returning true in the former case.
func (e *Entry[K, V]) AwaitReadable(ctx context.Context, lock *cachelock.Lock, deadline time.Time) (bool, error) {
	lock.MustHold()

	if e.state.IsReadable() {
		return true, nil
	}
	if e.state.IsReading() {
		if err := e.AwaitNot(ctx, lock, Reading, deadline); err != nil {
			return false, err
		}
		return e.state.IsReadable(), nil
	}
	if e.state.IsDecaching() {
		if err := e.Await(ctx, lock, NotCached, deadline); err != nil {
			return false, err
		}
		return false, nil
	}
	// Only Decached remains.
	return false, nil
}

// AwaitWritable blocks until the entry is writable, settles as read-only
// with no upgrade pending, or leaves the cache, retrying through
// in-progress upgrade/downgrade/fetch transitions as they resolve.
func (e *Entry[K, V]) AwaitWritable(ctx context.Context, lock *cachelock.Lock, deadline time.Time) (AccessResult, error) {
	lock.MustHold()

	for i := 0; i < maxAwaitWritableIterations; i++ {
		switch {
		case e.state.IsWritable():
			return AccessWritable, nil
		case e.state.IsUpgrading():
			if err := e.AwaitNot(ctx, lock, Upgrading, deadline); err != nil {
				return 0, err
			}
		case e.state.IsDowngrading():
			if err := e.AwaitNot(ctx, lock, Downgrading, deadline); err != nil {
				return 0, err
			}
		case e.state == CachedRead:
			return AccessReadable, nil
		case e.state.IsReading():
			if err := e.AwaitNot(ctx, lock, Reading, deadline); err != nil {
				return 0, err
			}
		case e.state.IsDecaching():
			if err := e.AwaitDecached(ctx, lock, deadline); err != nil {
				return 0, err
			}
			return AccessDecached, nil
		default: // must be Decached
			return AccessDecached, nil
		}
	}
	panic("cache: AwaitWritable exceeded 1000 iterations, entry is oscillating between upgrading and downgrading")
}

// AwaitDecached blocks until the entry reaches Decached. It requires the
// current state already be Decached, EvictingRead, or EvictingWrite.
func (e *Entry[K, V]) AwaitDecached(ctx context.Context, lock *cachelock.Lock, deadline time.Time) error {
	lock.MustHold()
	if e.state.IsDecached() {
		return nil
	}
	if e.state != EvictingRead && e.state != EvictingWrite {
		return &InvalidStateError{Op: "AwaitDecached", Expected: []State{EvictingRead, EvictingWrite, Decached}, Actual: e.state}
	}
	return e.Await(ctx, lock, NotCached, deadline)
}

// AwaitNotUpgrading blocks until the Upgrading bit clears. It requires the
// current state already be FetchingUpgrade or FetchingWrite.
func (e *Entry[K, V]) AwaitNotUpgrading(ctx context.Context, lock *cachelock.Lock, deadline time.Time) error {
	lock.MustHold()
	if e.state != FetchingUpgrade && e.state != FetchingWrite {
		return &InvalidStateError{Op: "AwaitNotUpgrading", Expected: []State{FetchingUpgrade, FetchingWrite}, Actual: e.state}
	}
	return e.AwaitNot(ctx, lock, Upgrading, deadline)
}
