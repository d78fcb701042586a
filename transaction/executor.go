// Package transaction wraps the container and entry APIs into the
// Read/Write/Commit/Abort surface a transaction coordinator drives. It
// owns no state machine logic of its own: every transition it performs is
// one the cache package already defines, it just sequences wait-then-touch
// calls in the order a transactional access pattern requires.
package transaction

import (
	"context"
	"time"

	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/cachelock"
	"github.com/riverdb/nodecache/container"
	"github.com/riverdb/nodecache/metrics"
)

// Executor drives object-entry access for one transaction context. A new
// Executor is cheap to construct; it holds no per-call state beyond the
// contextID it stamps onto every entry it touches.
type Executor struct {
	objects   *container.Cache[string, []byte]
	contextID int64
}

// NewExecutor returns an Executor that will stamp contextID on every entry
// it accesses via NoteAccess. The container's eviction order does not read
// it; that order comes from the container's own LRU list.
func NewExecutor(objects *container.Cache[string, []byte], contextID int64) *Executor {
	return &Executor{objects: objects, contextID: contextID}
}

// Read waits for key to become readable and returns its current value. If
// no entry exists for key, Read returns ErrMiss so the caller can
// start a fetch and retry.
func (x *Executor) Read(ctx context.Context, key string, deadline time.Time) ([]byte, error) {
	entry, lock, ok := x.objects.GetOrFetch(ctx, key, container.ObjectFamily)
	if !ok {
		return nil, ErrMiss
	}

	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	readable, err := entry.AwaitReadable(ctx, lock, deadline)
	recordWait("AwaitReadable", start, err)
	if err != nil {
		return nil, err
	}
	if !readable {
		return nil, ErrEntryDecached
	}

	entry.NoteAccess(lock, x.contextID)
	v := entry.Value(lock)
	if v == nil {
		return nil, ErrEntryDecached
	}
	return *v, nil
}

// Write waits for key to become writable, records the access, and installs
// newValue. It returns the AccessResult so callers can distinguish a
// genuinely writable entry from one that settled for read-only or was
// decached out from under them.
func (x *Executor) Write(ctx context.Context, key string, newValue []byte, deadline time.Time) (cache.AccessResult, error) {
	entry, lock, ok := x.objects.GetOrFetch(ctx, key, container.ObjectFamily)
	if !ok {
		return 0, ErrMiss
	}

	lock.Lock()
	defer lock.Unlock()

	result, err := x.awaitWritableObserved(ctx, entry, lock, deadline)
	if err != nil {
		return result, err
	}
	entry.NoteAccess(lock, x.contextID)

	if result != cache.AccessWritable {
		return result, nil
	}

	entry.SetValue(lock, &newValue)
	if err := entry.SetCachedDirty(lock); err != nil {
		return result, err
	}
	metrics.Transitions.WithLabelValues("SetCachedDirty", "object").Inc()
	return result, nil
}

// Commit clears the Modified bit on key after its dirty value has been
// durably flushed elsewhere (by a worker, synchronously, or by the caller
// itself). It is a no-op if the entry is not currently CachedDirty.
func (x *Executor) Commit(ctx context.Context, key string) error {
	return x.clearModified(key)
}

// Abort is identical to Commit from the entry's point of view: both land
// back on CachedWrite via SetNotModified. The distinction between a
// committed and an aborted write lives in the transaction coordinator, not
// in the per-entry state machine.
func (x *Executor) Abort(ctx context.Context, key string) error {
	return x.clearModified(key)
}

func (x *Executor) clearModified(key string) error {
	entry, lock, ok := x.objects.GetOrFetch(context.Background(), key, container.ObjectFamily)
	if !ok {
		return ErrMiss
	}

	lock.Lock()
	defer lock.Unlock()

	if !entry.Modified(lock) {
		return nil
	}
	if err := entry.SetNotModified(lock); err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues("SetNotModified", "object").Inc()
	return nil
}

// awaitWritableObserved calls AwaitWritable with the lock already held. The
// 1000-iteration oscillation watchdog inside AwaitWritable is a deliberate
// fatal assertion, not a recoverable error: this only bumps the metric
// before letting the panic continue to unwind and take the process down,
// the same way a production node's crash-loop would still want the counter
// on record for whoever inspects it before the restart.
func (x *Executor) awaitWritableObserved(ctx context.Context, entry *cache.Entry[string, []byte], lock *cachelock.Lock, deadline time.Time) (result cache.AccessResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.WatchdogTrips.Inc()
			panic(r)
		}
		recordWait("AwaitWritable", start, err)
	}()
	result, err = entry.AwaitWritable(ctx, lock, deadline)
	return result, err
}

func recordWait(op string, start time.Time, err error) {
	outcome := "satisfied"
	switch {
	case err == nil:
	default:
		if _, ok := err.(*cache.TimeoutError); ok {
			outcome = "timeout"
		} else if _, ok := err.(*cache.InterruptedError); ok {
			outcome = "interrupted"
		} else {
			outcome = "error"
		}
	}
	metrics.WaitDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}
