package workers

import (
	"context"
	"log"
	"time"

	"github.com/riverdb/nodecache/backingstore"
	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/cachelock"
	"github.com/riverdb/nodecache/container"
	"github.com/riverdb/nodecache/metrics"
)

// EvictWorker periodically sweeps a container's least-recently-used object
// entries, driving each through (writeback and SetNotModified if dirty) ->
// SetEvicting -> SetEvicted, or SetEvictedImmediate when nothing is
// currently waiting on it.
type EvictWorker struct {
	objects    *container.Cache[string, []byte]
	store      backingstore.ObjectStore
	interval   time.Duration
	sweepSize  int
	hasWaiters func(key string) bool
}

// NewEvictWorker builds an EvictWorker that sweeps up to sweepSize
// candidates every interval. hasWaiters lets the caller plug in whatever
// bookkeeping it uses to know if a transaction is currently blocked on an
// entry (the container itself does not track waiter counts); a nil value
// means "assume always in use", the conservative default.
func NewEvictWorker(objects *container.Cache[string, []byte], store backingstore.ObjectStore, interval time.Duration, sweepSize int, hasWaiters func(key string) bool) *EvictWorker {
	if hasWaiters == nil {
		hasWaiters = func(string) bool { return true }
	}
	return &EvictWorker{
		objects:    objects,
		store:      store,
		interval:   interval,
		sweepSize:  sweepSize,
		hasWaiters: hasWaiters,
	}
}

// Run sweeps on a ticker until ctx is done.
func (w *EvictWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *EvictWorker) sweep(ctx context.Context) {
	metrics.ContainerSize.WithLabelValues("object").Set(float64(w.objects.Len(container.ObjectFamily)))

	if !w.objects.AtCapacity(container.ObjectFamily) {
		return
	}
	metrics.EvictionSweeps.Inc()

	for _, key := range w.objects.EvictionCandidates(container.ObjectFamily, w.sweepSize) {
		w.evictOne(ctx, key)
	}
}

func (w *EvictWorker) evictOne(ctx context.Context, key string) {
	entry, lock, ok := w.objects.GetOrFetch(ctx, key, container.ObjectFamily)
	if !ok {
		return
	}

	lock.Lock()
	var transitionErr error
	if w.hasWaiters(key) {
		transitionErr = w.evictGraceful(ctx, entry, lock)
	} else {
		if err := entry.SetEvictedImmediate(lock); err != nil {
			transitionErr = err
		} else {
			metrics.Transitions.WithLabelValues("SetEvictedImmediate", "object").Inc()
		}
	}
	if transitionErr != nil {
		log.Printf("workers: eviction of %s failed: %v", key, transitionErr)
	}
	decached := entry.Decached(lock)
	lock.Unlock()

	if decached {
		w.objects.Remove(key, container.ObjectFamily)
		metrics.EvictedEntries.WithLabelValues("object", "idle").Inc()
	}
}

// evictGraceful walks CachedRead/CachedWrite through SetEvicting, then
// SetEvicted. A CachedDirty entry has to be flushed back to CachedWrite
// first: SetEvicting has no CachedDirty source state. lock must already be
// held by the caller.
func (w *EvictWorker) evictGraceful(ctx context.Context, entry *cache.Entry[string, []byte], lock *cachelock.Lock) error {
	if entry.Modified(lock) {
		if err := flushAndClear(ctx, w.store, entry, lock); err != nil {
			return err
		}
	}

	if err := entry.SetEvicting(lock); err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues("SetEvicting", "object").Inc()

	if err := entry.SetEvicted(lock); err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues("SetEvicted", "object").Inc()
	return nil
}
