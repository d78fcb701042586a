package workers

import (
	"context"
	"log"

	"github.com/riverdb/nodecache/backingstore"
	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/cachelock"
	"github.com/riverdb/nodecache/container"
	"github.com/riverdb/nodecache/metrics"
)

// DowngradeRequest asks the worker to downgrade a writable entry back to
// read-only, typically because another node needs read access to the same
// object.
type DowngradeRequest struct {
	Key        string
	HasWaiters bool
}

// DowngradeWorker is the symmetric counterpart of EvictWorker: it drives
// CachedWrite entries through (writeback and SetNotModified if dirty) ->
// SetEvictingDowngrade -> SetEvictedDowngrade, or
// SetEvictedDowngradeImmediate when the caller knows nothing is blocked on
// the entry.
type DowngradeWorker struct {
	objects  *container.Cache[string, []byte]
	store    backingstore.ObjectStore
	requests chan DowngradeRequest
}

// NewDowngradeWorker builds a DowngradeWorker.
func NewDowngradeWorker(objects *container.Cache[string, []byte], store backingstore.ObjectStore) *DowngradeWorker {
	return &DowngradeWorker{
		objects:  objects,
		store:    store,
		requests: make(chan DowngradeRequest, 256),
	}
}

// Enqueue submits a downgrade request, returning false if the worker's
// queue is saturated.
func (w *DowngradeWorker) Enqueue(req DowngradeRequest) bool {
	select {
	case w.requests <- req:
		return true
	default:
		return false
	}
}

// Run processes downgrade requests until ctx is done.
func (w *DowngradeWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.handle(ctx, req)
		}
	}
}

func (w *DowngradeWorker) handle(ctx context.Context, req DowngradeRequest) {
	entry, lock, ok := w.objects.GetOrFetch(ctx, req.Key, container.ObjectFamily)
	if !ok {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	if req.HasWaiters {
		if err := w.downgradeGraceful(ctx, entry, lock); err != nil {
			log.Printf("workers: graceful downgrade of %s failed: %v", req.Key, err)
		}
		return
	}

	if err := entry.SetEvictedDowngradeImmediate(lock); err != nil {
		log.Printf("workers: immediate downgrade of %s failed: %v", req.Key, err)
		return
	}
	metrics.Transitions.WithLabelValues("SetEvictedDowngradeImmediate", "object").Inc()
}

// downgradeGraceful requires lock already held. A CachedDirty entry must be
// flushed back to CachedWrite before SetEvictingDowngrade will accept it —
// the transition table has no CachedDirty -> EvictingDowngrade edge.
func (w *DowngradeWorker) downgradeGraceful(ctx context.Context, entry *cache.Entry[string, []byte], lock *cachelock.Lock) error {
	if entry.Modified(lock) {
		if err := flushAndClear(ctx, w.store, entry, lock); err != nil {
			return err
		}
	}

	if err := entry.SetEvictingDowngrade(lock); err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues("SetEvictingDowngrade", "object").Inc()

	if err := entry.SetEvictedDowngrade(lock); err != nil {
		return err
	}
	metrics.Transitions.WithLabelValues("SetEvictedDowngrade", "object").Inc()
	return nil
}
