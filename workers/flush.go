package workers

import (
	"context"
	"time"

	"github.com/riverdb/nodecache/backingstore"
	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/cachelock"
	"github.com/riverdb/nodecache/metrics"
)

// flushAndClear writes back a CachedDirty entry's value and transitions it
// to CachedWrite via SetNotModified. lock must already be held; flushAndClear releases it
// for the duration of the store call and reacquires it before returning,
// same as AwaitWritable does around its own blocking wait.
func flushAndClear(ctx context.Context, store backingstore.ObjectStore, entry *cache.Entry[string, []byte], lock *cachelock.Lock) error {
	value := entry.Value(lock)
	key := entry.Key
	lock.Unlock()

	start := time.Now()
	err := store.Flush(ctx, key, &backingstore.ObjectRecord{Payload: *value})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FlushDuration.WithLabelValues("object", outcome).Observe(time.Since(start).Seconds())

	lock.Lock()
	if err != nil {
		return err
	}
	if sErr := entry.SetNotModified(lock); sErr != nil {
		return sErr
	}
	metrics.Transitions.WithLabelValues("SetNotModified", "object").Inc()
	return nil
}
