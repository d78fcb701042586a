// Package workers runs the background goroutine pools that drive entries
// through the complementary halves of the state machine transaction code
// never performs itself: fetching from the backing store, flushing dirty
// entries, evicting idle entries, and completing downgrades. Each worker
// owns a ticker-and-ctx.Done loop in the style the rest of the fleet uses
// for its periodic background jobs.
package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/riverdb/nodecache/backingstore"
	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/container"
	"github.com/riverdb/nodecache/metrics"
)

// FetchRequest describes one pending fetch: an entry sitting in
// FetchingRead, FetchingWrite or FetchingUpgrade, waiting for its value to
// arrive.
type FetchRequest struct {
	Key       string
	Family    container.LockFamily
	ForWrite  bool
	Sentinel  string
	HasBinder bool
}

// FetchWorker pulls fetch requests off a channel, rate limits them per the
// configured budget, loads the value from the backing store, and drives
// the entry's SetCachedRead/SetCachedWrite/SetUpgraded transition.
type FetchWorker struct {
	objects  *container.Cache[string, []byte]
	store    backingstore.ObjectStore
	limiter  *rate.Limiter
	requests chan FetchRequest
}

// NewFetchWorker builds a FetchWorker with a token-bucket rate limit of
// ratePerSec fetches per second and the given burst.
func NewFetchWorker(objects *container.Cache[string, []byte], store backingstore.ObjectStore, ratePerSec float64, burst int) *FetchWorker {
	return &FetchWorker{
		objects:  objects,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		requests: make(chan FetchRequest, 256),
	}
}

// Enqueue submits a fetch request. It never blocks the caller beyond the
// request channel's buffer; a full buffer means the worker is saturated and
// the caller should treat the entry as still FetchingRead/FetchingWrite.
func (w *FetchWorker) Enqueue(req FetchRequest) bool {
	select {
	case w.requests <- req:
		return true
	default:
		return false
	}
}

// Run processes fetch requests until ctx is done.
func (w *FetchWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.handle(ctx, req)
		}
	}
}

func (w *FetchWorker) handle(ctx context.Context, req FetchRequest) {
	entry, lock, ok := w.objects.GetOrFetch(ctx, req.Key, req.Family)
	if !ok {
		return
	}

	start := time.Now()
	rec, err := w.store.Fetch(ctx, req.Key)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FetchDuration.WithLabelValues(req.Family.String(), outcome).Observe(time.Since(start).Seconds())

	lock.Lock()
	defer lock.Unlock()

	if err != nil {
		if errors.Is(err, backingstore.ErrNotFound) && req.HasBinder && req.Key == req.Sentinel {
			if abErr := entry.SetEvictedAbandonFetching(lock, req.Sentinel); abErr != nil {
				log.Printf("workers: abandon failed for sentinel key %s: %v", req.Key, abErr)
				metrics.InvalidTransitions.WithLabelValues("SetEvictedAbandonFetching", entry.State(lock).String()).Inc()
				return
			}
			metrics.EvictedEntries.WithLabelValues(req.Family.String(), "abandoned").Inc()
			return
		}
		log.Printf("workers: fetch failed for %s/%s: %v", req.Family, req.Key, err)
		return
	}

	payload := rec.Payload
	entry.SetValue(lock, &payload)

	var transErr error
	name := "SetCachedRead"
	if req.ForWrite {
		name = "SetCachedWrite"
		if entry.State(lock) == cache.FetchingUpgrade {
			name = "SetUpgraded"
			transErr = entry.SetUpgraded(lock)
		} else {
			transErr = entry.SetCachedWrite(lock)
		}
	} else {
		transErr = entry.SetCachedRead(lock)
	}

	if transErr != nil {
		log.Printf("workers: %s failed for %s/%s: %v", name, req.Family, req.Key, transErr)
		metrics.InvalidTransitions.WithLabelValues(name, entry.State(lock).String()).Inc()
		return
	}
	metrics.Transitions.WithLabelValues(name, req.Family.String()).Inc()
}
