package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/riverdb/nodecache/backingstore"
	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/container"
)

// fakeStore is a minimal in-memory backingstore.ObjectStore for driving
// the worker loops without a real Postgres connection.
type fakeStore struct {
	mu        sync.Mutex
	records   map[string][]byte
	failNames map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]byte), failNames: make(map[string]bool)}
}

func (s *fakeStore) Fetch(ctx context.Context, id string) (*backingstore.ObjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNames[id] {
		return nil, backingstore.ErrNotFound
	}
	payload, ok := s.records[id]
	if !ok {
		return nil, backingstore.ErrNotFound
	}
	return &backingstore.ObjectRecord{Payload: payload}, nil
}

func (s *fakeStore) Flush(ctx context.Context, id string, rec *backingstore.ObjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec.Payload
	return nil
}

func TestFetchWorkerPopulatesEntryOnSuccess(t *testing.T) {
	objects := container.New[string, []byte](0)
	store := newFakeStore()
	store.records["obj-1"] = []byte("hello")

	lock := objects.LockFor("obj-1", container.ObjectFamily)
	lock.Lock()
	entry := cache.New[string, []byte]("obj-1", 0, cache.FetchingRead)
	lock.Unlock()
	objects.Put("obj-1", container.ObjectFamily, entry)

	w := NewFetchWorker(objects, store, 1000, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if !w.Enqueue(FetchRequest{Key: "obj-1", Family: container.ObjectFamily}) {
		t.Fatal("Enqueue should have succeeded on an empty queue")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lock.Lock()
		state := entry.State(lock)
		lock.Unlock()
		if state == cache.CachedRead {
			lock.Lock()
			v := entry.Value(lock)
			lock.Unlock()
			if v == nil || string(*v) != "hello" {
				t.Fatalf("value = %v, want hello", v)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("entry never reached CachedRead within deadline")
}

func TestFetchWorkerAbandonsSentinelOnNotFound(t *testing.T) {
	objects := container.New[string, []byte](0)
	store := newFakeStore()
	store.failNames["__sentinel__"] = true

	lock := objects.LockFor("__sentinel__", container.BindingFamily)
	lock.Lock()
	entry := cache.New[string, []byte]("__sentinel__", 0, cache.FetchingWrite)
	lock.Unlock()
	objects.Put("__sentinel__", container.BindingFamily, entry)

	w := NewFetchWorker(objects, store, 1000, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(FetchRequest{
		Key: "__sentinel__", Family: container.BindingFamily,
		ForWrite: true, HasBinder: true, Sentinel: "__sentinel__",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lock.Lock()
		decached := entry.Decached(lock)
		lock.Unlock()
		if decached {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sentinel entry was never abandoned to Decached")
}
