package workers

import (
	"context"
	"testing"
	"time"

	"github.com/riverdb/nodecache/cache"
	"github.com/riverdb/nodecache/container"
)

func TestDowngradeWorkerGracefulFlushesDirtyThenDowngrades(t *testing.T) {
	objects := container.New[string, []byte](0)
	store := newFakeStore()

	lock := objects.LockFor("obj-1", container.ObjectFamily)
	lock.Lock()
	entry := cache.New[string, []byte]("obj-1", 0, cache.CachedWrite)
	value := []byte("writer-value")
	entry.SetValue(lock, &value)
	if err := entry.SetCachedDirty(lock); err != nil {
		t.Fatalf("SetCachedDirty: %v", err)
	}
	lock.Unlock()
	objects.Put("obj-1", container.ObjectFamily, entry)

	w := NewDowngradeWorker(objects, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(DowngradeRequest{Key: "obj-1", HasWaiters: true})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lock.Lock()
		state := entry.State(lock)
		lock.Unlock()
		if state == cache.CachedRead {
			store.mu.Lock()
			got := store.records["obj-1"]
			store.mu.Unlock()
			if string(got) != "writer-value" {
				t.Fatalf("flushed record = %q, want writer-value", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("entry never settled at CachedRead after graceful downgrade")
}

func TestDowngradeWorkerImmediateSkipsFlush(t *testing.T) {
	objects := container.New[string, []byte](0)
	store := newFakeStore()

	lock := objects.LockFor("obj-1", container.ObjectFamily)
	lock.Lock()
	entry := cache.New[string, []byte]("obj-1", 0, cache.CachedWrite)
	lock.Unlock()
	objects.Put("obj-1", container.ObjectFamily, entry)

	w := NewDowngradeWorker(objects, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(DowngradeRequest{Key: "obj-1", HasWaiters: false})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lock.Lock()
		state := entry.State(lock)
		lock.Unlock()
		if state == cache.CachedRead {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("entry never reached CachedRead via immediate downgrade")
}
