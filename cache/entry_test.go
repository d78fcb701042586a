package cache

import (
	"errors"
	"testing"

	"github.com/riverdb/nodecache/cachelock"
)

func lockedEntry[K comparable, V any](key K, contextID int64, initial State) (*Entry[K, V], *cachelock.Lock) {
	lock := cachelock.New()
	lock.Lock()
	return New[K, V](key, contextID, initial), lock
}

func lockedEntryUnlocked() *cachelock.Lock {
	return cachelock.New()
}

func TestTransitionsHappyPath(t *testing.T) {
	e, lock := lockedEntry[string, int]("obj-1", 0, FetchingRead)
	defer lock.Unlock()

	if err := e.SetCachedRead(lock); err != nil {
		t.Fatalf("SetCachedRead: %v", err)
	}
	if got := e.State(lock); got != CachedRead {
		t.Fatalf("state after SetCachedRead = %s, want CACHED_READ", got)
	}

	if err := e.SetFetchingUpgrade(lock); err != nil {
		t.Fatalf("SetFetchingUpgrade: %v", err)
	}
	if err := e.SetUpgraded(lock); err != nil {
		t.Fatalf("SetUpgraded: %v", err)
	}
	if got := e.State(lock); got != CachedWrite {
		t.Fatalf("state after SetUpgraded = %s, want CACHED_WRITE", got)
	}

	if err := e.SetCachedDirty(lock); err != nil {
		t.Fatalf("SetCachedDirty: %v", err)
	}
	if !e.Modified(lock) {
		t.Fatal("expected Modified after SetCachedDirty")
	}

	if err := e.SetNotModified(lock); err != nil {
		t.Fatalf("SetNotModified: %v", err)
	}
	if e.Modified(lock) {
		t.Fatal("expected not Modified after SetNotModified")
	}

	if err := e.SetEvicting(lock); err != nil {
		t.Fatalf("SetEvicting: %v", err)
	}
	if got := e.State(lock); got != EvictingWrite {
		t.Fatalf("SetEvicting from CachedWrite = %s, want EVICTING_WRITE", got)
	}

	if err := e.SetEvicted(lock); err != nil {
		t.Fatalf("SetEvicted: %v", err)
	}
	if !e.Decached(lock) {
		t.Fatal("expected Decached as terminal state")
	}
}

func TestSetEvictingChoosesDestinationBySource(t *testing.T) {
	e, lock := lockedEntry[string, int]("obj-2", 0, CachedRead)
	defer lock.Unlock()

	if err := e.SetEvicting(lock); err != nil {
		t.Fatalf("SetEvicting: %v", err)
	}
	if got := e.State(lock); got != EvictingRead {
		t.Fatalf("SetEvicting from CachedRead = %s, want EVICTING_READ", got)
	}
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	e, lock := lockedEntry[string, int]("obj-3", 0, CachedRead)
	defer lock.Unlock()

	err := e.SetCachedDirty(lock)
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidStateError, got %v", err)
	}
	if got := e.State(lock); got != CachedRead {
		t.Fatalf("state mutated after failed transition: %s", got)
	}
}

func TestSetCachedDirtyTwiceFails(t *testing.T) {
	e, lock := lockedEntry[string, int]("obj-4", 0, CachedWrite)
	defer lock.Unlock()

	if err := e.SetCachedDirty(lock); err != nil {
		t.Fatalf("first SetCachedDirty: %v", err)
	}
	err := e.SetCachedDirty(lock)
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected second SetCachedDirty to fail with *InvalidStateError, got %v", err)
	}
}

func TestSetEvictedAbandonFetchingRequiresSentinel(t *testing.T) {
	e, lock := lockedEntry[string, int]("last-binding", 0, FetchingWrite)
	defer lock.Unlock()

	if err := e.SetEvictedAbandonFetching(lock, "last-binding"); err != nil {
		t.Fatalf("SetEvictedAbandonFetching with sentinel: %v", err)
	}
	if !e.Decached(lock) {
		t.Fatal("expected Decached after SetEvictedAbandonFetching")
	}

	e2, lock2 := lockedEntry[string, int]("ordinary-key", 0, FetchingWrite)
	defer lock2.Unlock()
	err := e2.SetEvictedAbandonFetching(lock2, "last-binding")
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidStateError for non-sentinel key, got %v", err)
	}
}

func TestMustHoldPanicsWithoutLock(t *testing.T) {
	lock := cachelock.New()
	e := New[string, int]("obj-5", 0, CachedRead)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling a state method without holding the lock")
		}
	}()
	e.State(lock)
}

func TestNoteAccessIsMonotone(t *testing.T) {
	e, lock := lockedEntry[string, int]("obj-6", 10, CachedRead)
	defer lock.Unlock()

	e.NoteAccess(lock, 5)
	e.NoteAccess(lock, 20)
	e.NoteAccess(lock, 15)

	if got := e.ContextID(lock); got != 20 {
		t.Fatalf("ContextID = %d, want 20", got)
	}
}

func TestValueUndefinedUntilReadable(t *testing.T) {
	e, lock := lockedEntry[string, string]("obj-7", 0, FetchingRead)
	defer lock.Unlock()

	if v := e.Value(lock); v != nil {
		t.Fatalf("expected nil value before fetch completes, got %v", *v)
	}

	fetched := "payload"
	e.SetValue(lock, &fetched)
	if err := e.SetCachedRead(lock); err != nil {
		t.Fatalf("SetCachedRead: %v", err)
	}
	if v := e.Value(lock); v == nil || *v != "payload" {
		t.Fatalf("expected readable value %q, got %v", "payload", v)
	}
}
