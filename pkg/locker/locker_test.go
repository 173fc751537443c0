package locker

import (
	"context"
	"testing"
	"time"

	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/kvstore"
)

func TestExecutionLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	lock := NewExecutionLock(store, "run-1", 30*time.Minute, nil)
	if err := lock.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	if !lock.Held() {
		t.Fatal("lock should report held")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	if lock.Held() {
		t.Fatal("lock should report released")
	}

	// The key must be gone so the next run can start.
	if _, err := store.Get(ctx, kvstore.KeyExecutionLock); !kvstore.IsNotFound(err) {
		t.Fatalf("lock key should be deleted, got %v", err)
	}
}

func TestExecutionLock_Contention(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	first := NewExecutionLock(store, "run-1", 30*time.Minute, nil)
	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() = %v", err)
	}

	second := NewExecutionLock(store, "run-2", 30*time.Minute, nil)
	err := second.Acquire(ctx)
	if !errors.IsLockUnavailable(err) {
		t.Fatalf("second Acquire() = %v, want lock unavailable", err)
	}
	if second.Held() {
		t.Fatal("second lock must not report held")
	}

	// After release the lock is free again.
	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() after release = %v", err)
	}
}

func TestExecutionLock_StaleTakeover(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	now := time.Unix(10_000, 0)
	clock := func() time.Time { return now }
	store.SetClock(clock)

	crashed := NewExecutionLock(store, "crashed-run", 30*time.Minute, nil)
	crashed.now = clock
	if err := crashed.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Within maxHold the lock is respected.
	taker := NewExecutionLock(store, "new-run", 30*time.Minute, nil)
	taker.now = clock
	now = now.Add(29 * time.Minute)
	if err := taker.Acquire(ctx); !errors.IsLockUnavailable(err) {
		t.Fatalf("Acquire() within hold window = %v, want lock unavailable", err)
	}

	// Past maxHold the stale record is taken over.
	now = now.Add(2 * time.Minute)
	if err := taker.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() past hold window = %v", err)
	}
	if !taker.Held() {
		t.Fatal("takeover should hold the lock")
	}
}

func TestExecutionLock_ReleaseOnlyIfHolder(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	now := time.Unix(10_000, 0)
	clock := func() time.Time { return now }
	store.SetClock(clock)

	stale := NewExecutionLock(store, "stale-run", time.Minute, nil)
	stale.now = clock
	if err := stale.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	taker := NewExecutionLock(store, "live-run", time.Minute, nil)
	taker.now = clock
	if err := taker.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// The superseded run releasing must not clobber the new holder.
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release() = %v", err)
	}
	data, err := store.Get(ctx, kvstore.KeyExecutionLock)
	if err != nil {
		t.Fatalf("lock record should survive a stale release: %v", err)
	}
	if string(data) == "" {
		t.Fatal("lock record should be intact")
	}
}

func TestExecutionLock_DoubleReleaseIsNoop(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	lock := NewExecutionLock(store, "run-1", time.Minute, nil)
	if err := lock.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("second Release() = %v, want nil", err)
	}
}

func TestFolderLock_SerializesAndTimesOut(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	locks := NewFolderLock(store, 30*time.Second)

	release, ok := locks.Acquire(ctx, "example.com", 10*time.Millisecond)
	if !ok {
		t.Fatal("first Acquire should succeed")
	}

	// A contender on the same name times out; a different name is free.
	if _, ok := locks.Acquire(ctx, "example.com", 10*time.Millisecond); ok {
		t.Fatal("contended Acquire should time out")
	}
	otherRelease, ok := locks.Acquire(ctx, "other.org", 10*time.Millisecond)
	if !ok {
		t.Fatal("Acquire on distinct name should succeed")
	}
	otherRelease()

	release()
	release2, ok := locks.Acquire(ctx, "example.com", 10*time.Millisecond)
	if !ok {
		t.Fatal("Acquire after release should succeed")
	}
	release2()
}
