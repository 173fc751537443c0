// Package locker implements the coordination locks: a long-lived execution
// lock that keeps concurrent runs from double-processing the same threads,
// and short-lived folder locks that serialize folder creation.
package locker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/kvstore"
	"github.com/petalo/mailsift/pkg/logging"
)

// Record is the persisted lock state. The timestamp is milliseconds since
// epoch so the record stays readable across runtimes.
type Record struct {
	Holder       string `json:"holder"`
	AcquiredAtMs int64  `json:"acquired_at_ms"`
}

// ExecutionLock guards a whole engine run. A stale lock (held longer than
// maxHold) is taken over rather than respected: the previous run either
// crashed or exceeded its budget, and its TTL-based claim has lapsed.
type ExecutionLock struct {
	store   kvstore.Store
	key     string
	holder  string
	maxHold time.Duration
	logger  logging.Logger
	now     func() time.Time

	held   bool
	record []byte
}

// NewExecutionLock creates the lock for the given holder identity.
func NewExecutionLock(store kvstore.Store, holder string, maxHold time.Duration, logger logging.Logger) *ExecutionLock {
	if maxHold <= 0 {
		maxHold = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ExecutionLock{
		store:   store,
		key:     kvstore.KeyExecutionLock,
		holder:  holder,
		maxHold: maxHold,
		logger:  logger,
		now:     time.Now,
	}
}

// Acquire attempts to take the lock. It returns errors.ErrLockUnavailable
// when another live run holds it, and a storage error when the store cannot
// be reached. It never blocks waiting for the lock.
func (l *ExecutionLock) Acquire(ctx context.Context) error {
	record, err := json.Marshal(Record{
		Holder:       l.holder,
		AcquiredAtMs: l.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal lock record: %w", err)
	}

	// The store TTL is a crash backstop; the record timestamp is the
	// authoritative staleness signal.
	ok, err := l.store.SetNX(ctx, l.key, record, l.maxHold)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err)
	}
	if ok {
		l.held = true
		l.record = record
		l.logger.Debug("execution lock acquired", logging.F("holder", l.holder))
		return nil
	}

	current, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.IsNotFound(err) {
			// Holder released between our SetNX and Get. One retry.
			ok, err = l.store.SetNX(ctx, l.key, record, l.maxHold)
			if err != nil {
				return fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err)
			}
			if ok {
				l.held = true
				l.record = record
				return nil
			}
			return errors.ErrLockUnavailable
		}
		return fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err)
	}

	var existing Record
	if err := json.Unmarshal(current, &existing); err != nil {
		// Unreadable record: treat as stale and replace it.
		l.logger.Warn("replacing unreadable execution lock record", logging.Err(err))
		existing.AcquiredAtMs = 0
	}

	heldFor := l.now().Sub(time.UnixMilli(existing.AcquiredAtMs))
	if heldFor < l.maxHold {
		l.logger.Info("execution lock held by another run",
			logging.F("holder", existing.Holder),
			logging.F("held_for", heldFor.String()))
		return errors.ErrLockUnavailable
	}

	// Stale takeover. CAS so two takeover attempts cannot both win.
	swapped, err := l.store.CompareAndSwap(ctx, l.key, current, record, l.maxHold)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err)
	}
	if !swapped {
		return errors.ErrLockUnavailable
	}

	l.held = true
	l.record = record
	l.logger.Warn("took over stale execution lock",
		logging.F("previous_holder", existing.Holder),
		logging.F("held_for", heldFor.String()))
	return nil
}

// Release frees the lock if this instance still holds it. Releasing a lock
// another run has since taken over is a no-op, not an error.
func (l *ExecutionLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false

	ok, err := l.store.CompareAndDelete(ctx, l.key, l.record)
	if err != nil {
		return fmt.Errorf("failed to release execution lock: %w", err)
	}
	if !ok {
		l.logger.Warn("execution lock was no longer ours at release",
			logging.F("holder", l.holder))
	}
	return nil
}

// Held reports whether this instance currently believes it holds the lock.
func (l *ExecutionLock) Held() bool {
	return l.held
}

// FolderLock serializes folder creation for a single folder name. Locks are
// short-lived: callers that cannot acquire within maxWait proceed without
// the lock and rely on the resolver's re-check to stay convergent.
type FolderLock struct {
	store kvstore.Store
	ttl   time.Duration
	poll  time.Duration
}

// NewFolderLock creates a folder lock manager with the given per-lock TTL.
func NewFolderLock(store kvstore.Store, ttl time.Duration) *FolderLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &FolderLock{store: store, ttl: ttl, poll: 50 * time.Millisecond}
}

// Acquire tries to take the lock for name, polling until maxWait elapses.
// It returns the release function and whether the lock was obtained.
func (f *FolderLock) Acquire(ctx context.Context, name string, maxWait time.Duration) (func(), bool) {
	key := kvstore.KeyPrefixFolderLock + name
	token := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	deadline := time.Now().Add(maxWait)

	for {
		ok, err := f.store.SetNX(ctx, key, token, f.ttl)
		if err != nil {
			// A broken lock store must not block folder resolution.
			return func() {}, false
		}
		if ok {
			release := func() {
				f.store.CompareAndDelete(context.WithoutCancel(ctx), key, token)
			}
			return release, true
		}
		if time.Now().After(deadline) {
			return func() {}, false
		}
		select {
		case <-ctx.Done():
			return func() {}, false
		case <-time.After(f.poll):
		}
	}
}
