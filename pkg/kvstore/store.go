// Package kvstore provides the small key-value surface the engine needs for
// coordination state: the execution lock, folder-creation locks, the
// registered-sender list and the processed-sender cache.
package kvstore

import (
	"context"
	"time"

	"github.com/petalo/mailsift/pkg/errors"
)

// Well-known keys.
const (
	KeyExecutionLock     = "mailsift:execution_lock"
	KeyRegisteredSenders = "mailsift:registered_senders"
	KeyCheckedSenders    = "mailsift:checked_senders_cache"
	KeyLastRun           = "mailsift:last_run"
	KeyPrefixFolderLock  = "mailsift:folder_lock:"
)

// Store is a minimal key-value store with the conditional primitives the
// lock protocol needs. Implementations must make SetNX, CompareAndSwap and
// CompareAndDelete atomic with respect to concurrent callers.
type Store interface {
	// Get returns the value at key, or errors.ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes the value only if the key is absent. Returns whether the
	// write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap replaces the value only if the current value equals old.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes the key only if the current value equals old.
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)
}

// IsNotFound reports whether err is the absent-key error.
func IsNotFound(err error) bool {
	return errors.IsNotFound(err)
}
