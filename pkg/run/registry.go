package run

import (
	"context"
	"encoding/json"
	"time"

	"github.com/petalo/mailsift/pkg/kvstore"
	"github.com/petalo/mailsift/pkg/logging"
)

// checkedCacheTTL bounds how long a stale checked-sender cache survives.
const checkedCacheTTL = 24 * time.Hour

// SenderRegistry holds the registered-sender list from the property store
// plus the per-run cache of senders already checked against it. A missing
// or unreachable store degrades to an empty registry, never to a failure.
type SenderRegistry struct {
	store   kvstore.Store
	logger  logging.Logger
	senders []string
	checked map[string]bool
	dirty   bool
}

// LoadSenderRegistry reads the registered-sender list and the checked cache.
func LoadSenderRegistry(ctx context.Context, store kvstore.Store, logger logging.Logger) *SenderRegistry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &SenderRegistry{store: store, logger: logger, checked: make(map[string]bool)}
	if store == nil {
		return r
	}

	if data, err := store.Get(ctx, kvstore.KeyRegisteredSenders); err == nil {
		if err := json.Unmarshal(data, &r.senders); err != nil {
			logger.Warn("ignoring malformed registered-sender list", logging.Err(err))
		}
	} else if !kvstore.IsNotFound(err) {
		logger.Warn("failed to load registered-sender list", logging.Err(err))
	}

	if data, err := store.Get(ctx, kvstore.KeyCheckedSenders); err == nil {
		if err := json.Unmarshal(data, &r.checked); err != nil {
			r.checked = make(map[string]bool)
		}
	}
	return r
}

// Senders returns the registered-sender list.
func (r *SenderRegistry) Senders() []string {
	return r.senders
}

// Checked returns the cached answer for a sender, if any.
func (r *SenderRegistry) Checked(email string) (bool, bool) {
	v, ok := r.checked[email]
	return v, ok
}

// MarkChecked records the answer for a sender.
func (r *SenderRegistry) MarkChecked(email string, registered bool) {
	if v, ok := r.checked[email]; ok && v == registered {
		return
	}
	r.checked[email] = registered
	r.dirty = true
}

// Flush persists the checked cache. Best-effort: a write failure only costs
// the next run its cache.
func (r *SenderRegistry) Flush(ctx context.Context) {
	if r.store == nil || !r.dirty {
		return
	}
	data, err := json.Marshal(r.checked)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, kvstore.KeyCheckedSenders, data, checkedCacheTTL); err != nil {
		r.logger.Warn("failed to persist checked-sender cache", logging.Err(err))
	}
}
