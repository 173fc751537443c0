package folders

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/locker"
	"github.com/petalo/mailsift/pkg/logging"
	"github.com/petalo/mailsift/pkg/mail"
)

// lockMaxWait bounds how long a resolver waits on a contended folder lock
// before proceeding without it. The second lookup inside getOrCreate keeps
// lockless callers convergent with the lock winner.
const lockMaxWait = 5 * time.Second

// Resolver maps sender domains to destination folders under a configured
// root, creating them on first use. Safe for concurrent use.
type Resolver struct {
	storage Storage
	locks   *locker.FolderLock
	rootID  string
	retry   RetryPolicy
	logger  logging.Logger

	mu    sync.Mutex
	cache map[string]*Folder
}

// NewResolver creates a resolver rooted at rootID. locks may be nil, in
// which case folder creation relies on lookups alone.
func NewResolver(storage Storage, locks *locker.FolderLock, rootID string, retry RetryPolicy, logger logging.Logger) *Resolver {
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{
		storage: storage,
		locks:   locks,
		rootID:  rootID,
		retry:   retry,
		logger:  logger,
		cache:   make(map[string]*Folder),
	}
}

// Resolve returns the destination folder for a sender domain. It degrades
// in tiers rather than failing a whole run on one bad folder: the domain
// folder first, then the shared fallback folder, then the root itself.
// Only when even the root is unusable does it report storage unavailable.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*Folder, error) {
	name := normalizeName(domain)

	folder, err := r.getOrCreate(ctx, name)
	if err == nil {
		return folder, nil
	}
	r.logger.Warn("falling back from domain folder",
		logging.F("domain", name), logging.Err(err))

	if name != mail.UnknownDomain {
		folder, err = r.getOrCreate(ctx, mail.UnknownDomain)
		if err == nil {
			return folder, nil
		}
		r.logger.Warn("falling back from shared folder", logging.Err(err))
	}

	// Last tier: file directly into the root.
	if r.rootID != "" {
		return &Folder{ID: r.rootID, Name: ""}, nil
	}
	return nil, fmt.Errorf("%w: no usable destination folder for %q", errors.ErrStorageUnavailable, name)
}

// getOrCreate implements the double-checked protocol: lookup, lock, lookup
// again, create. A lost or timed-out lock downgrades to best-effort; the
// post-lock lookup still catches folders a faster worker created.
func (r *Resolver) getOrCreate(ctx context.Context, name string) (*Folder, error) {
	r.mu.Lock()
	if cached, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	folder, err := r.lookup(ctx, name)
	if err == nil {
		return r.remember(name, folder), nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	if r.locks != nil {
		release, ok := r.locks.Acquire(ctx, name, lockMaxWait)
		if ok {
			defer release()
		} else {
			r.logger.Debug("proceeding without folder lock", logging.F("folder", name))
		}
	}

	// Second check: someone may have created it while we waited.
	folder, err = r.lookup(ctx, name)
	if err == nil {
		return r.remember(name, folder), nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	var created *Folder
	err = withRetry(ctx, r.retry, func() error {
		var createErr error
		created, createErr = r.storage.CreateFolder(ctx, r.rootID, name)
		return createErr
	})
	if err != nil {
		// Creation can collide when two lockless workers race; the winner's
		// folder is ours too.
		if folder, lookupErr := r.lookup(ctx, name); lookupErr == nil {
			return r.remember(name, folder), nil
		}
		return nil, fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	return r.remember(name, created), nil
}

func (r *Resolver) lookup(ctx context.Context, name string) (*Folder, error) {
	var folder *Folder
	err := withRetry(ctx, r.retry, func() error {
		var lookupErr error
		// Absence is an answer, not a transient fault; withRetry only
		// retries transient codes, so not-found passes straight through.
		folder, lookupErr = r.storage.ChildFolderByName(ctx, r.rootID, name)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

func (r *Resolver) remember(name string, folder *Folder) *Folder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[name]; ok {
		return cached
	}
	r.cache[name] = folder
	return folder
}

// SaveFile stores an attachment into folder, skipping the write when a file
// with the same name and size already exists there. Returns the stored (or
// pre-existing) file and whether a new file was written. The name comes from
// a remote message header, so it is reduced to a plain base name before any
// storage call: a crafted "../../x" must not address paths outside folder.
func (r *Resolver) SaveFile(ctx context.Context, folder *Folder, name string, content []byte) (*FileInfo, bool, error) {
	name = sanitizeFileName(name)

	var existing []FileInfo
	err := withRetry(ctx, r.retry, func() error {
		var listErr error
		existing, listErr = r.storage.FilesByName(ctx, folder.ID, name)
		return listErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to list files named %q: %w", name, err)
	}
	for i := range existing {
		if existing[i].SizeBytes == int64(len(content)) {
			return &existing[i], false, nil
		}
	}

	var created *FileInfo
	err = withRetry(ctx, r.retry, func() error {
		var createErr error
		created, createErr = r.storage.CreateFile(ctx, folder.ID, name, content)
		return createErr
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to store file %q: %w", name, err)
	}
	return created, true, nil
}

// sanitizeFileName strips any path structure from an attachment name.
// Backslashes count as separators too, so Windows-style names cannot smuggle
// one past filepath.Base. Names that reduce to nothing get a placeholder.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "attachment"
	}
	return name
}

// normalizeName maps a raw domain onto a folder name. Empty and junk values
// collapse onto the shared fallback folder.
func normalizeName(domain string) string {
	name := strings.ToLower(strings.TrimSpace(domain))
	if name == "" {
		return mail.UnknownDomain
	}
	return name
}
