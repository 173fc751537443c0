// Package errors provides common domain error types for mailsift.
//
// This package defines sentinel errors for the conditions the run controller
// and its collaborators care about, plus a classified RunError type that
// carries the failure taxonomy (transient storage, provider failure,
// configuration, permission). Using typed errors enables consistent
// error handling with errors.Is() checks.
package errors

import "errors"

// Domain errors - common sentinel errors.
var (
	// ErrLockUnavailable indicates another run holds an unexpired execution
	// lock. This is a normal outcome, not a failure.
	ErrLockUnavailable = errors.New("execution lock unavailable")

	// ErrStorageUnavailable indicates the storage collaborator is unreachable
	// even through the final fallback.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConfiguration indicates invalid or incomplete configuration.
	// Fatal: aborts a run before any lock is taken.
	ErrConfiguration = errors.New("configuration error")

	// ErrPermission indicates a per-user authorization failure. Isolates
	// that user; other users in a multi-user run continue.
	ErrPermission = errors.New("permission denied")

	// ErrProviderFailure indicates an AI inference provider failed or
	// returned a malformed payload. Triggers fallback to the next detector.
	ErrProviderFailure = errors.New("provider failure")

	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")
)

// IsLockUnavailable reports whether any error in err's chain is ErrLockUnavailable.
func IsLockUnavailable(err error) bool {
	return errors.Is(err, ErrLockUnavailable)
}

// IsStorageUnavailable reports whether any error in err's chain is ErrStorageUnavailable.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsConfiguration reports whether any error in err's chain is ErrConfiguration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsPermission reports whether any error in err's chain is ErrPermission.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsProviderFailure reports whether any error in err's chain is ErrProviderFailure.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrProviderFailure)
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
