package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified run failure.
type ErrorCode string

const (
	CodeTransientStorage  ErrorCode = "transient_storage"
	CodeProviderFailure   ErrorCode = "provider_failure"
	CodeConfiguration     ErrorCode = "configuration"
	CodePermission        ErrorCode = "permission"
	CodeLockUnavailable   ErrorCode = "lock_unavailable"
	CodeContextCancelled  ErrorCode = "context_cancelled"
	CodeTimeout           ErrorCode = "timeout"
	CodeProcessing        ErrorCode = "processing"
)

// RunError is a structured error for failures inside a batch run.
type RunError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *RunError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code        ErrorCode
	Retryable   bool
	Description string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeTransientStorage: {
		Code:        CodeTransientStorage,
		Retryable:   true,
		Description: "Transient storage-layer error (retried with backoff)",
	},
	CodeProviderFailure: {
		Code:        CodeProviderFailure,
		Retryable:   false,
		Description: "AI provider failed; next detector in the chain is consulted",
	},
	CodeConfiguration: {
		Code:        CodeConfiguration,
		Retryable:   false,
		Description: "Invalid configuration; run aborted before taking the lock",
	},
	CodePermission: {
		Code:        CodePermission,
		Retryable:   false,
		Description: "Per-user permission failure; other users continue",
	},
	CodeLockUnavailable: {
		Code:        CodeLockUnavailable,
		Retryable:   false,
		Description: "Another run is active; normal outcome, not a failure",
	},
	CodeContextCancelled: {
		Code:        CodeContextCancelled,
		Retryable:   false,
		Description: "Operation cancelled by caller",
	},
	CodeTimeout: {
		Code:        CodeTimeout,
		Retryable:   true,
		Description: "Operation exceeded its deadline",
	},
	CodeProcessing: {
		Code:        CodeProcessing,
		Retryable:   false,
		Description: "Unclassified processing error",
	},
}

// IsRetryable returns true if the given error code represents a transient,
// retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// Classify inspects an error and returns a *RunError with the appropriate
// code. If the error doesn't match any known pattern it returns a RunError
// with CodeProcessing.
func Classify(err error, stage string) *RunError {
	if err == nil {
		return nil
	}

	re := &RunError{
		Stage: stage,
		Cause: err,
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		re.Code = CodeTimeout
		re.Message = "operation timed out"
		return re
	case errors.Is(err, context.Canceled):
		re.Code = CodeContextCancelled
		re.Message = "operation cancelled"
		return re
	case errors.Is(err, ErrLockUnavailable):
		re.Code = CodeLockUnavailable
		re.Message = err.Error()
		return re
	case errors.Is(err, ErrConfiguration):
		re.Code = CodeConfiguration
		re.Message = err.Error()
		return re
	case errors.Is(err, ErrPermission):
		re.Code = CodePermission
		re.Message = err.Error()
		return re
	case errors.Is(err, ErrProviderFailure):
		re.Code = CodeProviderFailure
		re.Message = err.Error()
		return re
	case errors.Is(err, ErrStorageUnavailable):
		re.Code = CodeTransientStorage
		re.Message = err.Error()
		return re
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	// Permission patterns from storage/mailbox collaborators.
	if strings.Contains(lower, "permission") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "403") {
		re.Code = CodePermission
		re.Message = msg
		return re
	}

	// Transient storage patterns.
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "unavailable") || strings.Contains(lower, "503") ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "temporarily") ||
		strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests") {
		re.Code = CodeTransientStorage
		re.Message = msg
		return re
	}

	re.Code = CodeProcessing
	re.Message = msg
	return re
}

// IsErrorRetryable returns true if the error is likely transient and worth
// retrying in place.
func IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RunError
	if !errors.As(err, &re) {
		re = Classify(err, "")
	}
	return IsRetryable(re.Code)
}
