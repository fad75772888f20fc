// Package errors defines the sync error taxonomy for the portfolio aggregator.
//
// The taxonomy splits into two propagation classes: terminal no-ops (missing
// integration, unsupported provider, lock timeout, skipped snapshot) are
// absorbed and logged by the orchestrator; sync failures (credential,
// adapter, persistence) abort the attempt and surface to the dispatcher.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a sync error
type ErrorCategory string

const (
	// CategoryNotFound represents a missing integration
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryUnsupportedProvider represents an integration with no adapter
	CategoryUnsupportedProvider ErrorCategory = "unsupported_provider"
	// CategoryCredential represents credential decryption or parsing failures
	CategoryCredential ErrorCategory = "credential"
	// CategoryLock represents lock acquisition timing out
	CategoryLock ErrorCategory = "lock"
	// CategoryAdapter represents provider balance-fetch failures
	CategoryAdapter ErrorCategory = "adapter"
	// CategoryPersistence represents database transaction failures
	CategoryPersistence ErrorCategory = "persistence"
	// CategorySnapshot represents a skipped or failed snapshot attempt
	CategorySnapshot ErrorCategory = "snapshot"
)

// SyncError represents an error with category and machine-readable code
type SyncError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewIntegrationNotFoundError creates a not found error for an integration
func NewIntegrationNotFoundError(integrationID string) *SyncError {
	return &SyncError{
		Category: CategoryNotFound,
		Code:     "INTEGRATION_NOT_FOUND",
		Message:  fmt.Sprintf("integration not found: %s", integrationID),
		Details: map[string]interface{}{
			"integrationId": integrationID,
		},
	}
}

// NewUnsupportedProviderError creates an unsupported provider error
func NewUnsupportedProviderError(provider string) *SyncError {
	return &SyncError{
		Category: CategoryUnsupportedProvider,
		Code:     "UNSUPPORTED_PROVIDER",
		Message:  fmt.Sprintf("no adapter registered for provider: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewCredentialError creates a credential decryption error
func NewCredentialError(integrationID string, cause error) *SyncError {
	return &SyncError{
		Category: CategoryCredential,
		Code:     "CREDENTIAL_DECRYPTION_FAILED",
		Message:  fmt.Sprintf("failed to decrypt credentials for integration %s", integrationID),
		Cause:    cause,
		Details: map[string]interface{}{
			"integrationId": integrationID,
		},
	}
}

// NewLockTimeoutError creates a lock timeout error. Lock timeouts are not
// failures: they mean another worker holds the resource.
func NewLockTimeoutError(resource string) *SyncError {
	return &SyncError{
		Category: CategoryLock,
		Code:     "LOCK_TIMEOUT",
		Message:  fmt.Sprintf("timed out waiting for lock: %s", resource),
		Details: map[string]interface{}{
			"resource": resource,
		},
	}
}

// NewAdapterFetchError creates a provider fetch error
func NewAdapterFetchError(provider string, cause error) *SyncError {
	return &SyncError{
		Category: CategoryAdapter,
		Code:     "ADAPTER_FETCH_FAILED",
		Message:  fmt.Sprintf("balance fetch failed for provider %s", provider),
		Cause:    cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewPersistenceError creates a database error
func NewPersistenceError(operation string, cause error) *SyncError {
	return &SyncError{
		Category: CategoryPersistence,
		Code:     "PERSISTENCE_FAILED",
		Message:  fmt.Sprintf("database error during %s", operation),
		Cause:    cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewSnapshotSkippedError creates a snapshot skipped error
func NewSnapshotSkippedError(reason string) *SyncError {
	return &SyncError{
		Category: CategorySnapshot,
		Code:     "SNAPSHOT_SKIPPED",
		Message:  fmt.Sprintf("snapshot skipped: %s", reason),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// CategoryOf extracts the category of an error, or "" for uncategorized errors
func CategoryOf(err error) ErrorCategory {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Category
	}
	return ""
}

// IsSyncFailure reports whether the error must abort the sync and surface to
// the caller. Credential, adapter and persistence errors abort; everything
// else is an expected race or unsupported configuration.
func IsSyncFailure(err error) bool {
	switch CategoryOf(err) {
	case CategoryCredential, CategoryAdapter, CategoryPersistence:
		return true
	case "":
		return err != nil
	}
	return false
}

// IsTerminalNoOp reports whether the error is absorbed locally and logged
func IsTerminalNoOp(err error) bool {
	switch CategoryOf(err) {
	case CategoryNotFound, CategoryUnsupportedProvider, CategoryLock, CategorySnapshot:
		return true
	}
	return false
}
