package mailqueue

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mailqueue/content"
	"github.com/rbaliyan/mailqueue/registry"
	"github.com/rbaliyan/mailqueue/transport"
	"github.com/rbaliyan/mailqueue/view"
)

// Sentinel errors for the mailqueue package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding backend-level errors where applicable,
// so errors.Is(err, mailqueue.ErrContentNotFound) will match both
// facade-level and content-store-level "not found" errors.
var (
	// ErrMalformedID is returned when a string is not a valid enqueue ID.
	ErrMalformedID = errors.New("mailqueue: malformed enqueue id")

	// ErrInvalidMail is returned for mail validation failures.
	ErrInvalidMail = errors.New("mailqueue: invalid mail")

	// ErrContentNotFound is returned when a payload blob is missing.
	// Wraps content.ErrNotFound for consistent error checking.
	ErrContentNotFound = fmt.Errorf("mailqueue: %w", content.ErrNotFound)

	// ErrDuplicateEnqueueID is returned when an enqueue ID is inserted twice.
	// Wraps view.ErrDuplicateID for consistent error checking.
	ErrDuplicateEnqueueID = fmt.Errorf("mailqueue: %w", view.ErrDuplicateID)

	// ErrNoMessage is returned by DequeueTimeout when no mail becomes
	// available before the timeout elapses.
	ErrNoMessage = errors.New("mailqueue: no message")

	// ErrQueueRequired is returned when a queue name is empty.
	ErrQueueRequired = errors.New("mailqueue: queue name is required")

	// ErrViewRequired is returned when no view store is configured.
	ErrViewRequired = errors.New("mailqueue: view store is required")

	// ErrContentStoreRequired is returned when no content store is configured.
	ErrContentStoreRequired = errors.New("mailqueue: content store is required")

	// ErrRegistryRequired is returned when no deletion registry is configured.
	ErrRegistryRequired = errors.New("mailqueue: deletion registry is required")

	// ErrTransportRequired is returned when no transport is configured.
	ErrTransportRequired = errors.New("mailqueue: transport is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps view.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("mailqueue: %w", view.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps view.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("mailqueue: %w", view.ErrAlreadyConnected)
)

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both facade-level and backend-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Permanent errors that should not be retried
	permanentErrors := []error{
		ErrMalformedID,
		ErrInvalidMail,
		ErrContentNotFound,
		ErrDuplicateEnqueueID,
		ErrQueueRequired,
		view.ErrDuplicateID,
		view.ErrInvalidEntry,
		content.ErrNotFound,
		content.ErrEmptyKey,
		registry.ErrEmptyID,
		transport.ErrInvalidEnvelope,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Retryable errors
	retryableErrors := []error{
		ErrNotConnected,
		view.ErrNotConnected,
		registry.ErrNotConnected,
		transport.ErrNotConnected,
	}
	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// Unknown errors default to retryable as they might be transient
	// network/timeout issues
	return true
}
