package domain

import "errors"

var (
	// ErrDuplicateContent signals that identical payload text is already stored.
	// Only the relational backend enforces payload uniqueness.
	ErrDuplicateContent = errors.New("secret content already exists")
	// ErrBackendUnavailable signals a storage engine connectivity failure.
	// Retryable by the caller; never retried internally.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrMalformedRecord signals a log record that failed to parse.
	// Scans skip the damaged record and continue.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidSecret signals that a secret failed validation.
	ErrInvalidSecret = errors.New("invalid secret")
)
