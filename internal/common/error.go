// Package common defines sentinel errors shared by the server layers of
// GophSync. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Validation / mutation-specific errors.
	ErrInvalidMutation = errors.New("invalid mutation")
	ErrInvalidWorkItem = errors.New("invalid deferred work item")

	// Change resolver registry errors.
	ErrDuplicateResolver = errors.New("duplicate change resolver")
	ErrUnknownResolver   = errors.New("unknown change resolver")

	// Grouping precondition violation: a key extractor reported no key.
	ErrAbsentKey = errors.New("absent grouping key")

	// Object storage errors.
	ErrPresignUnsupported = errors.New("presigned urls not supported by storage backend")

	// Lock errors.
	ErrLockNotHeld = errors.New("lock not held")
)
