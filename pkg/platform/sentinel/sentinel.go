// Package sentinel names the storage outcomes that record backends report.
// Backends wrap them with context; services match with errors.Is and map
// them onto domain error codes. Input validation errors never use these.
package sentinel

import "errors"

var (
	// ErrNotFound means no document exists at the path.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a versioned write lost to a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed means a create found a document already at the path.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState means the document cannot take the requested change.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable means the backend could not be reached or the breaker
	// is open. Callers may retry.
	ErrUnavailable = errors.New("unavailable")
)
