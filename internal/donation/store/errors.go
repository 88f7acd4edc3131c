package store

import (
	"context"
	"errors"

	"foodlink/internal/records"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/sentinel"
)

// DomainError translates a repository error into the API-facing code. entity
// names the record in the message, e.g. "donation".
func DomainError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, entity+" was modified concurrently")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, entity+" already exists")
	case errors.Is(err, records.ErrInvalidKey):
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+entity+" reference")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "record store timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to access "+entity)
	}
}
