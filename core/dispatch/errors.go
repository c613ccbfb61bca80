package dispatch

import (
	"context"
	"errors"

	"github.com/medidispatch/dispatch-core/core/model"
)

var (
	ErrInvalidInput      = model.ErrInvalidInput
	ErrInvalidStatus     = model.ErrInvalidStatus
	ErrNotFound          = model.ErrNotFound
	ErrNoCapacity        = model.ErrNoCapacity
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrStoreUnavailable  = model.ErrStoreUnavailable
	ErrStaleReport       = model.ErrStaleReport
)

// Wire error codes.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeNotFound          = "NOT_FOUND"
	CodeNoCapacity        = "NO_CAPACITY"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeStaleReport       = "STALE_REPORT"
	CodeCanceled          = "CANCELED"
	CodeInternal          = "INTERNAL"
)

// Code maps err to its wire code. Unknown errors map to CodeInternal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNoCapacity):
		return CodeNoCapacity
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrStaleReport):
		return CodeStaleReport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
