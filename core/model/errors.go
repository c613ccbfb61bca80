package model

import "errors"

// Sentinel errors shared by the registry, the alert lifecycle and the
// dispatch coordinator. Callers match them with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrNotFound          = errors.New("not found")
	ErrNoCapacity        = errors.New("no unit available")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrStaleReport       = errors.New("location report older than the last one")
)
