package sentinel

import "errors"

// Sentinel dependency errors. Stores and queue backends should return these
// (optionally wrapped) so services can translate them into domain errors
// exactly once.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrStaleStatus = errors.New("stale status")
	ErrEmpty       = errors.New("empty")
	ErrUnavailable = errors.New("unavailable")
)
