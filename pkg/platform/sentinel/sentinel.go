package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, gateways and caches return
// these (optionally wrapped) so services can translate them into domain errors.
//
// - ErrNotFound: key or record does not exist
// - ErrConflict: a uniqueness constraint was hit
// - ErrInvalidState: record is in the wrong state for the requested transition
// - ErrUnavailable: backend could not accept or answer the request
// - ErrStale: a cached value is older than the height the caller requires
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrStale        = errors.New("stale")
)
