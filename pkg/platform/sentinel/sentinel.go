package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can decide how to react without string matching.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: conditional update lost to a concurrent writer (CAS miss)
// - ErrInvalidState: entity in wrong state for requested transition
// - ErrUnavailable: backing service temporarily unavailable
//
// Business outcomes (insufficient inventory, donor ineligibility) are never
// errors; they travel as structured result values.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
