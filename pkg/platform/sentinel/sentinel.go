package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about stored documents, not validation
// failures:
// - ErrNotFound: document does not exist in the store
// - ErrAlreadyExists: unique key (hospital, group, component) or request code taken
// - ErrVersionMismatch: versioned write lost a race; re-read and retry
// - ErrInvalidState: document in wrong state for the requested operation
//
// For input validation use pkg/domain-errors directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrInvalidState    = errors.New("invalid state")
)
