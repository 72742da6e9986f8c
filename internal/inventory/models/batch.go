package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

// Batch is a discrete quantity of one blood component collected at one time.
//
// Invariants:
//   - Units >= 1; exhausted batches are removed from the ledger, never zeroed
//   - ExpiresAt is always set (derived from the expiry policy when omitted)
type Batch struct {
	ID          domain.BatchID `json:"id"`
	Units       int            `json:"units"`
	CollectedAt time.Time      `json:"collected_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Note        string         `json:"note,omitempty"`
}

// NewBatch builds a batch for the given component. CollectedAt defaults to
// now; ExpiresAt is derived from the component shelf life when absent.
func NewBatch(component domain.Component, units int, collectedAt, expiresAt *time.Time, note string, now time.Time) (Batch, error) {
	if units < 1 {
		return Batch{}, dErrors.New(dErrors.CodeValidation, "units must be >= 1")
	}

	collected := now
	if collectedAt != nil && !collectedAt.IsZero() {
		collected = *collectedAt
	}
	expires := DeriveExpiry(component, collected)
	if expiresAt != nil && !expiresAt.IsZero() {
		expires = *expiresAt
	}

	return Batch{
		ID:          domain.BatchID(uuid.New()),
		Units:       units,
		CollectedAt: collected,
		ExpiresAt:   expires,
		Note:        strings.TrimSpace(note),
	}, nil
}

// Expired reports whether the batch is unusable as of the given time.
func (b Batch) Expired(asOf time.Time) bool {
	return !b.ExpiresAt.After(asOf)
}
