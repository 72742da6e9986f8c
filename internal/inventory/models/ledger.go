package models

import (
	"time"

	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

// Ledger is the blood stock document for one (hospital, blood group,
// component) triple. At most one ledger exists per triple; the store enforces
// the unique key.
//
// Invariants:
//   - every batch has Units >= 1 (exhausted batches are removed)
//   - TotalUnits is derived, never stored, so it cannot drift
//   - consumption order is decided by batch expiry, not storage order
type Ledger struct {
	ID         domain.LedgerID   `json:"id"`
	HospitalID domain.HospitalID `json:"hospital_id"`
	BloodGroup domain.BloodGroup `json:"blood_group"`
	Component  domain.Component  `json:"component"`
	Batches    []Batch           `json:"batches"`

	// Version guards read-modify-write cycles; the store rejects writes
	// carrying a stale version.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalUnits sums the units across all batches.
func (l *Ledger) TotalUnits() int {
	total := 0
	for _, b := range l.Batches {
		total += b.Units
	}
	return total
}

// EarliestExpiry returns the soonest batch expiry, or nil for an empty ledger.
func (l *Ledger) EarliestExpiry() *time.Time {
	var earliest *time.Time
	for i := range l.Batches {
		exp := l.Batches[i].ExpiresAt
		if earliest == nil || exp.Before(*earliest) {
			earliest = &exp
		}
	}
	return earliest
}

// AddBatch appends a batch to the ledger.
func (l *Ledger) AddBatch(b Batch) {
	l.Batches = append(l.Batches, b)
}

// Batch returns the batch with the given id.
func (l *Ledger) Batch(id domain.BatchID) (*Batch, error) {
	for i := range l.Batches {
		if l.Batches[i].ID == id {
			return &l.Batches[i], nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "batch not found")
}

// RemoveBatch deletes the batch with the given id.
func (l *Ledger) RemoveBatch(id domain.BatchID) error {
	for i := range l.Batches {
		if l.Batches[i].ID == id {
			l.Batches = append(l.Batches[:i], l.Batches[i+1:]...)
			return nil
		}
	}
	return dErrors.New(dErrors.CodeNotFound, "batch not found")
}

// RemoveExpired drops batches whose expiry is at or before asOf. Maintenance
// operation; reads never trigger it. Returns the number of units dropped.
func (l *Ledger) RemoveExpired(asOf time.Time) int {
	kept := l.Batches[:0]
	dropped := 0
	for _, b := range l.Batches {
		if b.Expired(asOf) {
			dropped += b.Units
			continue
		}
		kept = append(kept, b)
	}
	l.Batches = kept
	return dropped
}

// Clone returns a deep copy so allocation can be proposed against a snapshot
// and committed only by the caller.
func (l *Ledger) Clone() *Ledger {
	dup := *l
	dup.Batches = make([]Batch, len(l.Batches))
	copy(dup.Batches, l.Batches)
	return &dup
}
