package models

import (
	"sort"
	"time"

	"bloodledger/pkg/domain"
)

// Allocation records units taken from one source batch during a FEFO pass.
// ExpiresAt travels with the units; a transfer never resets expiry.
type Allocation struct {
	Units       int
	SourceBatch domain.BatchID
	CollectedAt time.Time
	ExpiresAt   time.Time
}

// Allocate consumes batches from the ledger earliest-expiry-first until the
// requested units are covered or stock runs out. The ledger is mutated in
// place (batches reduced, exhausted batches removed), so callers allocate
// against a Clone and commit the result themselves; shortage > 0 means the
// proposal should be discarded.
//
// Batches sharing an expiry keep their snapshot order, which makes the pass
// deterministic within one call.
func Allocate(ledger *Ledger, requested int) ([]Allocation, int) {
	sort.SliceStable(ledger.Batches, func(i, j int) bool {
		return ledger.Batches[i].ExpiresAt.Before(ledger.Batches[j].ExpiresAt)
	})

	remaining := requested
	var consumed []Allocation
	kept := ledger.Batches[:0]
	for _, b := range ledger.Batches {
		if remaining <= 0 {
			kept = append(kept, b)
			continue
		}
		take := min(b.Units, remaining)
		consumed = append(consumed, Allocation{
			Units:       take,
			SourceBatch: b.ID,
			CollectedAt: b.CollectedAt,
			ExpiresAt:   b.ExpiresAt,
		})
		remaining -= take
		b.Units -= take
		if b.Units > 0 {
			kept = append(kept, b)
		}
	}
	ledger.Batches = kept

	return consumed, remaining
}
