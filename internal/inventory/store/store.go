package store

import (
	"context"

	"bloodledger/internal/inventory/models"
	"bloodledger/pkg/domain"
)

// Filter narrows ledger listings.
type Filter struct {
	HospitalID *domain.HospitalID
	BloodGroup *domain.BloodGroup
	Component  *domain.Component
}

// Page controls listing pagination and ordering. Sort is a column name,
// optionally prefixed with '-' for descending (e.g. "-updated_at").
type Page struct {
	Number int
	Size   int
	Sort   string
}

// Store persists blood stock ledgers.
//
// Writes are version-checked: Update and ApplyTransfer fail with
// sentinel.ErrVersionMismatch when the stored document has moved past the
// version the caller read, so two racing writers cannot both commit.
type Store interface {
	// FindOrCreate returns the ledger for the triple, creating an empty one
	// atomically when absent. The unique (hospital, group, component) key is
	// enforced by the store, not by check-then-insert.
	FindOrCreate(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error)

	GetByID(ctx context.Context, id domain.LedgerID) (*models.Ledger, error)
	GetByKey(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error)

	// List returns one page of ledgers plus the total match count.
	List(ctx context.Context, filter Filter, page Page) ([]*models.Ledger, int, error)

	// ListAll returns every ledger (optionally for one hospital) for the
	// reporting view. Not paginated.
	ListAll(ctx context.Context, hospitalID *domain.HospitalID) ([]*models.Ledger, error)

	// Update persists the ledger and bumps its version.
	Update(ctx context.Context, ledger *models.Ledger) error

	Delete(ctx context.Context, id domain.LedgerID) error

	// ApplyTransfer persists a debit on src and a credit on dst as one
	// atomic commit: either both land or neither does.
	ApplyTransfer(ctx context.Context, src, dst *models.Ledger) error
}
