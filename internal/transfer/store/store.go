package store

import (
	"context"

	"bloodledger/internal/transfer/models"
	"bloodledger/pkg/domain"
)

// Filter narrows request listings. InvolvedHospital matches either side of
// the transfer, which is how hospital actors are scoped.
type Filter struct {
	InvolvedHospital *domain.HospitalID
	DestinationID    *domain.HospitalID
	SourceID         *domain.HospitalID
	Status           *models.Status
	BloodGroup       *domain.BloodGroup
	Component        *domain.Component
}

// Page controls listing pagination and ordering.
type Page struct {
	Number int
	Size   int
	Sort   string
}

// Store persists transfer requests with versioned writes.
type Store interface {
	// Create inserts a Pending request. The request code carries a unique
	// index; a collision surfaces as sentinel.ErrAlreadyExists so the
	// caller can regenerate and retry.
	Create(ctx context.Context, request *models.TransferRequest) error

	GetByID(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error)
	GetByCode(ctx context.Context, code string) (*models.TransferRequest, error)

	List(ctx context.Context, filter Filter, page Page) ([]*models.TransferRequest, int, error)

	// Update persists the request and bumps its version; stale versions
	// fail with sentinel.ErrVersionMismatch.
	Update(ctx context.Context, request *models.TransferRequest) error

	// Execute runs an atomic validate-then-mutate on one request. The
	// store holds its lock (mutex or FOR UPDATE) across both callbacks so
	// racing transitions serialize.
	Execute(ctx context.Context, id domain.RequestRecordID,
		validate func(r *models.TransferRequest) error,
		mutate func(r *models.TransferRequest)) (*models.TransferRequest, error)

	Delete(ctx context.Context, id domain.RequestRecordID) error
}
