// Package hospital is the directory of hospitals known to the platform.
// Identity and onboarding live in the upstream identity provider; this
// package only answers existence and name lookups so stock and transfer
// operations can reject unknown hospitals.
package hospital

import (
	"context"

	"bloodledger/pkg/domain"
)

// Hospital is a directory entry.
type Hospital struct {
	ID   domain.HospitalID
	Name string
	City string
}

// Directory resolves hospitals.
type Directory interface {
	Exists(ctx context.Context, id domain.HospitalID) (bool, error)
	Get(ctx context.Context, id domain.HospitalID) (*Hospital, error)
	List(ctx context.Context) ([]*Hospital, error)
}
