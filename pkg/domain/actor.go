package domain

import (
	"github.com/google/uuid"

	dErrors "bloodledger/pkg/domain-errors"
)

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleHospital Role = "hospital"
	RoleDonor    Role = "donor"
)

var validRoles = map[Role]bool{
	RoleAdmin:    true,
	RoleHospital: true,
	RoleDonor:    true,
}

// ParseRole constructs a Role from external input.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeValidation, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool  { return validRoles[r] }
func (r Role) String() string { return string(r) }

// Actor is the authenticated caller as seen by the core. Identity and role are
// supplied by the identity provider; the core never authenticates credentials.
// HospitalID is set only when Role is hospital.
type Actor struct {
	Role       Role
	ID         uuid.UUID
	HospitalID HospitalID
}

// IsAdmin reports whether the actor carries the administrative capability.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsHospital reports whether the actor is the given hospital.
func (a Actor) IsHospital(id HospitalID) bool {
	return a.Role == RoleHospital && a.HospitalID == id && !a.HospitalID.IsZero()
}

// CanActFor reports whether the actor may act on behalf of the given hospital,
// either administratively or as that hospital.
func (a Actor) CanActFor(id HospitalID) bool {
	return a.IsAdmin() || a.IsHospital(id)
}
