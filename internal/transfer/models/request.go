package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

// Status is a transfer request's position in its lifecycle.
//
// Transitions: Pending -> Approved -> Fulfilled; Pending/Approved -> Rejected;
// Pending -> Cancelled. Everything else is a conflict. Fulfilled, Rejected,
// and Cancelled are terminal.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusFulfilled Status = "Fulfilled"
	StatusCancelled Status = "Cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusFulfilled: true,
	StatusCancelled: true,
}

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", dErrors.New(dErrors.CodeValidation, "invalid request status")
	}
	return st, nil
}

func (s Status) IsValid() bool  { return validStatuses[s] }
func (s Status) String() string { return string(s) }

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusRejected || s == StatusCancelled
}

// TransferRequest is a destination hospital's ask for units of one
// (blood group, component). It references two hospitals but is owned by
// neither; it is an independent coordination record.
//
// Invariants:
//   - Units >= 1 and immutable after creation
//   - SourceHospitalID is bound at approval, never at creation
//   - status transitions follow the lifecycle above
type TransferRequest struct {
	ID   domain.RequestRecordID `json:"id"`
	Code string                 `json:"code"`

	DestinationHospitalID domain.HospitalID `json:"destination_hospital_id"`
	// SourceHospitalID stays zero until approval binds it.
	SourceHospitalID domain.HospitalID `json:"source_hospital_id,omitempty"`

	BloodGroup domain.BloodGroup `json:"blood_group"`
	Component  domain.Component  `json:"component"`
	Units      int               `json:"units"`

	Status Status `json:"status"`

	PreferredDate *time.Time `json:"preferred_date,omitempty"`
	Note          string     `json:"note,omitempty"`

	CreatedBy   uuid.UUID  `json:"created_by"`
	ApprovedBy  *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	RejectedBy  *uuid.UUID `json:"rejected_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CancelledBy *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	FulfilledBy *uuid.UUID `json:"fulfilled_by,omitempty"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`

	// Version guards read-modify-write cycles on the request document.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTransferRequest builds a Pending request.
func NewTransferRequest(
	id domain.RequestRecordID,
	code string,
	destination domain.HospitalID,
	group domain.BloodGroup,
	component domain.Component,
	units int,
	preferredDate *time.Time,
	note string,
	createdBy uuid.UUID,
	now time.Time,
) (*TransferRequest, error) {
	if destination.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "destination hospital is required")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid blood group")
	}
	if !component.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid component")
	}
	if units < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "units must be >= 1")
	}
	if !domain.IsRequestCode(code) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid request code")
	}
	return &TransferRequest{
		ID:                    id,
		Code:                  code,
		DestinationHospitalID: destination,
		BloodGroup:            group,
		Component:             component,
		Units:                 units,
		Status:                StatusPending,
		PreferredDate:         preferredDate,
		Note:                  strings.TrimSpace(note),
		CreatedBy:             createdBy,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

func (r *TransferRequest) conflict(attempted string) error {
	return dErrors.Newf(dErrors.CodeConflict, "cannot %s request in status %s", attempted, r.Status)
}

// CanApprove gates the Pending -> Approved transition. The idempotent
// re-approve case (already Approved with the same source) is the caller's
// no-op, not a transition.
func (r *TransferRequest) CanApprove(source domain.HospitalID) error {
	if source.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "source hospital is required")
	}
	if source == r.DestinationHospitalID {
		return dErrors.New(dErrors.CodeValidation, "source and destination hospitals must differ")
	}
	if r.Status != StatusPending {
		return r.conflict("approve")
	}
	return nil
}

// ApplyApproval binds the source hospital and stamps the approver.
func (r *TransferRequest) ApplyApproval(source domain.HospitalID, approver uuid.UUID, now time.Time) {
	r.Status = StatusApproved
	r.SourceHospitalID = source
	r.ApprovedBy = &approver
	r.ApprovedAt = &now
	r.UpdatedAt = now
}

// CanReject gates Pending/Approved -> Rejected.
func (r *TransferRequest) CanReject() error {
	if r.Status != StatusPending && r.Status != StatusApproved {
		return r.conflict("reject")
	}
	return nil
}

func (r *TransferRequest) ApplyRejection(actor uuid.UUID, reason string, now time.Time) {
	r.Status = StatusRejected
	r.RejectedBy = &actor
	r.RejectedAt = &now
	if reason != "" {
		r.Note = strings.TrimSpace(reason)
	}
	r.UpdatedAt = now
}

// CanCancel gates Pending -> Cancelled.
func (r *TransferRequest) CanCancel() error {
	if r.Status != StatusPending {
		return r.conflict("cancel")
	}
	return nil
}

func (r *TransferRequest) ApplyCancellation(actor uuid.UUID, now time.Time) {
	r.Status = StatusCancelled
	r.CancelledBy = &actor
	r.CancelledAt = &now
	r.UpdatedAt = now
}

// CanFulfill gates Approved -> Fulfilled. Fulfillment is never idempotent:
// re-fulfilling a Fulfilled request is a conflict, because its side effects
// (the stock movement) must happen exactly once.
func (r *TransferRequest) CanFulfill() error {
	if r.Status != StatusApproved {
		return r.conflict("fulfill")
	}
	if r.SourceHospitalID.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "approved request has no source hospital")
	}
	return nil
}

func (r *TransferRequest) ApplyFulfillment(actor uuid.UUID, now time.Time) {
	r.Status = StatusFulfilled
	r.FulfilledBy = &actor
	r.FulfilledAt = &now
	r.UpdatedAt = now
}

// Involves reports whether the hospital is the source or the destination.
func (r *TransferRequest) Involves(id domain.HospitalID) bool {
	return r.DestinationHospitalID == id || (!r.SourceHospitalID.IsZero() && r.SourceHospitalID == id)
}

// Clone returns a copy safe to mutate against a snapshot.
func (r *TransferRequest) Clone() *TransferRequest {
	dup := *r
	return &dup
}
