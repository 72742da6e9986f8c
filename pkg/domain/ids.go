package domain

import (
	"github.com/google/uuid"

	dErrors "bloodledger/pkg/domain-errors"
)

// Typed identifiers for the core aggregates. Wrapping uuid.UUID keeps the
// compiler from accepting a hospital ID where a ledger ID is expected.
type (
	// HospitalID identifies a hospital in the directory.
	HospitalID uuid.UUID

	// LedgerID identifies a blood stock ledger document.
	LedgerID uuid.UUID

	// BatchID identifies a single batch within a ledger.
	BatchID uuid.UUID

	// RequestRecordID identifies a transfer request document. The
	// human-readable request code (#REQnnnn) is a separate field.
	RequestRecordID uuid.UUID
)

func (id HospitalID) String() string      { return uuid.UUID(id).String() }
func (id LedgerID) String() string        { return uuid.UUID(id).String() }
func (id BatchID) String() string         { return uuid.UUID(id).String() }
func (id RequestRecordID) String() string { return uuid.UUID(id).String() }

func (id HospitalID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }
func (id LedgerID) IsZero() bool        { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsZero() bool         { return uuid.UUID(id) == uuid.Nil }
func (id RequestRecordID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// The text representations below keep IDs as canonical UUID strings in JSON
// payloads and JSONB columns. Named array types do not inherit uuid.UUID's
// methods, so each wrapper carries its own pair.

func (id HospitalID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id LedgerID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id BatchID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id RequestRecordID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *HospitalID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = HospitalID(u)
	return nil
}

func (id *LedgerID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = LedgerID(u)
	return nil
}

func (id *BatchID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = BatchID(u)
	return nil
}

func (id *RequestRecordID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = RequestRecordID(u)
	return nil
}

// ParseHospitalID constructs a HospitalID from external input.
// Errors: CodeValidation when the value is empty, malformed, or nil.
func ParseHospitalID(s string) (HospitalID, error) {
	u, err := parseUUID(s, "hospital id")
	return HospitalID(u), err
}

// ParseLedgerID constructs a LedgerID from external input.
func ParseLedgerID(s string) (LedgerID, error) {
	u, err := parseUUID(s, "ledger id")
	return LedgerID(u), err
}

// ParseBatchID constructs a BatchID from external input.
func ParseBatchID(s string) (BatchID, error) {
	u, err := parseUUID(s, "batch id")
	return BatchID(u), err
}

// ParseRequestRecordID constructs a RequestRecordID from external input.
func ParseRequestRecordID(s string) (RequestRecordID, error) {
	u, err := parseUUID(s, "request id")
	return RequestRecordID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, what+" cannot be nil")
	}
	return u, nil
}
