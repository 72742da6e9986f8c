// Package audit captures the who-did-what trail for stock movements and
// transfer lifecycle changes. Events are emitted from domain logic and fanned
// out to a store or broker sink; emission never blocks a domain operation.
package audit

import (
	"context"
	"time"

	id "bloodledger/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`

	// RequestRecordID and RequestCode identify the transfer request for
	// lifecycle events; zero/empty for pure stock events.
	RequestRecordID id.RequestRecordID `json:"request_record_id,omitempty"`
	RequestCode     string             `json:"request_code,omitempty"`

	SourceHospitalID      id.HospitalID `json:"source_hospital_id,omitempty"`
	DestinationHospitalID id.HospitalID `json:"destination_hospital_id,omitempty"`

	BloodGroup string `json:"blood_group,omitempty"`
	Component  string `json:"component,omitempty"`
	Units      int    `json:"units,omitempty"`

	// ActorID is the identity-provider subject who performed the action;
	// ActorRole is its role at the time.
	ActorID   string `json:"actor_id,omitempty"`
	ActorRole string `json:"actor_role,omitempty"`

	// CorrelationID carries the HTTP request id for tracing.
	CorrelationID string `json:"correlation_id,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// AuditEvent names the recorded actions.
type AuditEvent string

const (
	// Transfer lifecycle events
	EventTransferRequested AuditEvent = "transfer_requested"
	EventTransferApproved  AuditEvent = "transfer_approved"
	EventTransferRejected  AuditEvent = "transfer_rejected"
	EventTransferCancelled AuditEvent = "transfer_cancelled"
	EventTransferFulfilled AuditEvent = "transfer_fulfilled"
	EventTransferDeleted   AuditEvent = "transfer_deleted"

	// Stock events
	EventStockAdded          AuditEvent = "stock_added"
	EventExpiredStockRemoved AuditEvent = "expired_stock_removed"
)

// Appender accepts events for durable recording. Sinks (memory store, Kafka
// producer) implement this.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store is an Appender that can also be read back, used by the in-process
// trail and by tests.
type Store interface {
	Appender
	ListByRequest(ctx context.Context, requestID id.RequestRecordID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
