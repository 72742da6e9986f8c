package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	invmodels "bloodledger/internal/inventory/models"
	tfrmetrics "bloodledger/internal/transfer/metrics"
	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/store"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/audit"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/platform/tx"
	"bloodledger/pkg/requestcontext"
)

var tracer = otel.Tracer("bloodledger/internal/transfer")

// RequestStore is the persistence surface for transfer requests.
type RequestStore = store.Store

// LedgerStore is the slice of the inventory store the fulfillment path needs.
// The transfer service never edits batches directly; it debits and credits
// whole allocations through ApplyTransfer.
type LedgerStore interface {
	GetByKey(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*invmodels.Ledger, error)
	FindOrCreate(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*invmodels.Ledger, error)
	ApplyTransfer(ctx context.Context, src, dst *invmodels.Ledger) error
}

// HospitalDirectory answers whether a hospital is known to the platform.
type HospitalDirectory interface {
	Exists(ctx context.Context, id domain.HospitalID) (bool, error)
}

// Service orchestrates the inter-hospital transfer workflow.
type Service struct {
	requests  RequestStore
	ledgers   LedgerStore
	hospitals HospitalDirectory
	runner    tx.Runner
	audit     *audit.Publisher
	logger    *slog.Logger
	metrics   *tfrmetrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *tfrmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAudit(p *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

// New constructs a Service. The runner must wrap the same backing store the
// ledger and request stores write to, so fulfillment commits atomically.
func New(requests RequestStore, ledgers LedgerStore, hospitals HospitalDirectory, runner tx.Runner, opts ...Option) *Service {
	s := &Service{requests: requests, ledgers: ledgers, hospitals: hospitals, runner: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a destination hospital's ask. DestinationHospitalID
// may be empty for hospital actors, who always request for themselves.
type CreateInput struct {
	DestinationHospitalID domain.HospitalID
	BloodGroup            domain.BloodGroup
	Component             domain.Component
	Units                 int
	PreferredDate         *time.Time
	Note                  string
}

// createAttempts bounds code-collision retries. Codes are drawn from a small
// human-quotable space, so collisions are expected and cheap to retry.
const createAttempts = 5

// Create opens a Pending transfer request on behalf of the destination.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.TransferRequest, error) {
	actor := requestcontext.Actor(ctx)
	destination, err := s.resolveDestination(ctx, actor, input.DestinationHospitalID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var request *models.TransferRequest
	for attempt := 0; ; attempt++ {
		request, err = models.NewTransferRequest(
			domain.RequestRecordID(uuid.New()), domain.NewRequestCode(), destination,
			input.BloodGroup, input.Component, input.Units,
			input.PreferredDate, input.Note, actor.ID, now)
		if err != nil {
			return nil, err
		}
		err = s.requests.Create(ctx, request)
		if err == nil {
			break
		}
		if errors.Is(err, sentinel.ErrAlreadyExists) && attempt < createAttempts-1 {
			continue
		}
		return nil, wrapRequestErr(err)
	}

	s.observeCreated()
	s.emit(ctx, audit.EventTransferRequested, request, 0, "")
	s.log(ctx, "transfer_requested",
		"request_id", request.ID.String(),
		"request_code", request.Code,
		"destination_hospital_id", destination.String(),
		"blood_group", input.BloodGroup.String(),
		"component", input.Component.String(),
		"units", input.Units)
	return request, nil
}

// List returns one page of requests. Hospital actors only ever see requests
// they are involved in, on either side, regardless of the requested filter.
func (s *Service) List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.TransferRequest, int, error) {
	actor := requestcontext.Actor(ctx)
	switch {
	case actor.IsAdmin():
	case actor.Role == domain.RoleHospital:
		own := actor.HospitalID
		filter.InvolvedHospital = &own
	default:
		return nil, 0, dErrors.New(dErrors.CodeForbidden, "transfer access requires a hospital or admin role")
	}

	normalizePage(&page)
	requests, total, err := s.requests.List(ctx, filter, page)
	if err != nil {
		return nil, 0, wrapRequestErr(err)
	}
	return requests, total, nil
}

// Get returns one request, visible to admins and to either involved hospital.
func (s *Service) Get(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	if err := requireInvolvement(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// errNoop short-circuits Execute when a transition has already been applied
// with the same effect. The caller returns the current state instead of an
// error.
var errNoop = errors.New("transition already applied")

// transition applies a status change through the transaction runner so it
// shares one serialized boundary with fulfillment. A transition must never
// commit between fulfillment's read and its final write.
func (s *Service) transition(ctx context.Context, id domain.RequestRecordID, validate func(*models.TransferRequest) error, mutate func(*models.TransferRequest)) (*models.TransferRequest, error) {
	var updated *models.TransferRequest
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		var execErr error
		updated, execErr = s.requests.Execute(txCtx, id, validate, mutate)
		return execErr
	})
	return updated, err
}

// Approve moves a Pending request to Approved and binds the source hospital.
// Re-approving with the same source is a no-op; the stock check here is
// advisory, fulfillment re-checks authoritatively.
func (s *Service) Approve(ctx context.Context, id domain.RequestRecordID, source domain.HospitalID) (*models.TransferRequest, error) {
	actor := requestcontext.Actor(ctx)
	if !actor.CanActFor(source) {
		s.observeTransition("approve", "forbidden")
		return nil, dErrors.New(dErrors.CodeForbidden, "only the source hospital or an admin can approve")
	}

	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRequestErr(err)
	}

	if s.hospitals != nil && !source.IsZero() {
		known, err := s.hospitals.Exists(ctx, source)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up hospital")
		}
		if !known {
			return nil, dErrors.New(dErrors.CodeNotFound, "source hospital not found")
		}
	}

	if request.Status == models.StatusPending {
		if err := s.checkAvailability(ctx, source, request); err != nil {
			s.observeTransition("approve", "insufficient_stock")
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	updated, err := s.transition(ctx, id,
		func(r *models.TransferRequest) error {
			if r.Status == models.StatusApproved && r.SourceHospitalID == source {
				return errNoop
			}
			return r.CanApprove(source)
		},
		func(r *models.TransferRequest) {
			r.ApplyApproval(source, actor.ID, now)
		})
	if errors.Is(err, errNoop) {
		s.observeTransition("approve", "noop")
		return request, nil
	}
	if err != nil {
		s.observeTransition("approve", outcomeOf(err))
		return nil, wrapRequestErr(err)
	}

	s.observeTransition("approve", "ok")
	s.emit(ctx, audit.EventTransferApproved, updated, 0, "")
	s.log(ctx, "transfer_approved",
		"request_id", id.String(),
		"request_code", updated.Code,
		"source_hospital_id", source.String())
	return updated, nil
}

// Reject moves a Pending or Approved request to Rejected. Admins and either
// involved hospital may reject; re-rejecting is a no-op.
func (s *Service) Reject(ctx context.Context, id domain.RequestRecordID, reason string) (*models.TransferRequest, error) {
	actor := requestcontext.Actor(ctx)

	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	if err := requireInvolvement(ctx, request); err != nil {
		s.observeTransition("reject", "forbidden")
		return nil, err
	}

	now := requestcontext.Now(ctx)
	updated, err := s.transition(ctx, id,
		func(r *models.TransferRequest) error {
			if r.Status == models.StatusRejected {
				return errNoop
			}
			return r.CanReject()
		},
		func(r *models.TransferRequest) {
			r.ApplyRejection(actor.ID, reason, now)
		})
	if errors.Is(err, errNoop) {
		s.observeTransition("reject", "noop")
		return request, nil
	}
	if err != nil {
		s.observeTransition("reject", outcomeOf(err))
		return nil, wrapRequestErr(err)
	}

	s.observeTransition("reject", "ok")
	s.emit(ctx, audit.EventTransferRejected, updated, 0, reason)
	s.log(ctx, "transfer_rejected", "request_id", id.String(), "request_code", updated.Code)
	return updated, nil
}

// Cancel withdraws a Pending request. Only the destination hospital or an
// admin may cancel; re-cancelling is a no-op.
func (s *Service) Cancel(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error) {
	actor := requestcontext.Actor(ctx)

	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRequestErr(err)
	}
	if !actor.CanActFor(request.DestinationHospitalID) {
		s.observeTransition("cancel", "forbidden")
		return nil, dErrors.New(dErrors.CodeForbidden, "only the requesting hospital or an admin can cancel")
	}

	now := requestcontext.Now(ctx)
	updated, err := s.transition(ctx, id,
		func(r *models.TransferRequest) error {
			if r.Status == models.StatusCancelled {
				return errNoop
			}
			return r.CanCancel()
		},
		func(r *models.TransferRequest) {
			r.ApplyCancellation(actor.ID, now)
		})
	if errors.Is(err, errNoop) {
		s.observeTransition("cancel", "noop")
		return request, nil
	}
	if err != nil {
		s.observeTransition("cancel", outcomeOf(err))
		return nil, wrapRequestErr(err)
	}

	s.observeTransition("cancel", "ok")
	s.emit(ctx, audit.EventTransferCancelled, updated, 0, "")
	s.log(ctx, "transfer_cancelled", "request_id", id.String(), "request_code", updated.Code)
	return updated, nil
}

// Fulfill executes an Approved transfer as one atomic movement: debit the
// source ledger earliest-expiry-first, credit the destination with the same
// units and expiries, and mark the request Fulfilled. All three land together
// or not at all. Fulfillment is never idempotent; exactly one caller wins.
func (s *Service) Fulfill(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error) {
	start := time.Now()
	defer s.observeFulfill(start)

	ctx, span := tracer.Start(ctx, "transfer.Fulfill",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("request_record_id", id.String())))
	defer span.End()

	actor := requestcontext.Actor(ctx)
	now := requestcontext.Now(ctx)

	var fulfilled *models.TransferRequest
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		request, err := s.requests.GetByID(txCtx, id)
		if err != nil {
			return wrapRequestErr(err)
		}
		if err := request.CanFulfill(); err != nil {
			return err
		}
		if !actor.CanActFor(request.SourceHospitalID) {
			return dErrors.New(dErrors.CodeForbidden, "only the source hospital or an admin can fulfill")
		}

		source, err := s.ledgers.GetByKey(txCtx, request.SourceHospitalID, request.BloodGroup, request.Component)
		if errors.Is(err, sentinel.ErrNotFound) {
			return insufficientStock(0, request.Units)
		}
		if err != nil {
			return wrapRequestErr(err)
		}
		if have := source.TotalUnits(); have < request.Units {
			return insufficientStock(have, request.Units)
		}

		consumed, shortage := invmodels.Allocate(source, request.Units)
		if shortage > 0 {
			// The total check above passed, so a shortage here means the
			// ledger moved under us inside the transaction boundary.
			return dErrors.Newf(dErrors.CodeInconsistentState,
				"allocation fell %d units short of the stock total", shortage)
		}

		destination, err := s.ledgers.FindOrCreate(txCtx, request.DestinationHospitalID, request.BloodGroup, request.Component)
		if err != nil {
			return wrapRequestErr(err)
		}
		for _, a := range consumed {
			destination.AddBatch(invmodels.Batch{
				ID:          domain.BatchID(uuid.New()),
				Units:       a.Units,
				CollectedAt: a.CollectedAt,
				ExpiresAt:   a.ExpiresAt,
				Note:        fmt.Sprintf("transfer %s", request.Code),
			})
		}

		if err := s.ledgers.ApplyTransfer(txCtx, source, destination); err != nil {
			return wrapRequestErr(err)
		}

		request.ApplyFulfillment(actor.ID, now)
		if err := s.requests.Update(txCtx, request); err != nil {
			return wrapRequestErr(err)
		}
		fulfilled = request
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(dErrors.CodeOf(err)))
		s.observeTransition("fulfill", outcomeOf(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("request_code", fulfilled.Code),
		attribute.Int("units", fulfilled.Units))
	s.observeTransition("fulfill", "ok")
	s.observeUnitsTransferred(fulfilled.BloodGroup, fulfilled.Component, fulfilled.Units)
	s.emit(ctx, audit.EventTransferFulfilled, fulfilled, fulfilled.Units, "")
	s.log(ctx, "transfer_fulfilled",
		"request_id", id.String(),
		"request_code", fulfilled.Code,
		"source_hospital_id", fulfilled.SourceHospitalID.String(),
		"destination_hospital_id", fulfilled.DestinationHospitalID.String(),
		"units", fulfilled.Units)
	return fulfilled, nil
}

// Delete removes a request record administratively, in any status.
func (s *Service) Delete(ctx context.Context, id domain.RequestRecordID) error {
	actor := requestcontext.Actor(ctx)
	if !actor.IsAdmin() {
		return dErrors.New(dErrors.CodeForbidden, "only admins can delete transfer requests")
	}

	var request *models.TransferRequest
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		var getErr error
		request, getErr = s.requests.GetByID(txCtx, id)
		if getErr != nil {
			return wrapRequestErr(getErr)
		}
		if delErr := s.requests.Delete(txCtx, id); delErr != nil {
			return wrapRequestErr(delErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, audit.EventTransferDeleted, request, 0, "")
	s.log(ctx, "transfer_deleted", "request_id", id.String(), "request_code", request.Code)
	return nil
}

// resolveDestination decides which hospital a new request asks for. Hospital
// actors always request for themselves; admins must name the destination.
func (s *Service) resolveDestination(ctx context.Context, actor domain.Actor, requested domain.HospitalID) (domain.HospitalID, error) {
	var target domain.HospitalID
	switch {
	case actor.IsAdmin():
		if requested.IsZero() {
			return domain.HospitalID{}, dErrors.New(dErrors.CodeValidation, "destination_hospital_id is required")
		}
		target = requested
	case actor.Role == domain.RoleHospital:
		if !requested.IsZero() && requested != actor.HospitalID {
			return domain.HospitalID{}, dErrors.New(dErrors.CodeForbidden, "cannot request stock for another hospital")
		}
		target = actor.HospitalID
	default:
		return domain.HospitalID{}, dErrors.New(dErrors.CodeForbidden, "transfer requests require a hospital or admin role")
	}

	if s.hospitals != nil {
		known, err := s.hospitals.Exists(ctx, target)
		if err != nil {
			return domain.HospitalID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up hospital")
		}
		if !known {
			return domain.HospitalID{}, dErrors.New(dErrors.CodeNotFound, "hospital not found")
		}
	}
	return target, nil
}

// checkAvailability is the advisory stock check at approval time. It reads
// without locking, so stock can still move before fulfillment; the
// authoritative check runs inside the fulfillment transaction.
func (s *Service) checkAvailability(ctx context.Context, source domain.HospitalID, request *models.TransferRequest) error {
	ledger, err := s.ledgers.GetByKey(ctx, source, request.BloodGroup, request.Component)
	if errors.Is(err, sentinel.ErrNotFound) {
		return insufficientStock(0, request.Units)
	}
	if err != nil {
		return wrapRequestErr(err)
	}
	if have := ledger.TotalUnits(); have < request.Units {
		return insufficientStock(have, request.Units)
	}
	return nil
}

func insufficientStock(have, need int) error {
	return dErrors.Newf(dErrors.CodeInsufficientStock, "insufficient stock: have %d, need %d", have, need)
}

func requireInvolvement(ctx context.Context, request *models.TransferRequest) error {
	actor := requestcontext.Actor(ctx)
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == domain.RoleHospital && request.Involves(actor.HospitalID) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "request involves another hospital")
}

func normalizePage(p *store.Page) {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	if p.Sort == "" {
		p.Sort = "-created_at"
	}
}

func wrapRequestErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "transfer request not found")
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConcurrentModification, "transfer request was modified concurrently, retry")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "transfer store failure")
}

// outcomeOf collapses an error into a metric label.
func outcomeOf(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeConflict:
		return "conflict"
	case dErrors.CodeInsufficientStock:
		return "insufficient_stock"
	case dErrors.CodeForbidden:
		return "forbidden"
	case dErrors.CodeConcurrentModification:
		return "concurrent_modification"
	default:
		return "error"
	}
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, request *models.TransferRequest, units int, reason string) {
	if s.audit == nil {
		return
	}
	actor := requestcontext.Actor(ctx)
	_ = s.audit.Emit(ctx, audit.Event{
		Timestamp:             requestcontext.Now(ctx),
		Action:                string(action),
		RequestRecordID:       request.ID,
		RequestCode:           request.Code,
		SourceHospitalID:      request.SourceHospitalID,
		DestinationHospitalID: request.DestinationHospitalID,
		BloodGroup:            request.BloodGroup.String(),
		Component:             request.Component.String(),
		Units:                 units,
		ActorID:               actor.ID.String(),
		ActorRole:             actor.Role.String(),
		CorrelationID:         requestcontext.RequestID(ctx),
		Reason:                reason,
	})
}

func (s *Service) log(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, attributes...)
}

func (s *Service) observeCreated() {
	if s.metrics != nil {
		s.metrics.ObserveCreated()
	}
}

func (s *Service) observeTransition(action, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(action, outcome)
	}
}

func (s *Service) observeUnitsTransferred(group domain.BloodGroup, component domain.Component, units int) {
	if s.metrics != nil {
		s.metrics.ObserveUnitsTransferred(group.String(), component.String(), units)
	}
}

func (s *Service) observeFulfill(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveFulfill(start)
	}
}
