package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	invmetrics "bloodledger/internal/inventory/metrics"
	"bloodledger/internal/inventory/models"
	"bloodledger/internal/inventory/store"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/audit"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/requestcontext"
)

// LedgerStore is the persistence surface the inventory service needs.
type LedgerStore interface {
	FindOrCreate(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error)
	GetByID(ctx context.Context, id domain.LedgerID) (*models.Ledger, error)
	List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.Ledger, int, error)
	ListAll(ctx context.Context, hospitalID *domain.HospitalID) ([]*models.Ledger, error)
	Update(ctx context.Context, ledger *models.Ledger) error
	Delete(ctx context.Context, id domain.LedgerID) error
}

// HospitalDirectory answers whether a hospital is known to the platform.
type HospitalDirectory interface {
	Exists(ctx context.Context, id domain.HospitalID) (bool, error)
}

// Service orchestrates blood stock ledger management.
type Service struct {
	ledgers   LedgerStore
	hospitals HospitalDirectory
	logger    *slog.Logger
	metrics   *invmetrics.Metrics
	audit     *audit.Publisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *invmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAudit(p *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

// New constructs a Service.
func New(ledgers LedgerStore, hospitals HospitalDirectory, opts ...Option) *Service {
	s := &Service{ledgers: ledgers, hospitals: hospitals}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchInput describes one batch to record. CollectedAt and ExpiresAt are
// optional; the expiry policy fills them in.
type BatchInput struct {
	Units       int
	CollectedAt *time.Time
	ExpiresAt   *time.Time
	Note        string
}

// AddStockInput credits one or more batches to a ledger. HospitalID may be
// empty for hospital actors, who always write to their own ledger.
type AddStockInput struct {
	HospitalID domain.HospitalID
	BloodGroup domain.BloodGroup
	Component  domain.Component
	Batches    []BatchInput
}

// BatchPatch carries the mutable batch fields. Units may be set to zero,
// which removes the batch entirely.
type BatchPatch struct {
	Units       *int
	CollectedAt *time.Time
	ExpiresAt   *time.Time
	Note        *string
}

// ExpirySweep reports what one sweep removed from one ledger.
type ExpirySweep struct {
	LedgerID     domain.LedgerID
	HospitalID   domain.HospitalID
	BloodGroup   domain.BloodGroup
	Component    domain.Component
	UnitsDropped int
}

// addStockAttempts bounds optimistic retries. Appending batches commutes with
// concurrent writes, so replaying against a fresh snapshot is safe.
const addStockAttempts = 3

// AddStock credits batches to the ledger for the triple, creating the ledger
// on first use.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (*models.Ledger, error) {
	start := time.Now()
	defer s.observeAddStock(start)

	if !input.BloodGroup.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid blood group")
	}
	if !input.Component.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid component")
	}
	if len(input.Batches) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one batch is required")
	}

	hospitalID, err := s.resolveHospital(ctx, input.HospitalID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	batches := make([]models.Batch, 0, len(input.Batches))
	added := 0
	for _, in := range input.Batches {
		b, err := models.NewBatch(input.Component, in.Units, in.CollectedAt, in.ExpiresAt, in.Note, now)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
		added += b.Units
	}

	var ledger *models.Ledger
	for attempt := 0; ; attempt++ {
		ledger, err = s.ledgers.FindOrCreate(ctx, hospitalID, input.BloodGroup, input.Component)
		if err != nil {
			return nil, wrapLedgerErr(err)
		}
		for _, b := range batches {
			ledger.AddBatch(b)
		}
		err = s.ledgers.Update(ctx, ledger)
		if err == nil {
			break
		}
		if errors.Is(err, sentinel.ErrVersionMismatch) && attempt < addStockAttempts-1 {
			continue
		}
		return nil, wrapLedgerErr(err)
	}

	s.observeUnitsAdded(input.BloodGroup, input.Component, added)
	s.emit(ctx, audit.EventStockAdded, ledger, added)
	s.log(ctx, "stock_added",
		"ledger_id", ledger.ID.String(),
		"hospital_id", hospitalID.String(),
		"blood_group", input.BloodGroup.String(),
		"component", input.Component.String(),
		"units", added)
	return ledger, nil
}

// ListLedgers returns one page of ledgers. Hospital actors only ever see
// their own hospital's ledgers regardless of the requested filter.
func (s *Service) ListLedgers(ctx context.Context, filter store.Filter, page store.Page) ([]*models.Ledger, int, error) {
	actor := requestcontext.Actor(ctx)
	switch {
	case actor.IsAdmin():
	case actor.Role == domain.RoleHospital:
		own := actor.HospitalID
		filter.HospitalID = &own
	default:
		return nil, 0, dErrors.New(dErrors.CodeForbidden, "stock access requires a hospital or admin role")
	}

	normalizePage(&page)
	ledgers, total, err := s.ledgers.List(ctx, filter, page)
	if err != nil {
		return nil, 0, wrapLedgerErr(err)
	}
	return ledgers, total, nil
}

// GetLedger returns one ledger by id.
func (s *Service) GetLedger(ctx context.Context, id domain.LedgerID) (*models.Ledger, error) {
	ledger, err := s.ledgers.GetByID(ctx, id)
	if err != nil {
		return nil, wrapLedgerErr(err)
	}
	if err := s.requireAccess(ctx, ledger.HospitalID); err != nil {
		return nil, err
	}
	return ledger, nil
}

// UpdateBatch patches one batch in place. Setting units to zero removes the
// batch; a ledger never stores an empty batch.
func (s *Service) UpdateBatch(ctx context.Context, ledgerID domain.LedgerID, batchID domain.BatchID, patch BatchPatch) (*models.Ledger, error) {
	if patch.Units != nil && *patch.Units < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "units must be >= 0")
	}

	ledger, err := s.ledgers.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, wrapLedgerErr(err)
	}
	if err := s.requireAccess(ctx, ledger.HospitalID); err != nil {
		return nil, err
	}

	batch, err := ledger.Batch(batchID)
	if err != nil {
		return nil, err
	}

	if patch.Units != nil && *patch.Units == 0 {
		if err := ledger.RemoveBatch(batchID); err != nil {
			return nil, err
		}
	} else {
		if patch.Units != nil {
			batch.Units = *patch.Units
		}
		if patch.CollectedAt != nil && !patch.CollectedAt.IsZero() {
			batch.CollectedAt = *patch.CollectedAt
		}
		if patch.ExpiresAt != nil && !patch.ExpiresAt.IsZero() {
			batch.ExpiresAt = *patch.ExpiresAt
		}
		if patch.Note != nil {
			batch.Note = *patch.Note
		}
	}

	if err := s.ledgers.Update(ctx, ledger); err != nil {
		return nil, wrapLedgerErr(err)
	}
	return ledger, nil
}

// DeleteBatch removes one batch from a ledger.
func (s *Service) DeleteBatch(ctx context.Context, ledgerID domain.LedgerID, batchID domain.BatchID) (*models.Ledger, error) {
	ledger, err := s.ledgers.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, wrapLedgerErr(err)
	}
	if err := s.requireAccess(ctx, ledger.HospitalID); err != nil {
		return nil, err
	}
	if err := ledger.RemoveBatch(batchID); err != nil {
		return nil, err
	}
	if err := s.ledgers.Update(ctx, ledger); err != nil {
		return nil, wrapLedgerErr(err)
	}
	return ledger, nil
}

// DeleteLedger removes a ledger document and frees its unique key.
func (s *Service) DeleteLedger(ctx context.Context, id domain.LedgerID) error {
	ledger, err := s.ledgers.GetByID(ctx, id)
	if err != nil {
		return wrapLedgerErr(err)
	}
	if err := s.requireAccess(ctx, ledger.HospitalID); err != nil {
		return err
	}
	if err := s.ledgers.Delete(ctx, id); err != nil {
		return wrapLedgerErr(err)
	}
	s.log(ctx, "ledger_deleted", "ledger_id", id.String())
	return nil
}

// RemoveExpired sweeps expired batches out of every ledger in scope. Expired
// stock is never consumed by reads or transfers; this is the explicit
// maintenance path that drops it.
func (s *Service) RemoveExpired(ctx context.Context, hospitalID *domain.HospitalID) ([]ExpirySweep, error) {
	actor := requestcontext.Actor(ctx)
	switch {
	case actor.IsAdmin():
	case actor.Role == domain.RoleHospital:
		own := actor.HospitalID
		if hospitalID != nil && *hospitalID != own {
			return nil, dErrors.New(dErrors.CodeForbidden, "cannot sweep another hospital's stock")
		}
		hospitalID = &own
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "stock access requires a hospital or admin role")
	}

	ledgers, err := s.ledgers.ListAll(ctx, hospitalID)
	if err != nil {
		return nil, wrapLedgerErr(err)
	}

	now := requestcontext.Now(ctx)
	var sweeps []ExpirySweep
	for _, ledger := range ledgers {
		dropped := ledger.RemoveExpired(now)
		if dropped == 0 {
			continue
		}
		if err := s.ledgers.Update(ctx, ledger); err != nil {
			// A concurrent write moved this ledger; skip it and let the
			// next sweep catch it.
			if errors.Is(err, sentinel.ErrVersionMismatch) {
				continue
			}
			return nil, wrapLedgerErr(err)
		}
		s.observeUnitsExpired(ledger.BloodGroup, ledger.Component, dropped)
		s.emit(ctx, audit.EventExpiredStockRemoved, ledger, dropped)
		sweeps = append(sweeps, ExpirySweep{
			LedgerID:     ledger.ID,
			HospitalID:   ledger.HospitalID,
			BloodGroup:   ledger.BloodGroup,
			Component:    ledger.Component,
			UnitsDropped: dropped,
		})
	}
	if len(sweeps) > 0 {
		s.log(ctx, "expired_stock_removed", "ledgers_swept", len(sweeps))
	}
	return sweeps, nil
}

// resolveHospital decides which hospital a write lands on. Hospital actors
// always write to their own ledger; admins must name the hospital.
func (s *Service) resolveHospital(ctx context.Context, requested domain.HospitalID) (domain.HospitalID, error) {
	actor := requestcontext.Actor(ctx)
	var target domain.HospitalID
	switch {
	case actor.IsAdmin():
		if requested.IsZero() {
			return domain.HospitalID{}, dErrors.New(dErrors.CodeValidation, "hospital_id is required")
		}
		target = requested
	case actor.Role == domain.RoleHospital:
		if !requested.IsZero() && requested != actor.HospitalID {
			return domain.HospitalID{}, dErrors.New(dErrors.CodeForbidden, "cannot write another hospital's stock")
		}
		target = actor.HospitalID
	default:
		return domain.HospitalID{}, dErrors.New(dErrors.CodeForbidden, "stock writes require a hospital or admin role")
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

func (s *Service) requireAccess(ctx context.Context, hospitalID domain.HospitalID) error {
	actor := requestcontext.Actor(ctx)
	if !actor.CanActFor(hospitalID) {
		return dErrors.New(dErrors.CodeForbidden, "ledger belongs to another hospital")
	}
	return nil
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
		p.Sort = "-updated_at"
	}
}

func wrapLedgerErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "ledger not found")
	case errors.Is(err, sentinel.ErrVersionMismatch):
		return dErrors.New(dErrors.CodeConcurrentModification, "ledger was modified concurrently, retry")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "ledger store failure")
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

// emit records a stock movement on the audit trail. Stock events have no
// transfer request attached, so only the ledger coordinates are filled in.
func (s *Service) emit(ctx context.Context, action audit.AuditEvent, ledger *models.Ledger, units int) {
	if s.audit == nil {
		return
	}
	actor := requestcontext.Actor(ctx)
	_ = s.audit.Emit(ctx, audit.Event{
		Timestamp:             requestcontext.Now(ctx),
		Action:                string(action),
		DestinationHospitalID: ledger.HospitalID,
		BloodGroup:            ledger.BloodGroup.String(),
		Component:             ledger.Component.String(),
		Units:                 units,
		ActorID:               actor.ID.String(),
		ActorRole:             actor.Role.String(),
		CorrelationID:         requestcontext.RequestID(ctx),
	})
}

func (s *Service) observeAddStock(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveAddStock(start)
	}
}

func (s *Service) observeUnitsAdded(group domain.BloodGroup, component domain.Component, units int) {
	if s.metrics != nil {
		s.metrics.ObserveUnitsAdded(group.String(), component.String(), units)
	}
}

func (s *Service) observeUnitsExpired(group domain.BloodGroup, component domain.Component, units int) {
	if s.metrics != nil {
		s.metrics.ObserveUnitsExpired(group.String(), component.String(), units)
	}
}
