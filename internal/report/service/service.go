package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bloodledger/internal/inventory/models"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/requestcontext"
)

// LedgerStore is the read-only slice of the inventory store reporting needs.
type LedgerStore interface {
	ListAll(ctx context.Context, hospitalID *domain.HospitalID) ([]*models.Ledger, error)
}

// SummaryCache caches computed summaries. Implementations are best-effort; a
// miss or a failed write never fails the report.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*Summary, bool)
	Set(ctx context.Context, key string, summary *Summary)
}

// Service computes stock reports. Reporting is a pure projection over the
// ledgers: it never mutates stock, and expired batches stay in place until an
// explicit sweep removes them.
type Service struct {
	ledgers LedgerStore
	cache   SummaryCache
	logger  *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithCache(cache SummaryCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func New(ledgers LedgerStore, opts ...Option) *Service {
	s := &Service{ledgers: ledgers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// defaultHorizonDays is the expiring-soon window when the caller does not
// choose one.
const defaultHorizonDays = 7

// Summary is the aggregate stock view. TotalUnits counts usable units only;
// expired units are reported separately, never silently dropped.
type Summary struct {
	HospitalID *domain.HospitalID `json:"hospital_id,omitempty"`

	TotalUnits  int            `json:"total_units"`
	ByGroup     map[string]int `json:"by_group"`
	ByComponent map[string]int `json:"by_component"`
	// Matrix maps blood group to component to usable units.
	Matrix map[string]map[string]int `json:"matrix"`

	ExpiringSoon HorizonBreakdown `json:"expiring_soon"`
	Expired      Breakdown        `json:"expired"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Breakdown counts units split by blood group and by component.
type Breakdown struct {
	Total       int            `json:"total"`
	ByGroup     map[string]int `json:"by_group"`
	ByComponent map[string]int `json:"by_component"`
}

func newBreakdown() Breakdown {
	return Breakdown{ByGroup: map[string]int{}, ByComponent: map[string]int{}}
}

func (b *Breakdown) add(group, component string, units int) {
	b.Total += units
	b.ByGroup[group] += units
	b.ByComponent[component] += units
}

// HorizonBreakdown is a Breakdown bounded by a day horizon.
type HorizonBreakdown struct {
	Days int `json:"days"`
	Breakdown
}

// UnitsScope selects which batches a units listing covers.
type UnitsScope string

const (
	ScopeAll          UnitsScope = "all"
	ScopeExpired      UnitsScope = "expired"
	ScopeExpiringSoon UnitsScope = "expiring_soon"
)

// ParseUnitsScope constructs a UnitsScope from external input. Empty means
// all.
func ParseUnitsScope(s string) (UnitsScope, error) {
	switch UnitsScope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeExpired:
		return ScopeExpired, nil
	case ScopeExpiringSoon:
		return ScopeExpiringSoon, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "scope must be all, expired, or expiring_soon")
}

// UnitsQuery narrows a units listing.
type UnitsQuery struct {
	Scope       UnitsScope
	HorizonDays int
	BloodGroup  *domain.BloodGroup
	Component   *domain.Component
}

// UnitsRow is one batch in a units listing.
type UnitsRow struct {
	LedgerID   domain.LedgerID   `json:"ledger_id"`
	HospitalID domain.HospitalID `json:"hospital_id"`
	BloodGroup domain.BloodGroup `json:"blood_group"`
	Component  domain.Component  `json:"component"`
	Units      int               `json:"units"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Summary aggregates the ledgers in scope. Hospital actors always get their
// own hospital's view; admins may scope to one hospital or see the platform.
func (s *Service) Summary(ctx context.Context, hospitalID *domain.HospitalID, horizonDays int) (*Summary, error) {
	scope, err := resolveScope(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	if horizonDays < 1 {
		horizonDays = defaultHorizonDays
	}

	key := cacheKey(scope, horizonDays)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	ledgers, err := s.ledgers.ListAll(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ledgers for report")
	}

	now := requestcontext.Now(ctx)
	horizon := now.AddDate(0, 0, horizonDays)
	summary := &Summary{
		HospitalID:   scope,
		ByGroup:      map[string]int{},
		ByComponent:  map[string]int{},
		Matrix:       map[string]map[string]int{},
		ExpiringSoon: HorizonBreakdown{Days: horizonDays, Breakdown: newBreakdown()},
		Expired:      newBreakdown(),
		GeneratedAt:  now,
	}

	for _, ledger := range ledgers {
		group := ledger.BloodGroup.String()
		component := ledger.Component.String()
		for _, b := range ledger.Batches {
			if b.Expired(now) {
				summary.Expired.add(group, component, b.Units)
				continue
			}
			summary.TotalUnits += b.Units
			summary.ByGroup[group] += b.Units
			summary.ByComponent[component] += b.Units
			if summary.Matrix[group] == nil {
				summary.Matrix[group] = map[string]int{}
			}
			summary.Matrix[group][component] += b.Units
			if !b.ExpiresAt.After(horizon) {
				summary.ExpiringSoon.add(group, component, b.Units)
			}
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, summary)
	}
	return summary, nil
}

// Units lists batches in scope, filtered to all, expired, or expiring soon,
// optionally narrowed to one blood group or component.
func (s *Service) Units(ctx context.Context, hospitalID *domain.HospitalID, query UnitsQuery) ([]UnitsRow, error) {
	scope, err := resolveScope(ctx, hospitalID)
	if err != nil {
		return nil, err
	}
	horizonDays := query.HorizonDays
	if horizonDays < 1 {
		horizonDays = defaultHorizonDays
	}

	ledgers, err := s.ledgers.ListAll(ctx, scope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ledgers for report")
	}

	now := requestcontext.Now(ctx)
	horizon := now.AddDate(0, 0, horizonDays)

	rows := []UnitsRow{}
	for _, ledger := range ledgers {
		if query.BloodGroup != nil && ledger.BloodGroup != *query.BloodGroup {
			continue
		}
		if query.Component != nil && ledger.Component != *query.Component {
			continue
		}
		for _, b := range ledger.Batches {
			switch query.Scope {
			case ScopeExpired:
				if !b.Expired(now) {
					continue
				}
			case ScopeExpiringSoon:
				if b.Expired(now) || b.ExpiresAt.After(horizon) {
					continue
				}
			}
			rows = append(rows, UnitsRow{
				LedgerID:   ledger.ID,
				HospitalID: ledger.HospitalID,
				BloodGroup: ledger.BloodGroup,
				Component:  ledger.Component,
				Units:      b.Units,
				ExpiresAt:  b.ExpiresAt,
			})
		}
	}
	return rows, nil
}

// resolveScope narrows the report to what the actor may see.
func resolveScope(ctx context.Context, requested *domain.HospitalID) (*domain.HospitalID, error) {
	actor := requestcontext.Actor(ctx)
	switch {
	case actor.IsAdmin():
		return requested, nil
	case actor.Role == domain.RoleHospital:
		if requested != nil && *requested != actor.HospitalID {
			return nil, dErrors.New(dErrors.CodeForbidden, "cannot report on another hospital's stock")
		}
		own := actor.HospitalID
		return &own, nil
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "reports require a hospital or admin role")
	}
}

func cacheKey(scope *domain.HospitalID, horizonDays int) string {
	target := "all"
	if scope != nil {
		target = scope.String()
	}
	return fmt.Sprintf("report:summary:%s:%d", target, horizonDays)
}
