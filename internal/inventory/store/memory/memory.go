package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"bloodledger/internal/inventory/models"
	"bloodledger/internal/inventory/store"
	"bloodledger/pkg/domain"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/requestcontext"
)

type ledgerKey struct {
	hospital  domain.HospitalID
	group     domain.BloodGroup
	component domain.Component
}

// InMemory is the development and test implementation of store.Store. Every
// method is atomic under one mutex, which gives the same
// at-most-one-committed-writer guarantee the Postgres store gets from
// version-checked updates.
type InMemory struct {
	mu      sync.RWMutex
	ledgers map[domain.LedgerID]*models.Ledger
	byKey   map[ledgerKey]domain.LedgerID
}

func NewInMemory() *InMemory {
	return &InMemory{
		ledgers: make(map[domain.LedgerID]*models.Ledger),
		byKey:   make(map[ledgerKey]domain.LedgerID),
	}
}

func (s *InMemory) FindOrCreate(ctx context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey{hospitalID, group, component}
	if id, ok := s.byKey[key]; ok {
		return s.ledgers[id].Clone(), nil
	}

	now := requestcontext.Now(ctx)
	ledger := &models.Ledger{
		ID:         domain.LedgerID(uuid.New()),
		HospitalID: hospitalID,
		BloodGroup: group,
		Component:  component,
		Batches:    []models.Batch{},
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.ledgers[ledger.ID] = ledger
	s.byKey[key] = ledger.ID
	return ledger.Clone(), nil
}

func (s *InMemory) GetByID(_ context.Context, id domain.LedgerID) (*models.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return ledger.Clone(), nil
}

func (s *InMemory) GetByKey(_ context.Context, hospitalID domain.HospitalID, group domain.BloodGroup, component domain.Component) (*models.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[ledgerKey{hospitalID, group, component}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.ledgers[id].Clone(), nil
}

func (s *InMemory) List(_ context.Context, filter store.Filter, page store.Page) ([]*models.Ledger, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Ledger
	for _, l := range s.ledgers {
		if matches(l, filter) {
			matched = append(matched, l)
		}
	}
	sortLedgers(matched, page.Sort)

	total := len(matched)
	start := (page.Number - 1) * page.Size
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []*models.Ledger{}, total, nil
	}
	end := min(start+page.Size, total)

	out := make([]*models.Ledger, 0, end-start)
	for _, l := range matched[start:end] {
		out = append(out, l.Clone())
	}
	return out, total, nil
}

func (s *InMemory) ListAll(_ context.Context, hospitalID *domain.HospitalID) ([]*models.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Ledger
	for _, l := range s.ledgers {
		if hospitalID != nil && l.HospitalID != *hospitalID {
			continue
		}
		out = append(out, l.Clone())
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, ledger *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(ctx, ledger)
}

func (s *InMemory) Delete(_ context.Context, id domain.LedgerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byKey, ledgerKey{ledger.HospitalID, ledger.BloodGroup, ledger.Component})
	delete(s.ledgers, id)
	return nil
}

func (s *InMemory) ApplyTransfer(ctx context.Context, src, dst *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate both versions before touching either document so a stale
	// writer leaves no partial commit behind.
	for _, l := range []*models.Ledger{src, dst} {
		current, ok := s.ledgers[l.ID]
		if !ok {
			return sentinel.ErrNotFound
		}
		if current.Version != l.Version {
			return sentinel.ErrVersionMismatch
		}
	}
	if err := s.updateLocked(ctx, src); err != nil {
		return err
	}
	return s.updateLocked(ctx, dst)
}

func (s *InMemory) updateLocked(ctx context.Context, ledger *models.Ledger) error {
	current, ok := s.ledgers[ledger.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != ledger.Version {
		return sentinel.ErrVersionMismatch
	}
	ledger.Version++
	ledger.UpdatedAt = requestcontext.Now(ctx)
	s.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

func matches(l *models.Ledger, f store.Filter) bool {
	if f.HospitalID != nil && l.HospitalID != *f.HospitalID {
		return false
	}
	if f.BloodGroup != nil && l.BloodGroup != *f.BloodGroup {
		return false
	}
	if f.Component != nil && l.Component != *f.Component {
		return false
	}
	return true
}

func sortLedgers(ledgers []*models.Ledger, key string) {
	desc := strings.HasPrefix(key, "-")
	col := strings.TrimPrefix(key, "-")

	less := func(a, b *models.Ledger) bool {
		switch col {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "blood_group":
			return a.BloodGroup < b.BloodGroup
		case "component":
			return a.Component < b.Component
		default:
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
	}
	sort.SliceStable(ledgers, func(i, j int) bool {
		if desc {
			return less(ledgers[j], ledgers[i])
		}
		return less(ledgers[i], ledgers[j])
	})
}
