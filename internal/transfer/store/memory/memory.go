package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/store"
	"bloodledger/pkg/domain"
	"bloodledger/pkg/platform/sentinel"
	"bloodledger/pkg/requestcontext"
)

// InMemory is the development and test implementation of store.Store. One
// mutex serializes every write, matching the at-most-one-committed-writer
// guarantee the Postgres store gets from version checks and row locks.
type InMemory struct {
	mu       sync.RWMutex
	requests map[domain.RequestRecordID]*models.TransferRequest
	byCode   map[string]domain.RequestRecordID
}

func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[domain.RequestRecordID]*models.TransferRequest),
		byCode:   make(map[string]domain.RequestRecordID),
	}
}

func (s *InMemory) Create(_ context.Context, request *models.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[request.Code]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.requests[request.ID] = request.Clone()
	s.byCode[request.Code] = request.ID
	return nil
}

func (s *InMemory) GetByID(_ context.Context, id domain.RequestRecordID) (*models.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *InMemory) GetByCode(_ context.Context, code string) (*models.TransferRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.requests[id].Clone(), nil
}

func (s *InMemory) List(_ context.Context, filter store.Filter, page store.Page) ([]*models.TransferRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.TransferRequest
	for _, r := range s.requests {
		if matches(r, filter) {
			matched = append(matched, r)
		}
	}
	sortRequests(matched, page.Sort)

	total := len(matched)
	start := (page.Number - 1) * page.Size
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []*models.TransferRequest{}, total, nil
	}
	end := min(start+page.Size, total)

	out := make([]*models.TransferRequest, 0, end-start)
	for _, r := range matched[start:end] {
		out = append(out, r.Clone())
	}
	return out, total, nil
}

func (s *InMemory) Update(ctx context.Context, request *models.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(ctx, request)
}

func (s *InMemory) Execute(ctx context.Context, id domain.RequestRecordID,
	validate func(r *models.TransferRequest) error,
	mutate func(r *models.TransferRequest)) (*models.TransferRequest, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	if err := s.updateLocked(ctx, working); err != nil {
		return nil, err
	}
	return working.Clone(), nil
}

func (s *InMemory) Delete(_ context.Context, id domain.RequestRecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byCode, r.Code)
	delete(s.requests, id)
	return nil
}

func (s *InMemory) updateLocked(ctx context.Context, request *models.TransferRequest) error {
	current, ok := s.requests[request.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != request.Version {
		return sentinel.ErrVersionMismatch
	}
	request.Version++
	request.UpdatedAt = requestcontext.Now(ctx)
	s.requests[request.ID] = request.Clone()
	return nil
}

func matches(r *models.TransferRequest, f store.Filter) bool {
	if f.InvolvedHospital != nil && !r.Involves(*f.InvolvedHospital) {
		return false
	}
	if f.DestinationID != nil && r.DestinationHospitalID != *f.DestinationID {
		return false
	}
	if f.SourceID != nil && r.SourceHospitalID != *f.SourceID {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.BloodGroup != nil && r.BloodGroup != *f.BloodGroup {
		return false
	}
	if f.Component != nil && r.Component != *f.Component {
		return false
	}
	return true
}

func sortRequests(requests []*models.TransferRequest, key string) {
	desc := strings.HasPrefix(key, "-")
	col := strings.TrimPrefix(key, "-")

	less := func(a, b *models.TransferRequest) bool {
		switch col {
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "status":
			return a.Status < b.Status
		case "units":
			return a.Units < b.Units
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		if desc {
			return less(requests[j], requests[i])
		}
		return less(requests[i], requests[j])
	})
}
