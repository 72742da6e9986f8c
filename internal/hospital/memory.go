package hospital

import (
	"context"
	"sort"
	"sync"

	"bloodledger/pkg/domain"
	"bloodledger/pkg/platform/sentinel"
)

// InMemory is a Directory backed by a map. The server seeds it from
// configuration at startup; there is no runtime mutation beyond Add.
type InMemory struct {
	mu        sync.RWMutex
	hospitals map[domain.HospitalID]*Hospital
}

func NewInMemory(seed ...Hospital) *InMemory {
	d := &InMemory{hospitals: make(map[domain.HospitalID]*Hospital, len(seed))}
	for i := range seed {
		h := seed[i]
		d.hospitals[h.ID] = &h
	}
	return d
}

// Add registers a hospital, replacing any existing entry with the same id.
func (d *InMemory) Add(h Hospital) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hospitals[h.ID] = &h
}

func (d *InMemory) Exists(_ context.Context, id domain.HospitalID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.hospitals[id]
	return ok, nil
}

func (d *InMemory) Get(_ context.Context, id domain.HospitalID) (*Hospital, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hospitals[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	dup := *h
	return &dup, nil
}

func (d *InMemory) List(_ context.Context) ([]*Hospital, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Hospital, 0, len(d.hospitals))
	for _, h := range d.hospitals {
		dup := *h
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
