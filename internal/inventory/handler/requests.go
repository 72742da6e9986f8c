package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/asaskevich/govalidator"

	"bloodledger/internal/inventory/models"
	"bloodledger/internal/inventory/service"
	"bloodledger/internal/inventory/store"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

type addStockRequest struct {
	HospitalID string         `json:"hospital_id" valid:"uuid,optional"`
	BloodGroup string         `json:"blood_group" valid:"required"`
	Component  string         `json:"component" valid:"required"`
	Batches    []batchRequest `json:"batches"`
}

type batchRequest struct {
	Units       int        `json:"units"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Note        string     `json:"note,omitempty"`
}

func (r *addStockRequest) toInput() (service.AddStockInput, error) {
	if _, err := govalidator.ValidateStruct(r); err != nil {
		return service.AddStockInput{}, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	group, err := domain.ParseBloodGroup(r.BloodGroup)
	if err != nil {
		return service.AddStockInput{}, err
	}
	component, err := domain.ParseComponent(r.Component)
	if err != nil {
		return service.AddStockInput{}, err
	}

	input := service.AddStockInput{BloodGroup: group, Component: component}
	if r.HospitalID != "" {
		input.HospitalID, err = domain.ParseHospitalID(r.HospitalID)
		if err != nil {
			return service.AddStockInput{}, err
		}
	}
	for _, b := range r.Batches {
		input.Batches = append(input.Batches, service.BatchInput{
			Units:       b.Units,
			CollectedAt: b.CollectedAt,
			ExpiresAt:   b.ExpiresAt,
			Note:        b.Note,
		})
	}
	return input, nil
}

type updateBatchRequest struct {
	Units       *int       `json:"units,omitempty"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Note        *string    `json:"note,omitempty"`
}

func (r *updateBatchRequest) toPatch() service.BatchPatch {
	return service.BatchPatch{
		Units:       r.Units,
		CollectedAt: r.CollectedAt,
		ExpiresAt:   r.ExpiresAt,
		Note:        r.Note,
	}
}

func parseListQuery(r *http.Request) (store.Filter, store.Page, error) {
	q := r.URL.Query()

	var filter store.Filter
	if raw := q.Get("hospital_id"); raw != "" {
		id, err := domain.ParseHospitalID(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.HospitalID = &id
	}
	if raw := q.Get("blood_group"); raw != "" {
		group, err := domain.ParseBloodGroup(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.BloodGroup = &group
	}
	if raw := q.Get("component"); raw != "" {
		component, err := domain.ParseComponent(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.Component = &component
	}

	page := store.Page{Sort: q.Get("sort")}
	var err error
	if page.Number, err = queryInt(q.Get("page")); err != nil {
		return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "page must be an integer")
	}
	if page.Size, err = queryInt(q.Get("limit")); err != nil {
		return store.Filter{}, store.Page{}, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer")
	}
	// Defaults are applied at the edge so responses echo the effective page.
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = 20
	}
	if page.Size > 100 {
		page.Size = 100
	}
	return filter, page, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

type batchResponse struct {
	ID          string    `json:"id"`
	Units       int       `json:"units"`
	CollectedAt time.Time `json:"collected_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Note        string    `json:"note,omitempty"`
}

type ledgerResponse struct {
	ID             string          `json:"id"`
	HospitalID     string          `json:"hospital_id"`
	BloodGroup     string          `json:"blood_group"`
	Component      string          `json:"component"`
	TotalUnits     int             `json:"total_units"`
	EarliestExpiry *time.Time      `json:"earliest_expiry,omitempty"`
	Batches        []batchResponse `json:"batches"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toLedgerResponse(l *models.Ledger) ledgerResponse {
	batches := make([]batchResponse, 0, len(l.Batches))
	for _, b := range l.Batches {
		batches = append(batches, batchResponse{
			ID:          b.ID.String(),
			Units:       b.Units,
			CollectedAt: b.CollectedAt,
			ExpiresAt:   b.ExpiresAt,
			Note:        b.Note,
		})
	}
	return ledgerResponse{
		ID:             l.ID.String(),
		HospitalID:     l.HospitalID.String(),
		BloodGroup:     l.BloodGroup.String(),
		Component:      l.Component.String(),
		TotalUnits:     l.TotalUnits(),
		EarliestExpiry: l.EarliestExpiry(),
		Batches:        batches,
		Version:        l.Version,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

type listResponse struct {
	Items []ledgerResponse `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

func toListResponse(ledgers []*models.Ledger, total int, page store.Page) listResponse {
	items := make([]ledgerResponse, 0, len(ledgers))
	for _, l := range ledgers {
		items = append(items, toLedgerResponse(l))
	}
	return listResponse{Items: items, Total: total, Page: page.Number, Limit: page.Size}
}

type sweepEntry struct {
	LedgerID     string `json:"ledger_id"`
	HospitalID   string `json:"hospital_id"`
	BloodGroup   string `json:"blood_group"`
	Component    string `json:"component"`
	UnitsDropped int    `json:"units_dropped"`
}

type sweepResponse struct {
	Swept []sweepEntry `json:"swept"`
	Total int          `json:"total_units_dropped"`
}

func toSweepResponse(sweeps []service.ExpirySweep) sweepResponse {
	out := sweepResponse{Swept: []sweepEntry{}}
	for _, s := range sweeps {
		out.Swept = append(out.Swept, sweepEntry{
			LedgerID:     s.LedgerID.String(),
			HospitalID:   s.HospitalID.String(),
			BloodGroup:   s.BloodGroup.String(),
			Component:    s.Component.String(),
			UnitsDropped: s.UnitsDropped,
		})
		out.Total += s.UnitsDropped
	}
	return out
}
