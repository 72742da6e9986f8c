package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/asaskevich/govalidator"

	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/service"
	"bloodledger/internal/transfer/store"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

type createRequest struct {
	DestinationHospitalID string     `json:"destination_hospital_id" valid:"uuid,optional"`
	BloodGroup            string     `json:"blood_group" valid:"required"`
	Component             string     `json:"component" valid:"required"`
	Units                 int        `json:"units"`
	PreferredDate         *time.Time `json:"preferred_date,omitempty"`
	Note                  string     `json:"note,omitempty"`
}

func (r *createRequest) toInput() (service.CreateInput, error) {
	if _, err := govalidator.ValidateStruct(r); err != nil {
		return service.CreateInput{}, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	group, err := domain.ParseBloodGroup(r.BloodGroup)
	if err != nil {
		return service.CreateInput{}, err
	}
	component, err := domain.ParseComponent(r.Component)
	if err != nil {
		return service.CreateInput{}, err
	}

	input := service.CreateInput{
		BloodGroup:    group,
		Component:     component,
		Units:         r.Units,
		PreferredDate: r.PreferredDate,
		Note:          r.Note,
	}
	if r.DestinationHospitalID != "" {
		input.DestinationHospitalID, err = domain.ParseHospitalID(r.DestinationHospitalID)
		if err != nil {
			return service.CreateInput{}, err
		}
	}
	return input, nil
}

type approveRequest struct {
	SourceHospitalID string `json:"source_hospital_id" valid:"required,uuid"`
}

func (r *approveRequest) source() (domain.HospitalID, error) {
	if _, err := govalidator.ValidateStruct(r); err != nil {
		return domain.HospitalID{}, dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return domain.ParseHospitalID(r.SourceHospitalID)
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

func parseListQuery(r *http.Request) (store.Filter, store.Page, error) {
	q := r.URL.Query()

	var filter store.Filter
	if raw := q.Get("hospital_id"); raw != "" {
		id, err := domain.ParseHospitalID(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.InvolvedHospital = &id
	}
	if raw := q.Get("destination_hospital_id"); raw != "" {
		id, err := domain.ParseHospitalID(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.DestinationID = &id
	}
	if raw := q.Get("source_hospital_id"); raw != "" {
		id, err := domain.ParseHospitalID(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.SourceID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return store.Filter{}, store.Page{}, err
		}
		filter.Status = &status
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

type requestResponse struct {
	ID                    string     `json:"id"`
	Code                  string     `json:"code"`
	DestinationHospitalID string     `json:"destination_hospital_id"`
	SourceHospitalID      string     `json:"source_hospital_id,omitempty"`
	BloodGroup            string     `json:"blood_group"`
	Component             string     `json:"component"`
	Units                 int        `json:"units"`
	Status                string     `json:"status"`
	PreferredDate         *time.Time `json:"preferred_date,omitempty"`
	Note                  string     `json:"note,omitempty"`
	ApprovedAt            *time.Time `json:"approved_at,omitempty"`
	RejectedAt            *time.Time `json:"rejected_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	FulfilledAt           *time.Time `json:"fulfilled_at,omitempty"`
	Version               int64      `json:"version"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func toRequestResponse(r *models.TransferRequest) requestResponse {
	out := requestResponse{
		ID:                    r.ID.String(),
		Code:                  r.Code,
		DestinationHospitalID: r.DestinationHospitalID.String(),
		BloodGroup:            r.BloodGroup.String(),
		Component:             r.Component.String(),
		Units:                 r.Units,
		Status:                r.Status.String(),
		PreferredDate:         r.PreferredDate,
		Note:                  r.Note,
		ApprovedAt:            r.ApprovedAt,
		RejectedAt:            r.RejectedAt,
		CancelledAt:           r.CancelledAt,
		FulfilledAt:           r.FulfilledAt,
		Version:               r.Version,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if !r.SourceHospitalID.IsZero() {
		out.SourceHospitalID = r.SourceHospitalID.String()
	}
	return out
}

type listResponse struct {
	Items []requestResponse `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func toListResponse(requests []*models.TransferRequest, total int, page store.Page) listResponse {
	items := make([]requestResponse, 0, len(requests))
	for _, r := range requests {
		items = append(items, toRequestResponse(r))
	}
	return listResponse{Items: items, Total: total, Page: page.Number, Limit: page.Size}
}
