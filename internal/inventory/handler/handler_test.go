package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bloodledger/internal/inventory/handler/mocks"
	"bloodledger/internal/inventory/models"
	"bloodledger/internal/inventory/service"
	"bloodledger/internal/inventory/store"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

type stubValidator struct {
	actor domain.Actor
	err   error
}

func (v stubValidator) ValidateToken(string) (domain.Actor, error) {
	return v.actor, v.err
}

type StockHandlerSuite struct {
	suite.Suite
	hospitalID domain.HospitalID
}

func TestStockHandlerSuite(t *testing.T) {
	suite.Run(t, new(StockHandlerSuite))
}

func (s *StockHandlerSuite) SetupTest() {
	s.hospitalID = domain.HospitalID(uuid.New())
}

func (s *StockHandlerSuite) newRouter(actor domain.Actor) (http.Handler, *mocks.MockService) {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(mockService, logger, nil, stubValidator{actor: actor})
	r := chi.NewRouter()
	h.Register(r)
	return r, mockService
}

func (s *StockHandlerSuite) do(router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer token")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func (s *StockHandlerSuite) sampleLedger() *models.Ledger {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.Ledger{
		ID:         domain.LedgerID(uuid.New()),
		HospitalID: s.hospitalID,
		BloodGroup: domain.BloodGroupOPos,
		Component:  domain.ComponentRBC,
		Batches: []models.Batch{{
			ID:          domain.BatchID(uuid.New()),
			Units:       10,
			CollectedAt: now,
			ExpiresAt:   now.AddDate(0, 0, 42),
		}},
		Version:   2,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func hospitalActor(id domain.HospitalID) domain.Actor {
	return domain.Actor{Role: domain.RoleHospital, ID: uuid.New(), HospitalID: id}
}

func (s *StockHandlerSuite) TestAddStock() {
	s.Run("creates stock and returns the ledger view", func() {
		router, mockService := s.newRouter(hospitalActor(s.hospitalID))
		ledger := s.sampleLedger()
		mockService.EXPECT().
			AddStock(gomock.Any(), service.AddStockInput{
				BloodGroup: domain.BloodGroupOPos,
				Component:  domain.ComponentRBC,
				Batches:    []service.BatchInput{{Units: 10}},
			}).
			Return(ledger, nil)

		w := s.do(router, http.MethodPost, "/stocks", map[string]any{
			"blood_group": "O+",
			"component":   "RBC",
			"batches":     []map[string]any{{"units": 10}},
		})

		s.Equal(http.StatusCreated, w.Code)
		var resp map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("O+", resp["blood_group"])
		s.EqualValues(10, resp["total_units"])
		s.NotEmpty(resp["earliest_expiry"])
	})

	s.Run("rejects an unknown blood group without touching the service", func() {
		router, _ := s.newRouter(hospitalActor(s.hospitalID))
		w := s.do(router, http.MethodPost, "/stocks", map[string]any{
			"blood_group": "Q+",
			"component":   "RBC",
			"batches":     []map[string]any{{"units": 1}},
		})
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("rejects a malformed body", func() {
		router, _ := s.newRouter(hospitalActor(s.hospitalID))
		req := httptest.NewRequest(http.MethodPost, "/stocks", bytes.NewBufferString(`{"blood_group": `))
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("maps a lost write race to 409", func() {
		router, mockService := s.newRouter(hospitalActor(s.hospitalID))
		mockService.EXPECT().
			AddStock(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConcurrentModification, "ledger was modified concurrently, retry"))

		w := s.do(router, http.MethodPost, "/stocks", map[string]any{
			"blood_group": "O+",
			"component":   "RBC",
			"batches":     []map[string]any{{"units": 1}},
		})
		s.Equal(http.StatusConflict, w.Code)
	})
}

func (s *StockHandlerSuite) TestAuth() {
	s.Run("missing token", func() {
		router, _ := s.newRouter(hospitalActor(s.hospitalID))
		req := httptest.NewRequest(http.MethodGet, "/stocks", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("rejected token", func() {
		ctrl := gomock.NewController(s.T())
		s.T().Cleanup(ctrl.Finish)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		h := New(mocks.NewMockService(ctrl), logger, nil, stubValidator{
			err: dErrors.New(dErrors.CodeUnauthorized, "invalid token"),
		})
		r := chi.NewRouter()
		h.Register(r)

		w := s.do(r, http.MethodGet, "/stocks", nil)
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *StockHandlerSuite) TestListStocks() {
	router, mockService := s.newRouter(hospitalActor(s.hospitalID))
	ledger := s.sampleLedger()
	group := domain.BloodGroupOPos

	mockService.EXPECT().
		ListLedgers(gomock.Any(), store.Filter{BloodGroup: &group}, store.Page{Number: 2, Size: 5, Sort: "-updated_at"}).
		Return([]*models.Ledger{ledger}, 11, nil)

	w := s.do(router, http.MethodGet, "/stocks?blood_group=O%2B&page=2&limit=5&sort=-updated_at", nil)

	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.EqualValues(11, resp["total"])
	s.EqualValues(2, resp["page"])
	s.Len(resp["items"], 1)
}

func (s *StockHandlerSuite) TestGetStock() {
	s.Run("returns the ledger", func() {
		router, mockService := s.newRouter(hospitalActor(s.hospitalID))
		ledger := s.sampleLedger()
		mockService.EXPECT().GetLedger(gomock.Any(), ledger.ID).Return(ledger, nil)

		w := s.do(router, http.MethodGet, "/stocks/"+ledger.ID.String(), nil)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("rejects a malformed id", func() {
		router, _ := s.newRouter(hospitalActor(s.hospitalID))
		w := s.do(router, http.MethodGet, "/stocks/not-a-uuid", nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("maps forbidden and not found", func() {
		router, mockService := s.newRouter(hospitalActor(s.hospitalID))
		id := domain.LedgerID(uuid.New())
		mockService.EXPECT().GetLedger(gomock.Any(), id).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "ledger belongs to another hospital"))
		w := s.do(router, http.MethodGet, "/stocks/"+id.String(), nil)
		s.Equal(http.StatusForbidden, w.Code)

		mockService.EXPECT().GetLedger(gomock.Any(), id).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "ledger not found"))
		w = s.do(router, http.MethodGet, "/stocks/"+id.String(), nil)
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *StockHandlerSuite) TestUpdateBatch() {
	router, mockService := s.newRouter(hospitalActor(s.hospitalID))
	ledger := s.sampleLedger()
	batchID := ledger.Batches[0].ID
	units := 4
	collected := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)

	mockService.EXPECT().
		UpdateBatch(gomock.Any(), ledger.ID, batchID, service.BatchPatch{Units: &units, CollectedAt: &collected}).
		DoAndReturn(func(_ any, _ domain.LedgerID, _ domain.BatchID, patch service.BatchPatch) (*models.Ledger, error) {
			ledger.Batches[0].Units = *patch.Units
			ledger.Batches[0].CollectedAt = *patch.CollectedAt
			return ledger, nil
		})

	w := s.do(router, http.MethodPatch,
		"/stocks/"+ledger.ID.String()+"/batches/"+batchID.String(),
		map[string]any{"units": 4, "collected_at": "2026-02-27T10:00:00Z"})

	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.EqualValues(4, resp["total_units"])
}

func (s *StockHandlerSuite) TestDeleteBatch() {
	router, mockService := s.newRouter(hospitalActor(s.hospitalID))
	ledger := s.sampleLedger()
	batchID := ledger.Batches[0].ID
	ledger.Batches = nil

	mockService.EXPECT().DeleteBatch(gomock.Any(), ledger.ID, batchID).Return(ledger, nil)

	w := s.do(router, http.MethodDelete, "/stocks/"+ledger.ID.String()+"/batches/"+batchID.String(), nil)
	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.EqualValues(0, resp["total_units"])
}

func (s *StockHandlerSuite) TestDeleteStock() {
	router, mockService := s.newRouter(hospitalActor(s.hospitalID))
	id := domain.LedgerID(uuid.New())
	mockService.EXPECT().DeleteLedger(gomock.Any(), id).Return(nil)

	w := s.do(router, http.MethodDelete, "/stocks/"+id.String(), nil)
	s.Equal(http.StatusNoContent, w.Code)
}

func (s *StockHandlerSuite) TestSweepExpired() {
	router, mockService := s.newRouter(hospitalActor(s.hospitalID))
	mockService.EXPECT().RemoveExpired(gomock.Any(), gomock.Nil()).
		Return([]service.ExpirySweep{{
			LedgerID:     domain.LedgerID(uuid.New()),
			HospitalID:   s.hospitalID,
			BloodGroup:   domain.BloodGroupOPos,
			Component:    domain.ComponentRBC,
			UnitsDropped: 5,
		}}, nil)

	w := s.do(router, http.MethodPost, "/stocks/sweep-expired", nil)
	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.EqualValues(5, resp["total_units_dropped"])
}
