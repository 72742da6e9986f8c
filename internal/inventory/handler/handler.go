package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bloodledger/internal/inventory/models"
	"bloodledger/internal/inventory/service"
	"bloodledger/internal/inventory/store"
	"bloodledger/internal/platform/metrics"
	"bloodledger/internal/platform/middleware"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/httputil"
	"bloodledger/pkg/requestcontext"
)

// Service defines the inventory operations the HTTP layer needs.
type Service interface {
	AddStock(ctx context.Context, input service.AddStockInput) (*models.Ledger, error)
	ListLedgers(ctx context.Context, filter store.Filter, page store.Page) ([]*models.Ledger, int, error)
	GetLedger(ctx context.Context, id domain.LedgerID) (*models.Ledger, error)
	UpdateBatch(ctx context.Context, ledgerID domain.LedgerID, batchID domain.BatchID, patch service.BatchPatch) (*models.Ledger, error)
	DeleteBatch(ctx context.Context, ledgerID domain.LedgerID, batchID domain.BatchID) (*models.Ledger, error)
	DeleteLedger(ctx context.Context, id domain.LedgerID) error
	RemoveExpired(ctx context.Context, hospitalID *domain.HospitalID) ([]service.ExpirySweep, error)
}

// Handler handles blood stock endpoints.
type Handler struct {
	logger    *slog.Logger
	inventory Service
	metrics   *metrics.Metrics
	validator middleware.ActorValidator
}

// New creates a new inventory Handler.
func New(inventory Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.ActorValidator) *Handler {
	return &Handler{
		logger:    logger,
		inventory: inventory,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the stock routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	stockRouter := chi.NewRouter()
	stockRouter.Use(middleware.Recovery(h.logger))
	stockRouter.Use(middleware.RequestID)
	stockRouter.Use(middleware.RequestTime)
	stockRouter.Use(middleware.Logger(h.logger))
	stockRouter.Use(middleware.Timeout(30 * time.Second))
	stockRouter.Use(middleware.ContentTypeJSON)
	stockRouter.Use(middleware.Latency(h.metrics))
	stockRouter.Use(middleware.RequireAuth(h.validator, h.logger))

	stockRouter.Post("/", h.handleAddStock)
	stockRouter.Get("/", h.handleListStocks)
	stockRouter.Post("/sweep-expired", h.handleSweepExpired)
	stockRouter.Get("/{stockID}", h.handleGetStock)
	stockRouter.Delete("/{stockID}", h.handleDeleteStock)
	stockRouter.Patch("/{stockID}/batches/{batchID}", h.handleUpdateBatch)
	stockRouter.Delete("/{stockID}/batches/{batchID}", h.handleDeleteBatch)

	r.Mount("/stocks", stockRouter)
}

func (h *Handler) handleAddStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addStockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.warn(ctx, "invalid add stock request", err)
		httputil.WriteError(w, err)
		return
	}

	ledger, err := h.inventory.AddStock(ctx, input)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to add stock", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toLedgerResponse(ledger))
}

func (h *Handler) handleListStocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, page, err := parseListQuery(r)
	if err != nil {
		h.warn(ctx, "invalid stock list query", err)
		httputil.WriteError(w, err)
		return
	}

	ledgers, total, err := h.inventory.ListLedgers(ctx, filter, page)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list stocks", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(ledgers, total, page))
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseLedgerID(chi.URLParam(r, "stockID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ledger, err := h.inventory.GetLedger(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to get stock", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLedgerResponse(ledger))
}

func (h *Handler) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseLedgerID(chi.URLParam(r, "stockID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.inventory.DeleteLedger(ctx, id); err != nil {
		h.writeServiceError(ctx, w, "failed to delete stock", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ledgerID, batchID, err := parseBatchPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req updateBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ledger, err := h.inventory.UpdateBatch(ctx, ledgerID, batchID, req.toPatch())
	if err != nil {
		h.writeServiceError(ctx, w, "failed to update batch", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLedgerResponse(ledger))
}

func (h *Handler) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ledgerID, batchID, err := parseBatchPath(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ledger, err := h.inventory.DeleteBatch(ctx, ledgerID, batchID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to delete batch", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLedgerResponse(ledger))
}

func (h *Handler) handleSweepExpired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var scope *domain.HospitalID
	if raw := r.URL.Query().Get("hospital_id"); raw != "" {
		id, err := domain.ParseHospitalID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		scope = &id
	}

	sweeps, err := h.inventory.RemoveExpired(ctx, scope)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to sweep expired stock", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSweepResponse(sweeps))
}

func parseBatchPath(r *http.Request) (domain.LedgerID, domain.BatchID, error) {
	ledgerID, err := domain.ParseLedgerID(chi.URLParam(r, "stockID"))
	if err != nil {
		return domain.LedgerID{}, domain.BatchID{}, err
	}
	batchID, err := domain.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		return domain.LedgerID{}, domain.BatchID{}, err
	}
	return ledgerID, batchID, nil
}

// writeServiceError logs server faults and passes coded errors through to the
// response writer.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.CodeOf(err) == dErrors.CodeInconsistentState {
		h.logger.ErrorContext(ctx, msg,
			"error", err.Error(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err.Error(),
		"request_id", requestcontext.RequestID(ctx),
	)
}
