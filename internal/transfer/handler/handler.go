package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bloodledger/internal/platform/metrics"
	"bloodledger/internal/platform/middleware"
	"bloodledger/internal/transfer/models"
	"bloodledger/internal/transfer/service"
	"bloodledger/internal/transfer/store"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/httputil"
	"bloodledger/pkg/requestcontext"
)

// Service defines the transfer operations the HTTP layer needs.
type Service interface {
	Create(ctx context.Context, input service.CreateInput) (*models.TransferRequest, error)
	List(ctx context.Context, filter store.Filter, page store.Page) ([]*models.TransferRequest, int, error)
	Get(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error)
	Approve(ctx context.Context, id domain.RequestRecordID, source domain.HospitalID) (*models.TransferRequest, error)
	Reject(ctx context.Context, id domain.RequestRecordID, reason string) (*models.TransferRequest, error)
	Cancel(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error)
	Fulfill(ctx context.Context, id domain.RequestRecordID) (*models.TransferRequest, error)
	Delete(ctx context.Context, id domain.RequestRecordID) error
}

// Handler handles transfer request endpoints.
type Handler struct {
	logger    *slog.Logger
	transfers Service
	metrics   *metrics.Metrics
	validator middleware.ActorValidator
}

// New creates a new transfer Handler.
func New(transfers Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.ActorValidator) *Handler {
	return &Handler{
		logger:    logger,
		transfers: transfers,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the transfer routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	requestRouter := chi.NewRouter()
	requestRouter.Use(middleware.Recovery(h.logger))
	requestRouter.Use(middleware.RequestID)
	requestRouter.Use(middleware.RequestTime)
	requestRouter.Use(middleware.Logger(h.logger))
	requestRouter.Use(middleware.Timeout(30 * time.Second))
	requestRouter.Use(middleware.ContentTypeJSON)
	requestRouter.Use(middleware.Latency(h.metrics))
	requestRouter.Use(middleware.RequireAuth(h.validator, h.logger))

	requestRouter.Post("/", h.handleCreate)
	requestRouter.Get("/", h.handleList)
	requestRouter.Get("/{requestID}", h.handleGet)
	requestRouter.Delete("/{requestID}", h.handleDelete)
	requestRouter.Post("/{requestID}/approve", h.handleApprove)
	requestRouter.Post("/{requestID}/reject", h.handleReject)
	requestRouter.Post("/{requestID}/cancel", h.handleCancel)
	requestRouter.Post("/{requestID}/fulfill", h.handleFulfill)

	r.Mount("/requests", requestRouter)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.warn(ctx, "invalid transfer request", err)
		httputil.WriteError(w, err)
		return
	}

	request, err := h.transfers.Create(ctx, input)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to create transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestResponse(request))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, page, err := parseListQuery(r)
	if err != nil {
		h.warn(ctx, "invalid transfer list query", err)
		httputil.WriteError(w, err)
		return
	}

	requests, total, err := h.transfers.List(ctx, filter, page)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list transfer requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(requests, total, page))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestRecordID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.transfers.Get(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to get transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestRecordID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req approveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	source, err := req.source()
	if err != nil {
		h.warn(ctx, "invalid approve request", err)
		httputil.WriteError(w, err)
		return
	}

	request, err := h.transfers.Approve(ctx, id, source)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to approve transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestRecordID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req rejectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	request, err := h.transfers.Reject(ctx, id, req.Reason)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to reject transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestRecordID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.transfers.Cancel(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to cancel transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestRecordID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.transfers.Fulfill(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to fulfill transfer request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestRecordID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.transfers.Delete(ctx, id); err != nil {
		h.writeServiceError(ctx, w, "failed to delete transfer request", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
