package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"bloodledger/internal/platform/metrics"
	"bloodledger/internal/platform/middleware"
	"bloodledger/internal/report/service"
	"bloodledger/pkg/domain"
	dErrors "bloodledger/pkg/domain-errors"
	"bloodledger/pkg/platform/httputil"
	"bloodledger/pkg/requestcontext"
)

// Service defines the reporting operations the HTTP layer needs.
type Service interface {
	Summary(ctx context.Context, hospitalID *domain.HospitalID, horizonDays int) (*service.Summary, error)
	Units(ctx context.Context, hospitalID *domain.HospitalID, query service.UnitsQuery) ([]service.UnitsRow, error)
}

// Handler handles reporting endpoints.
type Handler struct {
	logger    *slog.Logger
	reports   Service
	metrics   *metrics.Metrics
	validator middleware.ActorValidator
}

// New creates a new report Handler.
func New(reports Service, logger *slog.Logger, m *metrics.Metrics, validator middleware.ActorValidator) *Handler {
	return &Handler{
		logger:    logger,
		reports:   reports,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the report routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	reportRouter := chi.NewRouter()
	reportRouter.Use(middleware.Recovery(h.logger))
	reportRouter.Use(middleware.RequestID)
	reportRouter.Use(middleware.RequestTime)
	reportRouter.Use(middleware.Logger(h.logger))
	reportRouter.Use(middleware.Timeout(30 * time.Second))
	reportRouter.Use(middleware.ContentTypeJSON)
	reportRouter.Use(middleware.Latency(h.metrics))
	reportRouter.Use(middleware.RequireAuth(h.validator, h.logger))

	reportRouter.Get("/summary", h.handleSummary)
	reportRouter.Get("/units", h.handleUnits)

	r.Mount("/reports", reportRouter)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope, horizon, err := parseReportQuery(r)
	if err != nil {
		h.warn(ctx, "invalid summary query", err)
		httputil.WriteError(w, err)
		return
	}

	summary, err := h.reports.Summary(ctx, scope, horizon)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to build summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleUnits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope, horizon, err := parseReportQuery(r)
	if err != nil {
		h.warn(ctx, "invalid units query", err)
		httputil.WriteError(w, err)
		return
	}
	query, err := parseUnitsQuery(r, horizon)
	if err != nil {
		h.warn(ctx, "invalid units query", err)
		httputil.WriteError(w, err)
		return
	}

	rows, err := h.reports.Units(ctx, scope, query)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list units", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, unitsResponse{Items: rows, Total: len(rows)})
}

type unitsResponse struct {
	Items []service.UnitsRow `json:"items"`
	Total int                `json:"total"`
}

func parseReportQuery(r *http.Request) (*domain.HospitalID, int, error) {
	q := r.URL.Query()

	var scope *domain.HospitalID
	if raw := q.Get("hospital_id"); raw != "" {
		id, err := domain.ParseHospitalID(raw)
		if err != nil {
			return nil, 0, err
		}
		scope = &id
	}

	horizon := 0
	if raw := q.Get("expiring_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return nil, 0, dErrors.New(dErrors.CodeBadRequest, "expiring_days must be a positive integer")
		}
		horizon = v
	}
	return scope, horizon, nil
}

func parseUnitsQuery(r *http.Request, horizon int) (service.UnitsQuery, error) {
	q := r.URL.Query()

	scope, err := service.ParseUnitsScope(q.Get("scope"))
	if err != nil {
		return service.UnitsQuery{}, err
	}
	query := service.UnitsQuery{Scope: scope, HorizonDays: horizon}

	if raw := q.Get("blood_group"); raw != "" {
		group, err := domain.ParseBloodGroup(raw)
		if err != nil {
			return service.UnitsQuery{}, err
		}
		query.BloodGroup = &group
	}
	if raw := q.Get("component"); raw != "" {
		component, err := domain.ParseComponent(raw)
		if err != nil {
			return service.UnitsQuery{}, err
		}
		query.Component = &component
	}
	return query, nil
}

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
