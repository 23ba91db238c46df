package adjustments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/shelfline/shelfline/internal/platform/httpx"
)

// SyncEnqueuer schedules a background sync run. The HTTP layer never runs
// the coordinator inline; it acknowledges and lets the worker do the work.
type SyncEnqueuer interface {
	EnqueueAdjustmentsSync(ctx context.Context) error
}

// ConnectionChecker probes remote ledger reachability.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context) (time.Duration, error)
}

// Handler exposes the adjustment endpoints consumed by the outer HTTP layer.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer SyncEnqueuer
	checker  ConnectionChecker
	validate *validator.Validate
}

// NewHandler builds a Handler. enqueuer and checker may be nil in reduced
// deployments; the matching endpoints then answer 503.
func NewHandler(logger *slog.Logger, service *Service, enqueuer SyncEnqueuer, checker ConnectionChecker) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		enqueuer: enqueuer,
		checker:  checker,
		validate: validator.New(),
	}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/pending", h.pending)
	r.Get("/status", h.status)
	r.Get("/history/{itemRef}", h.history)
	r.Get("/summary", h.summary)
	r.Get("/connection", h.connection)

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/", h.submit)
		r.Post("/sync", h.triggerSync)
		r.Post("/cleanup", h.cleanup)
	})
}

type submitRequest struct {
	ItemRef       string `json:"item_ref" validate:"required"`
	QuantityDelta int64  `json:"quantity_delta" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
	AffectedField string `json:"affected_field" validate:"required"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	rec, snap, err := h.service.Submit(r.Context(), SubmitInput{
		ItemRef:       req.ItemRef,
		QuantityDelta: req.QuantityDelta,
		Reason:        req.Reason,
		AffectedField: AffectedField(req.AffectedField),
	})
	if err != nil {
		h.respondError(w, err, "submit adjustment")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"adjustment": rec,
		"snapshot":   snap,
		"message":    fmt.Sprintf("adjustment logged and %s updated immediately", rec.AffectedField),
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := h.service.Recent(r.Context(), r.URL.Query().Get("item_ref"), limit)
	if err != nil {
		h.respondError(w, err, "list adjustments")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": records, "count": len(records)})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Pending(r.Context())
	if err != nil {
		h.respondError(w, err, "list pending")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"adjustments": records,
		"count":       len(records),
		"message":     fmt.Sprintf("found %d pending adjustments awaiting sync", len(records)),
	})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Sync Unavailable", "background sync is not configured")
		return
	}
	if err := h.enqueuer.EnqueueAdjustmentsSync(r.Context()); err != nil {
		h.respondError(w, err, "enqueue sync")
		return
	}
	httpx.Accepted(w, "sync started")
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.respondError(w, err, "sync status")
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	itemRef := chi.URLParam(r, "itemRef")
	records, err := h.service.History(r.Context(), itemRef, queryInt(r, "limit", 50))
	if err != nil {
		h.respondError(w, err, "item history")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_ref":    itemRef,
		"adjustments": records,
		"count":       len(records),
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "start_date")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := queryDate(r, "end_date")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end_date must be YYYY-MM-DD")
		return
	}
	summary, err := h.service.SummaryRange(r.Context(), start, end)
	if err != nil {
		h.respondError(w, err, "summary")
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CleanCorrupted(r.Context())
	if err != nil {
		h.respondError(w, err, "cleanup corrupted")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"cleaned_count": count,
		"message":       fmt.Sprintf("marked %d corrupted adjustments as failed", count),
	})
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Ledger Unavailable", "remote ledger client is not configured")
		return
	}
	latency, err := h.checker.CheckConnection(r.Context())
	payload := map[string]any{
		"connected":        err == nil,
		"response_time_ms": latency.Milliseconds(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		payload["message"] = fmt.Sprintf("remote ledger connection failed: %v", err)
		httpx.JSON(w, http.StatusOK, payload)
		return
	}
	payload["message"] = "remote ledger connection successful"
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrZeroQuantity),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrUnknownField):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrRecordNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSyncInProgress):
		httpx.Problem(w, http.StatusConflict, "Sync In Progress", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func queryDate(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}
