package periods

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/millbrook-erp/millbrook-erp/internal/platform/httpx"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Handler wires HTTP endpoints for accounting periods.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/dates", h.handleUpdateDates)
	r.Post("/{id}/close", h.handleClose)
	r.Post("/{id}/reopen", h.handleReopen)
}

type periodRequest struct {
	Code      string `json:"code" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type periodResponse struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	Status     string     `json:"status"`
	ClosedBy   *int64     `json:"closed_by,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ReopenedBy *int64     `json:"reopened_by,omitempty"`
	ReopenedAt *time.Time `json:"reopened_at,omitempty"`
}

func toPeriodResponse(p Period) periodResponse {
	return periodResponse{
		ID:         p.ID,
		Code:       p.Code,
		StartDate:  p.StartDate.Format("2006-01-02"),
		EndDate:    p.EndDate.Format("2006-01-02"),
		Status:     string(p.Status),
		ClosedBy:   p.ClosedBy,
		ClosedAt:   p.ClosedAt,
		ReopenedBy: p.ReopenedBy,
		ReopenedAt: p.ReopenedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	period, err := h.service.Create(r.Context(), CreateInput{
		TenantID:  identity.TenantID,
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
		ActorID:   identity.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPeriodResponse(period))
}

type updateDatesRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

func (h *Handler) handleUpdateDates(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	periodID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period id must be numeric")
		return
	}
	var req updateDatesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	period, err := h.service.UpdateDates(r.Context(), UpdateDatesInput{
		TenantID:  identity.TenantID,
		PeriodID:  periodID,
		StartDate: start,
		EndDate:   end,
		ActorID:   identity.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, StatusClosed)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, StatusOpen)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, target Status) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	periodID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period id must be numeric")
		return
	}
	var period Period
	if target == StatusClosed {
		period, err = h.service.Close(r.Context(), identity.TenantID, periodID, identity.ActorID)
	} else {
		period, err = h.service.Reopen(r.Context(), identity.TenantID, periodID, identity.ActorID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	periodID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period id must be numeric")
		return
	}
	period, err := h.service.Get(r.Context(), identity.TenantID, periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	list, err := h.service.List(r.Context(), identity.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]periodResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPeriodResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	return start, end, nil
}
