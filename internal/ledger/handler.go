package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/millbrook-erp/millbrook-erp/internal/platform/httpx"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Handler wires HTTP endpoints for the ledger module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleAppend)
	r.Post("/entries/{id}/corrections", h.handleCorrect)
	r.Get("/balances", h.handleBalance)
	r.Get("/history", h.handleHistory)
	// Entries are immutable: edits and deletes are rejected outright.
	r.Put("/entries/{id}", h.handleImmutable)
	r.Patch("/entries/{id}", h.handleImmutable)
	r.Delete("/entries/{id}", h.handleImmutable)
}

type movementRequest struct {
	ItemID       int64           `json:"item_id" validate:"required"`
	LocationID   int64           `json:"location_id" validate:"required"`
	Qty          decimal.Decimal `json:"qty" validate:"required"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BusinessDate string          `json:"business_date" validate:"required"`
	EventType    string          `json:"event_type" validate:"required"`
	RefModule    string          `json:"ref_module" validate:"required"`
	RefID        string          `json:"ref_id"`
	RefNumber    string          `json:"ref_number"`
}

type entryResponse struct {
	ID           int64  `json:"id"`
	ItemID       int64  `json:"item_id"`
	LocationID   int64  `json:"location_id"`
	PeriodID     *int64 `json:"period_id,omitempty"`
	BusinessDate string `json:"business_date"`
	EventType    string `json:"event_type"`
	QtyIn        string `json:"qty_in"`
	QtyOut       string `json:"qty_out"`
	UnitCost     string `json:"unit_cost"`
	TotalCost    string `json:"total_cost"`
	RefModule    string `json:"ref_module"`
	RefNumber    string `json:"ref_number"`
	Posted       bool   `json:"posted"`
	CorrectionOf *int64 `json:"correction_of,omitempty"`
	Warning      string `json:"warning,omitempty"`
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	businessDate, err := time.Parse("2006-01-02", req.BusinessDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "business_date must be YYYY-MM-DD")
		return
	}
	var refID uuid.UUID
	if req.RefID != "" {
		if refID, err = uuid.Parse(req.RefID); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "ref_id must be a UUID")
			return
		}
	}
	entry, err := h.service.AppendMovement(r.Context(), MovementInput{
		TenantID:     identity.TenantID,
		ItemID:       req.ItemID,
		LocationID:   req.LocationID,
		Qty:          req.Qty,
		UnitCost:     req.UnitCost,
		BusinessDate: businessDate,
		EventType:    EventType(req.EventType),
		Ref:          Reference{Module: req.RefModule, ID: refID, Number: req.RefNumber},
		ActorID:      identity.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

type correctionRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleCorrect(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entry id must be numeric")
		return
	}
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.service.CorrectEntry(r.Context(), CorrectionInput{
		TenantID: identity.TenantID,
		EntryID:  entryID,
		Reason:   req.Reason,
		ActorID:  identity.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	itemID, locationID, err := keyParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	balance, err := h.service.GetBalance(r.Context(), Key{TenantID: identity.TenantID, ItemID: itemID, LocationID: locationID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":          balance.ItemID,
		"location_id":      balance.LocationID,
		"qty":              balance.Qty.String(),
		"avg_cost":         balance.AvgCost.String(),
		"last_movement_at": balance.LastMovementAt,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	itemID, locationID, err := keyParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	filter := HistoryFilter{TenantID: identity.TenantID, ItemID: itemID, LocationID: locationID}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	if limit := q.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	entries, err := h.service.History(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleImmutable(w http.ResponseWriter, r *http.Request) {
	httpx.RespondError(w, shared.ErrImmutable)
}

func keyParams(r *http.Request) (int64, int64, error) {
	q := r.URL.Query()
	itemID, err := strconv.ParseInt(q.Get("item_id"), 10, 64)
	if err != nil {
		return 0, 0, ErrMissingKey
	}
	locationID, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil {
		return 0, 0, ErrMissingKey
	}
	return itemID, locationID, nil
}

func toEntryResponse(e Entry) entryResponse {
	resp := entryResponse{
		ID:           e.ID,
		ItemID:       e.ItemID,
		LocationID:   e.LocationID,
		PeriodID:     e.PeriodID,
		BusinessDate: e.BusinessDate.Format("2006-01-02"),
		EventType:    string(e.EventType),
		QtyIn:        e.QtyIn.String(),
		QtyOut:       e.QtyOut.String(),
		UnitCost:     e.UnitCost.String(),
		TotalCost:    e.TotalCost.String(),
		RefModule:    e.Ref.Module,
		RefNumber:    e.Ref.Number,
		Posted:       e.Posted,
		CorrectionOf: e.CorrectionOf,
	}
	if e.PeriodID == nil {
		resp.Warning = "no accounting period covers the business date"
	}
	return resp
}
