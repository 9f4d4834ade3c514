package journal

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

// Handler wires HTTP endpoints for journal entries.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handlePost)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/reverse", h.handleReverse)
	r.Get("/integrity", h.handleIntegrity)
	// Posted journals never change; corrections go through reversal.
	r.Put("/{id}", h.handleImmutable)
	r.Patch("/{id}", h.handleImmutable)
	r.Delete("/{id}", h.handleImmutable)
}

type lineRequest struct {
	AccountID int64           `json:"account_id" validate:"required"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

type postRequest struct {
	JournalDate  string        `json:"journal_date" validate:"required"`
	Memo         string        `json:"memo"`
	SourceModule string        `json:"source_module" validate:"required"`
	SourceID     string        `json:"source_id" validate:"required,uuid"`
	Lines        []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type lineResponse struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
}

type headerResponse struct {
	ID           int64          `json:"id"`
	Number       int64          `json:"number"`
	JournalDate  string         `json:"journal_date"`
	PeriodID     *int64         `json:"period_id,omitempty"`
	Memo         string         `json:"memo"`
	SourceModule string         `json:"source_module"`
	SourceID     string         `json:"source_id"`
	ReversalOf   *int64         `json:"reversal_of,omitempty"`
	PostedBy     int64          `json:"posted_by"`
	PostedAt     time.Time      `json:"posted_at"`
	Lines        []lineResponse `json:"lines,omitempty"`
}

func toHeaderResponse(hd Header) headerResponse {
	resp := headerResponse{
		ID:           hd.ID,
		Number:       hd.Number,
		JournalDate:  hd.JournalDate.Format("2006-01-02"),
		PeriodID:     hd.PeriodID,
		Memo:         hd.Memo,
		SourceModule: hd.SourceModule,
		SourceID:     hd.SourceID.String(),
		ReversalOf:   hd.ReversalOf,
		PostedBy:     hd.PostedBy,
		PostedAt:     hd.PostedAt,
	}
	for _, line := range hd.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:        line.ID,
			AccountID: line.AccountID,
			Debit:     line.Debit.String(),
			Credit:    line.Credit.String(),
		})
	}
	return resp
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	var req postRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	journalDate, err := time.Parse("2006-01-02", req.JournalDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "journal_date must be YYYY-MM-DD")
		return
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "source_id must be a UUID")
		return
	}
	input := PostingInput{
		TenantID:     identity.TenantID,
		JournalDate:  journalDate,
		Memo:         req.Memo,
		SourceModule: req.SourceModule,
		SourceID:     sourceID,
		PostedBy:     identity.ActorID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit})
	}
	header, err := h.service.Post(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toHeaderResponse(header))
}

type reverseRequest struct {
	Memo string `json:"memo"`
	Date string `json:"date"`
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	headerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "journal id must be numeric")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input := ReverseInput{
		TenantID: identity.TenantID,
		EntryID:  headerID,
		ActorID:  identity.ActorID,
		Memo:     req.Memo,
	}
	if req.Date != "" {
		if input.Date, err = time.Parse("2006-01-02", req.Date); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
	}
	header, err := h.service.Reverse(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toHeaderResponse(header))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	headerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "journal id must be numeric")
		return
	}
	header, err := h.service.Get(r.Context(), identity.TenantID, headerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toHeaderResponse(header))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	filter := ListFilter{TenantID: identity.TenantID}
	q := r.URL.Query()
	var err error
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
	}
	if limit := q.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}
	headers, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]headerResponse, 0, len(headers))
	for _, hd := range headers {
		out = append(out, toHeaderResponse(hd))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	ids, err := h.service.CheckIntegrity(r.Context(), identity.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"unbalanced": ids, "clean": len(ids) == 0})
}

func (h *Handler) handleImmutable(w http.ResponseWriter, r *http.Request) {
	httpx.RespondError(w, shared.ErrImmutable)
}
