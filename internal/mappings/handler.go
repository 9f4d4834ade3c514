package mappings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/millbrook-erp/millbrook-erp/internal/platform/httpx"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Handler wires HTTP endpoints for the account mapping registry.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers mapping routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/codes", h.handleCodes)
	r.Put("/{code}", h.handleBind)
	r.Delete("/{code}", h.handleUnbind)
}

type bindRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

type mappingResponse struct {
	Code      string `json:"code"`
	AccountID int64  `json:"account_id"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	all, err := h.service.List(r.Context(), identity.TenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]mappingResponse, 0, len(Vocabulary))
	for _, code := range Vocabulary {
		if m, found := all[code]; found {
			out = append(out, mappingResponse{Code: string(code), AccountID: m.AccountID})
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleCodes(w http.ResponseWriter, r *http.Request) {
	codes := make([]string, 0, len(Vocabulary))
	for _, code := range Vocabulary {
		codes = append(codes, string(code))
	}
	httpx.JSON(w, http.StatusOK, codes)
}

func (h *Handler) handleBind(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	code := Code(chi.URLParam(r, "code"))
	var req bindRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Bind(r.Context(), identity.TenantID, code, req.AccountID, identity.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mappingResponse{Code: string(code), AccountID: req.AccountID})
}

func (h *Handler) handleUnbind(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "tenant context required")
		return
	}
	code := Code(chi.URLParam(r, "code"))
	if err := h.service.Unbind(r.Context(), identity.TenantID, code, identity.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
