package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

func mountTestRouter(t *testing.T, svc *Service) http.Handler {
	t.Helper()
	handler := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/ledger", handler.MountRoutes)
	return r
}

func TestEntryEditsAnswerImmutability(t *testing.T) {
	router := mountTestRouter(t, NewService(newMemoryRepo(), nil, nil, nil))

	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req := httptest.NewRequest(method, "/ledger/entries/1", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusConflict, rr.Code, method)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, "Immutability Violation", body["title"])
		require.Equal(t, shared.ErrImmutable.Error(), body["detail"])
	}
}

func TestAppendRequiresIdentity(t *testing.T) {
	router := mountTestRouter(t, NewService(newMemoryRepo(), nil, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/ledger/movements", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAppendMovementEndToEnd(t *testing.T) {
	repo := newMemoryRepo()
	router := mountTestRouter(t, NewService(repo, nil, nil, nil))

	body := `{"item_id":1,"location_id":1,"qty":"10","unit_cost":"100","business_date":"2026-03-10","event_type":"GOODS_RECEIPT","ref_module":"PROCUREMENT","ref_number":"GRN-1"}`
	req := httptest.NewRequest(http.MethodPost, "/ledger/movements", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{TenantID: testTenant, ActorID: 7}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "10", resp["qty_in"])
	require.Equal(t, "100", resp["unit_cost"])
	// Uncovered business date comes back flagged, not rejected.
	require.NotEmpty(t, resp["warning"])
}

func TestInsufficientStockMapsTo409(t *testing.T) {
	repo := newMemoryRepo()
	router := mountTestRouter(t, NewService(repo, nil, nil, nil))

	body := `{"item_id":1,"location_id":1,"qty":"-5","business_date":"2026-03-10","event_type":"GOODS_ISSUE","ref_module":"SALES"}`
	req := httptest.NewRequest(http.MethodPost, "/ledger/movements", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{TenantID: testTenant, ActorID: 7}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
}
