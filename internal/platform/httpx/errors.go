package httpx

import (
	"errors"
	"net/http"

	"github.com/millbrook-erp/millbrook-erp/internal/journal"
	"github.com/millbrook-erp/millbrook-erp/internal/ledger"
	"github.com/millbrook-erp/millbrook-erp/internal/mappings"
	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// RespondError maps engine errors to HTTP responses. Every mapped error keeps
// its detail text so callers receive the key, deficit, period, or code that
// caused the rejection.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, periods.ErrPeriodUndefined),
		errors.Is(err, journal.ErrJournalNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrImmutable):
		Problem(w, http.StatusConflict, "Immutability Violation", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrNegativeBalance):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, periods.ErrPeriodClosed):
		Problem(w, http.StatusConflict, "Period Closed", err.Error())
	case errors.Is(err, periods.ErrOverlap):
		Problem(w, http.StatusConflict, "Period Overlap", err.Error())
	case errors.Is(err, periods.ErrInvalidTransition),
		errors.Is(err, periods.ErrClosedDatesFrozen):
		Problem(w, http.StatusConflict, "Invalid Period Transition", err.Error())
	case errors.Is(err, journal.ErrUnbalanced),
		errors.Is(err, journal.ErrTooFewLines):
		Problem(w, http.StatusUnprocessableEntity, "Unbalanced Journal", err.Error())
	case errors.Is(err, journal.ErrSourceAlreadyLinked):
		Problem(w, http.StatusConflict, "Source Already Linked", err.Error())
	case errors.Is(err, mappings.ErrUnmapped):
		Problem(w, http.StatusUnprocessableEntity, "Configuration Error", err.Error())
	case errors.Is(err, mappings.ErrUnknownCode):
		Problem(w, http.StatusBadRequest, "Unknown Code", err.Error())
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidUnitCost),
		errors.Is(err, ledger.ErrMissingKey),
		errors.Is(err, journal.ErrLineOneSided),
		errors.Is(err, journal.ErrNegativeAmount),
		errors.Is(err, journal.ErrMissingAccount),
		errors.Is(err, periods.ErrInvalidRange),
		errors.Is(err, shared.ErrTenantRequired):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
