package mappings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Code is a logical account function. The vocabulary is closed: templates may
// only reference codes listed here, and bindings for unknown codes are rejected.
type Code string

const (
	CodeInventoryRawMaterials  Code = "INVENTORY_RAW_MATERIALS"
	CodeInventoryFinishedGoods Code = "INVENTORY_FINISHED_GOODS"
	CodeAccountsPayableAccrued Code = "ACCOUNTS_PAYABLE_ACCRUED"
	CodeAccountsReceivable     Code = "ACCOUNTS_RECEIVABLE"
	CodeCostOfGoodsSold        Code = "COGS"
	CodeInventoryAdjustment    Code = "INVENTORY_ADJUSTMENT"
	CodeProductionWIP          Code = "PRODUCTION_WIP"
	CodeSalesRevenue           Code = "SALES_REVENUE"
)

// Vocabulary lists every valid logical code.
var Vocabulary = []Code{
	CodeInventoryRawMaterials,
	CodeInventoryFinishedGoods,
	CodeAccountsPayableAccrued,
	CodeAccountsReceivable,
	CodeCostOfGoodsSold,
	CodeInventoryAdjustment,
	CodeProductionWIP,
	CodeSalesRevenue,
}

// Valid reports whether the code belongs to the closed vocabulary.
func (c Code) Valid() bool {
	for _, known := range Vocabulary {
		if c == known {
			return true
		}
	}
	return false
}

// AccountMapping binds a logical code to a concrete ledger account for one
// tenant.
type AccountMapping struct {
	TenantID  uuid.UUID
	Code      Code
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrUnknownCode indicates a code outside the closed vocabulary.
	ErrUnknownCode = errors.New("mappings: unknown logical code")
	// ErrUnmapped is the sentinel matched by errors.Is against ConfigurationError.
	ErrUnmapped = errors.New("mappings: logical code not mapped")
)

// ConfigurationError reports every logical code a lookup could not resolve.
type ConfigurationError struct {
	Codes []Code
}

func (e *ConfigurationError) Error() string {
	names := make([]string, len(e.Codes))
	for i, c := range e.Codes {
		names[i] = string(c)
	}
	return fmt.Sprintf("mappings: unmapped account codes: %s", strings.Join(names, ", "))
}

// Is lets errors.Is(err, ErrUnmapped) match.
func (e *ConfigurationError) Is(target error) bool { return target == ErrUnmapped }
