package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType classifies the physical business event behind a movement. The
// auto-journal generator keys its posting templates on this value.
type EventType string

const (
	EventGoodsReceipt     EventType = "GOODS_RECEIPT"
	EventGoodsIssue       EventType = "GOODS_ISSUE"
	EventAdjustmentGain   EventType = "ADJUSTMENT_GAIN"
	EventAdjustmentLoss   EventType = "ADJUSTMENT_LOSS"
	EventProductionOutput EventType = "PRODUCTION_OUTPUT"
	EventSaleFulfillment  EventType = "SALE_FULFILLMENT"
	EventTransfer         EventType = "TRANSFER"
	EventCorrection       EventType = "CORRECTION"
)

// Key identifies one balance stream.
type Key struct {
	TenantID   uuid.UUID
	ItemID     int64
	LocationID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d", k.TenantID, k.ItemID, k.LocationID)
}

// Reference points at the originating business document.
type Reference struct {
	Module string
	ID     uuid.UUID
	Number string
}

// Entry is one immutable inventory movement. Exactly one of QtyIn/QtyOut is
// positive; corrections are new offsetting entries referencing the original.
type Entry struct {
	ID           int64
	TenantID     uuid.UUID
	ItemID       int64
	LocationID   int64
	PeriodID     *int64
	BusinessDate time.Time
	EventType    EventType
	QtyIn        decimal.Decimal
	QtyOut       decimal.Decimal
	UnitCost     decimal.Decimal
	TotalCost    decimal.Decimal
	Ref          Reference
	Posted       bool
	CorrectionOf *int64
	CreatedBy    int64
	CreatedAt    time.Time
}

// Key returns the balance stream the entry belongs to.
func (e Entry) Key() Key {
	return Key{TenantID: e.TenantID, ItemID: e.ItemID, LocationID: e.LocationID}
}

// Delta returns the signed quantity effect of the entry.
func (e Entry) Delta() decimal.Decimal {
	return e.QtyIn.Sub(e.QtyOut)
}

// Balance is the per-key aggregate maintained atomically with every append.
// Callers never mutate it directly.
type Balance struct {
	TenantID       uuid.UUID
	ItemID         int64
	LocationID     int64
	Qty            decimal.Decimal
	AvgCost        decimal.Decimal
	LastMovementAt time.Time
}

// MovementInput describes a signed movement request. A positive Qty increases
// stock, a negative Qty decreases it.
type MovementInput struct {
	TenantID     uuid.UUID
	ItemID       int64
	LocationID   int64
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	BusinessDate time.Time
	EventType    EventType
	Ref          Reference
	ActorID      int64
}

// CorrectionInput requests an offsetting entry against an existing one.
type CorrectionInput struct {
	TenantID uuid.UUID
	EntryID  int64
	Reason   string
	ActorID  int64
}

// HistoryFilter bounds history reads per key.
type HistoryFilter struct {
	TenantID   uuid.UUID
	ItemID     int64
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
}

// Drift reports a projection that no longer matches the event log. Produced
// only by the out-of-band reconciliation pass.
type Drift struct {
	Key          Key
	ProjectedQty decimal.Decimal
	DerivedQty   decimal.Decimal
}

var (
	// ErrInvalidQuantity indicates a zero movement quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
	// ErrMissingKey indicates an absent item or location key.
	ErrMissingKey = errors.New("ledger: item and location required")
	// ErrInsufficientStock is the sentinel matched by errors.Is against InsufficientStockError.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrNegativeBalance is raised by the storage barrier when a projection
	// update would commit a negative quantity. Independent of the pre-check.
	ErrNegativeBalance = errors.New("ledger: projection balance below zero")
	// ErrBalanceNotFound indicates a missing projection row.
	ErrBalanceNotFound = errors.New("ledger: balance not found")
	// ErrEntryNotFound indicates a missing ledger entry.
	ErrEntryNotFound = errors.New("ledger: entry not found")
)

// InsufficientStockError reports the key and deficit of a rejected decrease.
type InsufficientStockError struct {
	Key       Key
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for %s: available %s, requested %s",
		e.Key, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
