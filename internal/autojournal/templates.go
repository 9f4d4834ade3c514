package autojournal

import (
	"github.com/shopspring/decimal"

	"github.com/millbrook-erp/millbrook-erp/internal/ledger"
	"github.com/millbrook-erp/millbrook-erp/internal/mappings"
)

// Side marks whether a template line debits or credits its account.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// AmountFunc derives a line amount from the movement entry.
type AmountFunc func(ledger.Entry) decimal.Decimal

// TemplateLine declares one posting line: which logical account it hits, on
// which side, and how the amount is computed from the event.
type TemplateLine struct {
	Code   mappings.Code
	Side   Side
	Amount AmountFunc
}

// Template declares the balanced posting generated for one business event type.
type Template struct {
	Event ledger.EventType
	Memo  string
	Lines []TemplateLine
}

// Registry holds the declarative event -> template bindings. Lookup replaces
// scattered per-event conditionals.
type Registry struct {
	templates map[ledger.EventType]Template
}

// NewRegistry returns a registry preloaded with the standard templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[ledger.EventType]Template)}
	for _, t := range standardTemplates() {
		r.Register(t)
	}
	return r
}

// Register binds or replaces the template for an event type.
func (r *Registry) Register(t Template) {
	r.templates[t.Event] = t
}

// Lookup returns the template for the event type, if any.
func (r *Registry) Lookup(event ledger.EventType) (Template, bool) {
	t, ok := r.templates[event]
	return t, ok
}

func totalCost(e ledger.Entry) decimal.Decimal {
	return e.TotalCost
}

func standardTemplates() []Template {
	return []Template{
		{
			Event: ledger.EventGoodsReceipt,
			Memo:  "Goods receipt",
			Lines: []TemplateLine{
				{Code: mappings.CodeInventoryRawMaterials, Side: SideDebit, Amount: totalCost},
				{Code: mappings.CodeAccountsPayableAccrued, Side: SideCredit, Amount: totalCost},
			},
		},
		{
			Event: ledger.EventGoodsIssue,
			Memo:  "Goods issue",
			Lines: []TemplateLine{
				{Code: mappings.CodeCostOfGoodsSold, Side: SideDebit, Amount: totalCost},
				{Code: mappings.CodeInventoryRawMaterials, Side: SideCredit, Amount: totalCost},
			},
		},
		{
			Event: ledger.EventAdjustmentGain,
			Memo:  "Inventory adjustment gain",
			Lines: []TemplateLine{
				{Code: mappings.CodeInventoryRawMaterials, Side: SideDebit, Amount: totalCost},
				{Code: mappings.CodeInventoryAdjustment, Side: SideCredit, Amount: totalCost},
			},
		},
		{
			Event: ledger.EventAdjustmentLoss,
			Memo:  "Inventory adjustment loss",
			Lines: []TemplateLine{
				{Code: mappings.CodeInventoryAdjustment, Side: SideDebit, Amount: totalCost},
				{Code: mappings.CodeInventoryRawMaterials, Side: SideCredit, Amount: totalCost},
			},
		},
		{
			Event: ledger.EventProductionOutput,
			Memo:  "Production output",
			Lines: []TemplateLine{
				{Code: mappings.CodeInventoryFinishedGoods, Side: SideDebit, Amount: totalCost},
				{Code: mappings.CodeProductionWIP, Side: SideCredit, Amount: totalCost},
			},
		},
		{
			Event: ledger.EventSaleFulfillment,
			Memo:  "Sale fulfillment",
			Lines: []TemplateLine{
				{Code: mappings.CodeCostOfGoodsSold, Side: SideDebit, Amount: totalCost},
				{Code: mappings.CodeInventoryFinishedGoods, Side: SideCredit, Amount: totalCost},
			},
		},
	}
}
