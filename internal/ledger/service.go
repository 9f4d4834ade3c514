package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/millbrook-erp/millbrook-erp/internal/observability"
	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, key Key) (Balance, error)
	ListBalances(ctx context.Context, tenantID uuid.UUID) ([]Balance, error)
	History(ctx context.Context, filter HistoryFilter) ([]Entry, error)
	DeriveBalances(ctx context.Context, tenantID uuid.UUID) (map[Key]Balance, error)
	MarkPosted(ctx context.Context, tenantID uuid.UUID, entryID int64) error
}

// Service coordinates ledger appends, balance reads, and reconciliation.
type Service struct {
	repo        RepositoryPort
	logger      *slog.Logger
	metrics     *observability.Metrics
	integration IntegrationHandler
	now         func() time.Time
}

// NewService builds Service. integration may be nil when no auto-journal
// generation is wanted.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics *observability.Metrics, integration IntegrationHandler) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, metrics: metrics, integration: integration, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AppendMovement records one signed movement. Validation, the sufficiency
// check, the period gate, the entry insert, the projection upsert, and the
// audit record all happen in a single transaction; the projection row lock
// serializes concurrent writers per key.
func (s *Service) AppendMovement(ctx context.Context, input MovementInput) (Entry, error) {
	if err := validateMovement(input); err != nil {
		return Entry{}, err
	}
	var entry Entry
	var periodGap bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, periodGap, err = s.appendLocked(ctx, tx, input, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.StockRejection()
		}
		return Entry{}, err
	}
	s.afterAppend(ctx, &entry, periodGap)
	return entry, nil
}

// CorrectEntry appends an offsetting movement referencing the original entry.
// The original row is never touched.
func (s *Service) CorrectEntry(ctx context.Context, input CorrectionInput) (Entry, error) {
	if input.TenantID == uuid.Nil {
		return Entry{}, shared.ErrTenantRequired
	}
	if input.EntryID == 0 {
		return Entry{}, ErrEntryNotFound
	}
	var entry Entry
	var periodGap bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntry(ctx, input.TenantID, input.EntryID)
		if err != nil {
			return err
		}
		offset := MovementInput{
			TenantID:     original.TenantID,
			ItemID:       original.ItemID,
			LocationID:   original.LocationID,
			Qty:          original.Delta().Neg(),
			UnitCost:     original.UnitCost,
			BusinessDate: s.now().UTC(),
			EventType:    EventCorrection,
			Ref:          Reference{Module: "CORRECTION", ID: uuid.New(), Number: input.Reason},
			ActorID:      input.ActorID,
		}
		entry, periodGap, err = s.appendLocked(ctx, tx, offset, &original.ID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.afterAppend(ctx, &entry, periodGap)
	return entry, nil
}

// GetBalance reads the projection for one key in O(1); a missing row reads as
// zero quantity and cost.
func (s *Service) GetBalance(ctx context.Context, key Key) (Balance, error) {
	if key.TenantID == uuid.Nil {
		return Balance{}, shared.ErrTenantRequired
	}
	if key.ItemID == 0 || key.LocationID == 0 {
		return Balance{}, ErrMissingKey
	}
	balance, err := s.repo.GetBalance(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{TenantID: key.TenantID, ItemID: key.ItemID, LocationID: key.LocationID}, nil
		}
		return Balance{}, err
	}
	return balance, nil
}

// History lists the immutable movement log for one key.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if filter.TenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	if filter.ItemID == 0 || filter.LocationID == 0 {
		return nil, ErrMissingKey
	}
	return s.repo.History(ctx, filter)
}

// Reconcile re-derives per-key quantities from the full event log and reports
// projections that drifted. Read only: drift is reported, never repaired here.
func (s *Service) Reconcile(ctx context.Context, tenantID uuid.UUID) ([]Drift, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	derived, err := s.repo.DeriveBalances(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	projected, err := s.repo.ListBalances(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	seen := make(map[Key]bool, len(projected))
	for _, bal := range projected {
		key := Key{TenantID: bal.TenantID, ItemID: bal.ItemID, LocationID: bal.LocationID}
		seen[key] = true
		want := derived[key]
		if !bal.Qty.Equal(want.Qty) {
			drifts = append(drifts, Drift{Key: key, ProjectedQty: bal.Qty, DerivedQty: want.Qty})
		}
	}
	for key, want := range derived {
		if !seen[key] && !want.Qty.IsZero() {
			drifts = append(drifts, Drift{Key: key, ProjectedQty: decimal.Zero, DerivedQty: want.Qty})
		}
	}
	for _, d := range drifts {
		s.logger.Warn("balance projection drift",
			slog.String("key", d.Key.String()),
			slog.String("projected", d.ProjectedQty.String()),
			slog.String("derived", d.DerivedQty.String()))
		s.metrics.ReconcileDrift()
	}
	return drifts, nil
}

func (s *Service) appendLocked(ctx context.Context, tx TxRepository, input MovementInput, correctionOf *int64) (Entry, bool, error) {
	key := Key{TenantID: input.TenantID, ItemID: input.ItemID, LocationID: input.LocationID}
	balance, err := tx.GetBalanceForUpdate(ctx, key)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return Entry{}, false, err
	}

	delta := input.Qty
	newQty := balance.Qty.Add(delta)
	if delta.IsNegative() && newQty.IsNegative() {
		return Entry{}, false, &InsufficientStockError{Key: key, Available: balance.Qty, Requested: delta.Neg()}
	}

	var periodID *int64
	periodGap := false
	period, err := tx.ResolvePeriodForDate(ctx, input.TenantID, input.BusinessDate)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		// Documented gap: a date with no defined period is allowed through,
		// flagged as a warning rather than rejected.
		periodGap = true
	case err != nil:
		return Entry{}, false, err
	case period.Status == periods.StatusClosed:
		return Entry{}, false, &periods.ClosedError{Code: period.Code, StartDate: period.StartDate, EndDate: period.EndDate}
	default:
		periodID = &period.ID
	}

	var unitCost, newAvg decimal.Decimal
	if delta.IsPositive() {
		unitCost = input.UnitCost
		total := balance.Qty.Mul(balance.AvgCost).Add(delta.Mul(unitCost))
		if !newQty.IsZero() {
			newAvg = total.DivRound(newQty, 6)
		}
	} else {
		// Issues leave the ledger at the running weighted-average cost.
		unitCost = balance.AvgCost
		if newQty.IsZero() {
			newAvg = decimal.Zero
		} else {
			newAvg = balance.AvgCost
		}
	}

	now := s.now().UTC()
	entry := Entry{
		TenantID:     input.TenantID,
		ItemID:       input.ItemID,
		LocationID:   input.LocationID,
		PeriodID:     periodID,
		BusinessDate: input.BusinessDate,
		EventType:    input.EventType,
		QtyIn:        decimal.Max(delta, decimal.Zero),
		QtyOut:       decimal.Max(delta.Neg(), decimal.Zero),
		UnitCost:     unitCost,
		CorrectionOf: correctionOf,
		Ref:          input.Ref,
		CreatedBy:    input.ActorID,
	}
	entry.TotalCost = entry.QtyIn.Add(entry.QtyOut).Mul(unitCost)

	inserted, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, false, err
	}

	balance.Qty = newQty
	balance.AvgCost = newAvg
	balance.LastMovementAt = now
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return Entry{}, false, err
	}

	if err := tx.InsertAudit(ctx, shared.AuditRecord{
		TenantID: input.TenantID,
		Entity:   "ledger_entry",
		EntityID: fmt.Sprintf("%d", inserted.ID),
		Action:   "ledger.append",
		After: map[string]any{
			"item_id":     inserted.ItemID,
			"location_id": inserted.LocationID,
			"qty_in":      inserted.QtyIn.String(),
			"qty_out":     inserted.QtyOut.String(),
			"unit_cost":   inserted.UnitCost.String(),
			"balance_qty": balance.Qty.String(),
			"event_type":  string(inserted.EventType),
		},
		ActorID:    input.ActorID,
		OccurredAt: now,
	}); err != nil {
		return Entry{}, false, err
	}

	return inserted, periodGap, nil
}

func (s *Service) afterAppend(ctx context.Context, entry *Entry, periodGap bool) {
	s.metrics.MovementPosted(string(entry.EventType))
	if periodGap {
		s.logger.Warn("movement accepted without an owning period",
			slog.String("key", entry.Key().String()),
			slog.Time("business_date", entry.BusinessDate))
		s.metrics.PeriodGap()
	}
	if s.integration == nil {
		return
	}
	// A failed auto-journal never fails the movement: the generator records
	// the gap for operator remediation and we move on.
	if err := s.integration.HandleMovementPosted(ctx, MovementPostedEvent{Entry: *entry}); err != nil {
		if !errors.Is(err, ErrNoAutoJournal) {
			s.logger.Warn("auto-journal not created for movement",
				slog.Int64("entry_id", entry.ID),
				slog.Any("error", err))
		}
		return
	}
	if err := s.repo.MarkPosted(ctx, entry.TenantID, entry.ID); err != nil {
		s.logger.Error("mark entry posted", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
		return
	}
	entry.Posted = true
}

func validateMovement(input MovementInput) error {
	if input.TenantID == uuid.Nil {
		return shared.ErrTenantRequired
	}
	if input.ItemID == 0 || input.LocationID == 0 {
		return ErrMissingKey
	}
	if input.Qty.IsZero() {
		return ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	if input.EventType == "" {
		return errors.New("ledger: event type required")
	}
	if input.BusinessDate.IsZero() {
		return errors.New("ledger: business date required")
	}
	return nil
}
