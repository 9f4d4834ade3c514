package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	balances map[Key]Balance
	entries  []Entry
	periods  []periods.Period
	audits   []shared.AuditRecord
	nextID   int64

	// periodMu models the FOR SHARE the repository takes on the period row:
	// resolving readers hold it until their transaction ends, a close takes it
	// exclusively.
	periodMu         sync.RWMutex
	onPeriodResolved func()
}

type memoryTx struct {
	repo       *memoryRepo
	periodHeld bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[Key]Balance)}
}

// WithTx serializes writers the way the projection row lock does in Postgres.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r}
	defer func() {
		if tx.periodHeld {
			r.periodMu.RUnlock()
		}
	}()
	return fn(ctx, tx)
}

func (r *memoryRepo) GetBalance(ctx context.Context, key Key) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bal, ok := r.balances[key]; ok {
		return bal, nil
	}
	return Balance{}, ErrBalanceNotFound
}

func (r *memoryRepo) ListBalances(ctx context.Context, tenantID uuid.UUID) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Balance
	for _, bal := range r.balances {
		if bal.TenantID == tenantID {
			out = append(out, bal)
		}
	}
	return out, nil
}

func (r *memoryRepo) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.TenantID == filter.TenantID && e.ItemID == filter.ItemID && e.LocationID == filter.LocationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) DeriveBalances(ctx context.Context, tenantID uuid.UUID) (map[Key]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	derived := make(map[Key]Balance)
	for _, e := range r.entries {
		if e.TenantID != tenantID {
			continue
		}
		key := e.Key()
		bal := derived[key]
		bal.TenantID = tenantID
		bal.ItemID = e.ItemID
		bal.LocationID = e.LocationID
		bal.Qty = bal.Qty.Add(e.QtyIn).Sub(e.QtyOut)
		derived[key] = bal
	}
	return derived, nil
}

func (r *memoryRepo) MarkPosted(ctx context.Context, tenantID uuid.UUID, entryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].TenantID == tenantID && r.entries[i].ID == entryID {
			r.entries[i].Posted = true
			return nil
		}
	}
	return ErrEntryNotFound
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error) {
	if bal, ok := tx.repo.balances[key]; ok {
		return bal, nil
	}
	return Balance{TenantID: key.TenantID, ItemID: key.ItemID, LocationID: key.LocationID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	if balance.Qty.IsNegative() {
		return ErrNegativeBalance
	}
	key := Key{TenantID: balance.TenantID, ItemID: balance.ItemID, LocationID: balance.LocationID}
	tx.repo.balances[key] = balance
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry, nil
}

func (tx *memoryTx) GetEntry(ctx context.Context, tenantID uuid.UUID, entryID int64) (Entry, error) {
	for _, e := range tx.repo.entries {
		if e.TenantID == tenantID && e.ID == entryID {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (tx *memoryTx) ResolvePeriodForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (periods.Period, error) {
	if !tx.periodHeld {
		tx.repo.periodMu.RLock()
		tx.periodHeld = true
	}
	if tx.repo.onPeriodResolved != nil {
		tx.repo.onPeriodResolved()
	}
	for _, p := range tx.repo.periods {
		if p.TenantID == tenantID && p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, shared.ErrNotFound
}

func (tx *memoryTx) InsertAudit(ctx context.Context, rec shared.AuditRecord) error {
	tx.repo.audits = append(tx.repo.audits, rec)
	return nil
}

var testTenant = uuid.MustParse("5f9c6f43-32a4-4f25-9f2f-0a9f1a2b3c4d")

func receipt(qty, cost string, day time.Time) MovementInput {
	return MovementInput{
		TenantID:     testTenant,
		ItemID:       1,
		LocationID:   1,
		Qty:          decimal.RequireFromString(qty),
		UnitCost:     decimal.RequireFromString(cost),
		BusinessDate: day,
		EventType:    EventGoodsReceipt,
		Ref:          Reference{Module: "PROCUREMENT", ID: uuid.New(), Number: "GRN-1"},
		ActorID:      7,
	}
}

func issue(qty string, day time.Time) MovementInput {
	return MovementInput{
		TenantID:     testTenant,
		ItemID:       1,
		LocationID:   1,
		Qty:          decimal.RequireFromString(qty).Neg(),
		BusinessDate: day,
		EventType:    EventGoodsIssue,
		Ref:          Reference{Module: "SALES", ID: uuid.New(), Number: "DO-1"},
		ActorID:      7,
	}
}

func TestWeightedAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendMovement(ctx, receipt("10", "100", day))
	require.NoError(t, err)

	_, err = svc.AppendMovement(ctx, receipt("5", "120", day))
	require.NoError(t, err)

	bal, err := svc.GetBalance(ctx, Key{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.True(t, bal.Qty.Equal(decimal.RequireFromString("15")))
	require.True(t, bal.AvgCost.Equal(decimal.RequireFromString("106.666667")), bal.AvgCost.String())

	// Issues consume at the running average and leave it untouched.
	entry, err := svc.AppendMovement(ctx, issue("8", day))
	require.NoError(t, err)
	require.True(t, entry.UnitCost.Equal(decimal.RequireFromString("106.666667")))

	bal, err = svc.GetBalance(ctx, Key{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.True(t, bal.Qty.Equal(decimal.RequireFromString("7")))
	require.True(t, bal.AvgCost.Equal(decimal.RequireFromString("106.666667")))
}

func TestAvgCostResetsAtZeroQty(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendMovement(ctx, receipt("10", "100", day))
	require.NoError(t, err)
	_, err = svc.AppendMovement(ctx, issue("10", day))
	require.NoError(t, err)

	bal, err := svc.GetBalance(ctx, Key{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.True(t, bal.Qty.IsZero())
	require.True(t, bal.AvgCost.IsZero())
}

func TestInsufficientStockRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendMovement(ctx, receipt("3", "50", day))
	require.NoError(t, err)

	_, err = svc.AppendMovement(ctx, issue("5", day))
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.True(t, stockErr.Available.Equal(decimal.RequireFromString("3")))
	require.True(t, stockErr.Requested.Equal(decimal.RequireFromString("5")))

	// The rejected movement left no trace.
	history, err := svc.History(ctx, HistoryFilter{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestConcurrentIssuesSerialize(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendMovement(ctx, receipt("10", "100", day))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AppendMovement(ctx, issue("6", day))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientStock)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	bal, err := svc.GetBalance(ctx, Key{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.True(t, bal.Qty.Equal(decimal.RequireFromString("4")), bal.Qty.String())
}

func TestClosedPeriodRejectsMovement(t *testing.T) {
	repo := newMemoryRepo()
	repo.periods = []periods.Period{{
		ID:        1,
		TenantID:  testTenant,
		Code:      "2026-02",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		Status:    periods.StatusClosed,
	}}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.AppendMovement(ctx, receipt("10", "100", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)))
	require.ErrorIs(t, err, periods.ErrPeriodClosed)

	var closedErr *periods.ClosedError
	require.ErrorAs(t, err, &closedErr)
	require.Equal(t, "2026-02", closedErr.Code)

	// Reopening the period lets the same movement through.
	repo.periods[0].Status = periods.StatusOpen
	entry, err := svc.AppendMovement(ctx, receipt("10", "100", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NotNil(t, entry.PeriodID)
	require.Equal(t, int64(1), *entry.PeriodID)
}

// closePeriod flips the status under the exclusive period lock and reports how
// many entries were committed at the moment the close took effect.
func (r *memoryRepo) closePeriod(i int) int {
	r.periodMu.Lock()
	defer r.periodMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.periods[i].Status = periods.StatusClosed
	return len(r.entries)
}

func TestCloseWaitsForInFlightMovement(t *testing.T) {
	repo := newMemoryRepo()
	repo.periods = []periods.Period{{
		ID:        6,
		TenantID:  testTenant,
		Code:      "2026-04",
		StartDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		Status:    periods.StatusOpen,
	}}
	resolved := make(chan struct{})
	resume := make(chan struct{})
	repo.onPeriodResolved = func() {
		close(resolved)
		<-resume
	}
	svc := NewService(repo, nil, nil, nil)

	moveErr := make(chan error, 1)
	go func() {
		_, err := svc.AppendMovement(context.Background(), receipt("10", "100", time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)))
		moveErr <- err
	}()

	// The movement has resolved the period as OPEN and holds the share lock.
	// A close started now must wait for the movement's commit.
	<-resolved
	closeDone := make(chan int, 1)
	go func() { closeDone <- repo.closePeriod(0) }()

	select {
	case <-closeDone:
		t.Fatal("close committed while a movement held the period gate")
	case <-time.After(50 * time.Millisecond):
	}

	close(resume)
	require.NoError(t, <-moveErr)

	// The close only took effect after the movement was already committed, so
	// no entry can land inside a closed period.
	require.Equal(t, 1, <-closeDone)
	require.NotNil(t, repo.entries[0].PeriodID)
	require.Equal(t, int64(6), *repo.entries[0].PeriodID)
}

func TestOpenPeriodStampsEntry(t *testing.T) {
	repo := newMemoryRepo()
	repo.periods = []periods.Period{{
		ID:        9,
		TenantID:  testTenant,
		Code:      "2026-03",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:    periods.StatusOpen,
	}}
	svc := NewService(repo, nil, nil, nil)

	entry, err := svc.AppendMovement(context.Background(), receipt("1", "5", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.NotNil(t, entry.PeriodID)
	require.Equal(t, int64(9), *entry.PeriodID)
}

func TestUncoveredDateAllowedWithGap(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	entry, err := svc.AppendMovement(context.Background(), receipt("1", "5", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Nil(t, entry.PeriodID)
}

func TestCorrectionAppendsOffsettingEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	original, err := svc.AppendMovement(ctx, receipt("10", "100", day))
	require.NoError(t, err)

	correction, err := svc.CorrectEntry(ctx, CorrectionInput{
		TenantID: testTenant,
		EntryID:  original.ID,
		Reason:   "duplicate scan",
		ActorID:  7,
	})
	require.NoError(t, err)
	require.Equal(t, EventCorrection, correction.EventType)
	require.NotNil(t, correction.CorrectionOf)
	require.Equal(t, original.ID, *correction.CorrectionOf)
	require.True(t, correction.QtyOut.Equal(decimal.RequireFromString("10")))

	// The original stays in the log untouched; net quantity returns to zero.
	history, err := svc.History(ctx, HistoryFilter{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.Len(t, history, 2)

	bal, err := svc.GetBalance(ctx, Key{TenantID: testTenant, ItemID: 1, LocationID: 1})
	require.NoError(t, err)
	require.True(t, bal.Qty.IsZero())
}

func TestCorrectMissingEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.CorrectEntry(context.Background(), CorrectionInput{TenantID: testTenant, EntryID: 404, ActorID: 7})
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestReconcileFlagsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.AppendMovement(ctx, receipt("10", "100", day))
	require.NoError(t, err)

	drifts, err := svc.Reconcile(ctx, testTenant)
	require.NoError(t, err)
	require.Empty(t, drifts)

	// Tamper with the projection behind the log's back.
	key := Key{TenantID: testTenant, ItemID: 1, LocationID: 1}
	bal := repo.balances[key]
	bal.Qty = decimal.RequireFromString("12")
	repo.balances[key] = bal

	drifts, err = svc.Reconcile(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.True(t, drifts[0].ProjectedQty.Equal(decimal.RequireFromString("12")))
	require.True(t, drifts[0].DerivedQty.Equal(decimal.RequireFromString("10")))
}

func TestValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	zero := receipt("10", "100", day)
	zero.Qty = decimal.Zero
	_, err := svc.AppendMovement(ctx, zero)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	negCost := receipt("10", "-1", day)
	_, err = svc.AppendMovement(ctx, negCost)
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	noTenant := receipt("10", "100", day)
	noTenant.TenantID = uuid.Nil
	_, err = svc.AppendMovement(ctx, noTenant)
	require.ErrorIs(t, err, shared.ErrTenantRequired)

	noKey := receipt("10", "100", day)
	noKey.ItemID = 0
	_, err = svc.AppendMovement(ctx, noKey)
	require.ErrorIs(t, err, ErrMissingKey)
}

type stubIntegration struct {
	err    error
	events []MovementPostedEvent
}

func (s *stubIntegration) HandleMovementPosted(ctx context.Context, event MovementPostedEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func TestIntegrationMarksPosted(t *testing.T) {
	repo := newMemoryRepo()
	hook := &stubIntegration{}
	svc := NewService(repo, nil, nil, hook)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	entry, err := svc.AppendMovement(context.Background(), receipt("10", "100", day))
	require.NoError(t, err)
	require.Len(t, hook.events, 1)
	require.True(t, entry.Posted)
}

func TestIntegrationFailureDoesNotFailMovement(t *testing.T) {
	repo := newMemoryRepo()
	hook := &stubIntegration{err: errors.New("journal down")}
	svc := NewService(repo, nil, nil, hook)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	entry, err := svc.AppendMovement(context.Background(), receipt("10", "100", day))
	require.NoError(t, err)
	require.False(t, entry.Posted)
}

func TestNoAutoJournalLeavesEntryUnposted(t *testing.T) {
	repo := newMemoryRepo()
	hook := &stubIntegration{err: ErrNoAutoJournal}
	svc := NewService(repo, nil, nil, hook)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	entry, err := svc.AppendMovement(context.Background(), receipt("10", "100", day))
	require.NoError(t, err)
	require.False(t, entry.Posted)
}
