package periods

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

type memoryRepo struct {
	periods map[int64]Period
	audits  []shared.AuditRecord
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{periods: make(map[int64]Period)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) FindByDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error) {
	for _, p := range r.periods {
		if p.TenantID == tenantID && p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, shared.ErrNotFound
}

func (r *memoryRepo) Get(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error) {
	p, ok := r.periods[id]
	if !ok || p.TenantID != tenantID {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) List(ctx context.Context, tenantID uuid.UUID) ([]Period, error) {
	var out []Period
	for _, p := range r.periods {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) ListForUpdate(ctx context.Context, tenantID uuid.UUID) ([]Period, error) {
	return tx.repo.List(ctx, tenantID)
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error) {
	return tx.repo.Get(ctx, tenantID, id)
}

func (tx *memoryTx) Insert(ctx context.Context, p Period) (Period, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.periods[p.ID] = p
	return p, nil
}

func (tx *memoryTx) UpdateDates(ctx context.Context, tenantID uuid.UUID, id int64, start, end time.Time) error {
	p := tx.repo.periods[id]
	p.StartDate = start
	p.EndDate = end
	tx.repo.periods[id] = p
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, p Period) error {
	tx.repo.periods[p.ID] = p
	return nil
}

func (tx *memoryTx) InsertAudit(ctx context.Context, rec shared.AuditRecord) error {
	tx.repo.audits = append(tx.repo.audits, rec)
	return nil
}

var testTenant = uuid.MustParse("93b8a1fc-2f4e-4a1d-8c7e-12f3e4a5b6c7")

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func marchInput() CreateInput {
	return CreateInput{
		TenantID:  testTenant,
		Code:      "2026-03",
		StartDate: day(2026, 3, 1),
		EndDate:   day(2026, 3, 31),
		ActorID:   7,
	}
}

func TestCreateAndResolve(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)
	require.Equal(t, StatusOpen, created.Status)

	// Bounds are inclusive on both ends.
	for _, d := range []time.Time{day(2026, 3, 1), day(2026, 3, 15), day(2026, 3, 31)} {
		resolved, err := svc.ResolveForDate(ctx, testTenant, d)
		require.NoError(t, err)
		require.Equal(t, created.ID, resolved.ID)
	}

	_, err = svc.ResolveForDate(ctx, testTenant, day(2026, 4, 1))
	require.ErrorIs(t, err, ErrPeriodUndefined)
}

func TestOverlapRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)

	// Even a single shared day conflicts.
	_, err = svc.Create(ctx, CreateInput{
		TenantID:  testTenant,
		Code:      "2026-03B",
		StartDate: day(2026, 3, 31),
		EndDate:   day(2026, 4, 30),
		ActorID:   7,
	})
	require.ErrorIs(t, err, ErrOverlap)

	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)
	require.Equal(t, "2026-03", overlap.ConflictsWith)

	// Adjacent ranges are fine.
	_, err = svc.Create(ctx, CreateInput{
		TenantID:  testTenant,
		Code:      "2026-04",
		StartDate: day(2026, 4, 1),
		EndDate:   day(2026, 4, 30),
		ActorID:   7,
	})
	require.NoError(t, err)
}

func TestOverlapScopedToTenant(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)

	other := marchInput()
	other.TenantID = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)
}

func TestInvalidRange(t *testing.T) {
	svc := NewService(newMemoryRepo())

	input := marchInput()
	input.StartDate, input.EndDate = input.EndDate, input.StartDate
	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestCloseAndReopen(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return day(2026, 4, 2) })
	ctx := context.Background()

	created, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)

	closed, err := svc.Close(ctx, testTenant, created.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedBy)
	require.Equal(t, int64(42), *closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)

	// Double close is not a valid transition.
	_, err = svc.Close(ctx, testTenant, created.ID, 42)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// A closed period blocks date resolution with a typed error.
	_, err = svc.ResolveForDate(ctx, testTenant, day(2026, 3, 15))
	require.ErrorIs(t, err, ErrPeriodClosed)
	var closedErr *ClosedError
	require.ErrorAs(t, err, &closedErr)
	require.Equal(t, "2026-03", closedErr.Code)

	reopened, err := svc.Reopen(ctx, testTenant, created.ID, 43)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, reopened.Status)
	require.NotNil(t, reopened.ReopenedBy)
	require.Equal(t, int64(43), *reopened.ReopenedBy)

	_, err = svc.Reopen(ctx, testTenant, created.ID, 43)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateDates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)

	updated, err := svc.UpdateDates(ctx, UpdateDatesInput{
		TenantID:  testTenant,
		PeriodID:  created.ID,
		StartDate: day(2026, 3, 1),
		EndDate:   day(2026, 3, 30),
		ActorID:   7,
	})
	require.NoError(t, err)
	require.Equal(t, day(2026, 3, 30), updated.EndDate)
}

func TestUpdateDatesFrozenWhenClosed(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)
	_, err = svc.Close(ctx, testTenant, created.ID, 7)
	require.NoError(t, err)

	_, err = svc.UpdateDates(ctx, UpdateDatesInput{
		TenantID:  testTenant,
		PeriodID:  created.ID,
		StartDate: day(2026, 3, 1),
		EndDate:   day(2026, 3, 30),
		ActorID:   7,
	})
	require.ErrorIs(t, err, ErrClosedDatesFrozen)
}

func TestUpdateDatesChecksOverlap(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, marchInput())
	require.NoError(t, err)
	april, err := svc.Create(ctx, CreateInput{
		TenantID:  testTenant,
		Code:      "2026-04",
		StartDate: day(2026, 4, 1),
		EndDate:   day(2026, 4, 30),
		ActorID:   7,
	})
	require.NoError(t, err)

	_, err = svc.UpdateDates(ctx, UpdateDatesInput{
		TenantID:  testTenant,
		PeriodID:  april.ID,
		StartDate: day(2026, 3, 31),
		EndDate:   day(2026, 4, 30),
		ActorID:   7,
	})
	require.ErrorIs(t, err, ErrOverlap)
}
