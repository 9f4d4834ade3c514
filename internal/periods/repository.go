package periods

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/millbrook-erp/millbrook-erp/internal/platform/db"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Repository persists accounting periods in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	ListForUpdate(ctx context.Context, tenantID uuid.UUID) ([]Period, error)
	GetForUpdate(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error)
	Insert(ctx context.Context, p Period) (Period, error)
	UpdateDates(ctx context.Context, tenantID uuid.UUID, id int64, start, end time.Time) error
	UpdateStatus(ctx context.Context, p Period) error
	InsertAudit(ctx context.Context, rec shared.AuditRecord) error
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("periods repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const periodColumns = `id, tenant_id, code, start_date, end_date, status, closed_by, closed_at, reopened_by, reopened_at, created_at, updated_at`

// FindByDate returns the period owning the supplied date regardless of status.
func (r *Repository) FindByDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 AND $2 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, tenantID, date)
	return scanPeriod(row)
}

// Get fetches a single period.
func (r *Repository) Get(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanPeriod(row)
}

// List returns every period of the tenant ordered by start date.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 ORDER BY start_date`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeriods(rows)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) ListForUpdate(ctx context.Context, tenantID uuid.UUID) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 ORDER BY start_date FOR UPDATE`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPeriods(rows)
}

func (r *txRepository) GetForUpdate(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id)
	return scanPeriod(row)
}

func (r *txRepository) Insert(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (tenant_id, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`, p.TenantID, p.Code, p.StartDate, p.EndDate, p.Status)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) UpdateDates(ctx context.Context, tenantID uuid.UUID, id int64, start, end time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET start_date=$3, end_date=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, id, start, end)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods
SET status=$3, closed_by=$4, closed_at=$5, reopened_by=$6, reopened_at=$7, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, p.TenantID, p.ID, p.Status, p.ClosedBy, p.ClosedAt, p.ReopenedBy, p.ReopenedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertAudit(ctx context.Context, rec shared.AuditRecord) error {
	return shared.InsertAuditTx(ctx, r.tx, rec)
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.TenantID, &p.Code, &p.StartDate, &p.EndDate, &p.Status,
		&p.ClosedBy, &p.ClosedAt, &p.ReopenedBy, &p.ReopenedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func collectPeriods(rows pgx.Rows) ([]Period, error) {
	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.StartDate, &p.EndDate, &p.Status,
			&p.ClosedBy, &p.ClosedAt, &p.ReopenedBy, &p.ReopenedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
