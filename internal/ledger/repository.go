package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/platform/db"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Repository persists ledger entries and balance projections in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. There is
// deliberately no update or delete for entries.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	GetEntry(ctx context.Context, tenantID uuid.UUID, entryID int64) (Entry, error)
	ResolvePeriodForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (periods.Period, error)
	InsertAudit(ctx context.Context, rec shared.AuditRecord) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, tenant_id, item_id, location_id, period_id, business_date, event_type, qty_in, qty_out, unit_cost, total_cost, ref_module, ref_id, ref_number, posted, correction_of, created_by, created_at`

// GetBalance reads the projection for one key. Missing rows map to
// ErrBalanceNotFound so callers can treat them as zero.
func (r *Repository) GetBalance(ctx context.Context, key Key) (Balance, error) {
	row := r.pool.QueryRow(ctx, `SELECT tenant_id, item_id, location_id, qty, avg_cost, last_movement_at
FROM balance_projections WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3`,
		key.TenantID, key.ItemID, key.LocationID)
	return scanBalance(row, key)
}

// ListBalances returns every projection of the tenant.
func (r *Repository) ListBalances(ctx context.Context, tenantID uuid.UUID) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, item_id, location_id, qty, avg_cost, last_movement_at
FROM balance_projections WHERE tenant_id=$1 ORDER BY item_id, location_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.TenantID, &b.ItemID, &b.LocationID, &b.Qty, &b.AvgCost, &b.LastMovementAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// History lists immutable entries for one key, newest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3
  AND ($4::timestamptz IS NULL OR business_date >= $4)
  AND ($5::timestamptz IS NULL OR business_date <= $5)
ORDER BY created_at DESC, id DESC LIMIT $6`,
		filter.TenantID, filter.ItemID, filter.LocationID,
		nullableTime(filter.From), nullableTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// DeriveBalances recomputes per-key quantity sums from the full event log.
// Reserved for the out-of-band reconciliation job; never called in the hot path.
func (r *Repository) DeriveBalances(ctx context.Context, tenantID uuid.UUID) (map[Key]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, item_id, location_id, COALESCE(SUM(qty_in - qty_out), 0), MAX(created_at)
FROM ledger_entries WHERE tenant_id=$1 GROUP BY tenant_id, item_id, location_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Key]Balance)
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.TenantID, &b.ItemID, &b.LocationID, &b.Qty, &b.LastMovementAt); err != nil {
			return nil, err
		}
		out[Key{TenantID: b.TenantID, ItemID: b.ItemID, LocationID: b.LocationID}] = b
	}
	return out, rows.Err()
}

// MarkPosted flips the posting flag once the auto-journal for the entry
// committed. This is the only field of an entry the engine ever updates.
func (r *Repository) MarkPosted(ctx context.Context, tenantID uuid.UUID, entryID int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE ledger_entries SET posted=TRUE WHERE tenant_id=$1 AND id=$2`, tenantID, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error) {
	// The row lock is the per-key serialization point: it is taken before the
	// sufficiency check and held until the enclosing transaction commits.
	row := r.tx.QueryRow(ctx, `SELECT tenant_id, item_id, location_id, qty, avg_cost, last_movement_at
FROM balance_projections WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 FOR UPDATE`,
		key.TenantID, key.ItemID, key.LocationID)
	return scanBalance(row, key)
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	// Second, independent barrier beyond the service pre-check. The table also
	// carries CHECK (qty >= 0).
	if balance.Qty.IsNegative() {
		return ErrNegativeBalance
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO balance_projections (tenant_id, item_id, location_id, qty, avg_cost, last_movement_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (tenant_id, item_id, location_id)
DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, last_movement_at=EXCLUDED.last_movement_at`,
		balance.TenantID, balance.ItemID, balance.LocationID, balance.Qty, balance.AvgCost, balance.LastMovementAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return ErrNegativeBalance
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries
(tenant_id, item_id, location_id, period_id, business_date, event_type, qty_in, qty_out, unit_cost, total_cost, ref_module, ref_id, ref_number, correction_of, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id, created_at`,
		entry.TenantID, entry.ItemID, entry.LocationID, entry.PeriodID, entry.BusinessDate,
		entry.EventType, entry.QtyIn, entry.QtyOut, entry.UnitCost, entry.TotalCost,
		entry.Ref.Module, nullableUUID(entry.Ref.ID), entry.Ref.Number, entry.CorrectionOf, entry.CreatedBy)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetEntry(ctx context.Context, tenantID uuid.UUID, entryID int64) (Entry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return entry, nil
}

// ResolvePeriodForDate duplicates the periods repository lookup, but it must
// run through this transaction so the gate and the write commit together. The
// FOR SHARE blocks a concurrent Close from committing between the status read
// and this transaction's commit.
func (r *txRepository) ResolvePeriodForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, code, start_date, end_date, status
FROM accounting_periods WHERE tenant_id=$1 AND $2 BETWEEN start_date AND end_date
ORDER BY start_date LIMIT 1 FOR SHARE`, tenantID, date).
		Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, shared.ErrNotFound
		}
		return periods.Period{}, err
	}
	p.TenantID = tenantID
	return p, nil
}

func (r *txRepository) InsertAudit(ctx context.Context, rec shared.AuditRecord) error {
	return shared.InsertAuditTx(ctx, r.tx, rec)
}

func scanBalance(row pgx.Row, key Key) (Balance, error) {
	var b Balance
	err := row.Scan(&b.TenantID, &b.ItemID, &b.LocationID, &b.Qty, &b.AvgCost, &b.LastMovementAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{TenantID: key.TenantID, ItemID: key.ItemID, LocationID: key.LocationID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var refID *uuid.UUID
	err := row.Scan(&e.ID, &e.TenantID, &e.ItemID, &e.LocationID, &e.PeriodID, &e.BusinessDate,
		&e.EventType, &e.QtyIn, &e.QtyOut, &e.UnitCost, &e.TotalCost,
		&e.Ref.Module, &refID, &e.Ref.Number, &e.Posted, &e.CorrectionOf, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	if refID != nil {
		e.Ref.ID = *refID
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var refID *uuid.UUID
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ItemID, &e.LocationID, &e.PeriodID, &e.BusinessDate,
			&e.EventType, &e.QtyIn, &e.QtyOut, &e.UnitCost, &e.TotalCost,
			&e.Ref.Module, &refID, &e.Ref.Number, &e.Posted, &e.CorrectionOf, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		if refID != nil {
			e.Ref.ID = *refID
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
