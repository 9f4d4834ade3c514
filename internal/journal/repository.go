package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/platform/db"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Repository encapsulates DB operations for journals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes methods available within one posting transaction. There
// is deliberately no update or delete for committed headers or lines.
type TxRepository interface {
	InsertHeader(ctx context.Context, in PostingInput, periodID *int64) (Header, error)
	InsertLine(ctx context.Context, headerID int64, line LineInput) error
	LinkSource(ctx context.Context, tenantID uuid.UUID, module string, ref uuid.UUID, headerID int64) error
	GetHeaderWithLines(ctx context.Context, tenantID uuid.UUID, headerID int64) (Header, error)
	ResolvePeriodForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (periods.Period, error)
	InsertAudit(ctx context.Context, rec shared.AuditRecord) error
}

// WithTx runs fn inside a repeatable-read transaction and validates every
// header written in it immediately before commit. Validating per line would
// make atomic multi-line postings impossible, so only the final aggregate is
// checked; a failing check rolls back all lines of the transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("journal repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepository{tx: tx}
		if err := fn(ctx, wrapper); err != nil {
			return err
		}
		return wrapper.validatePending(ctx)
	})
}

const headerColumns = `id, tenant_id, number, journal_date, period_id, memo, source_module, source_id, reversal_of, posted_by, posted_at, created_at`

// Get fetches one header with its lines.
func (r *Repository) Get(ctx context.Context, tenantID uuid.UUID, headerID int64) (Header, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM journal_headers WHERE tenant_id=$1 AND id=$2`, tenantID, headerID)
	header, err := scanHeader(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Header{}, ErrJournalNotFound
		}
		return Header{}, err
	}
	lines, err := r.linesFor(ctx, headerID)
	if err != nil {
		return Header{}, err
	}
	header.Lines = lines
	return header, nil
}

// List returns headers of the tenant, newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Header, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+headerColumns+` FROM journal_headers
WHERE tenant_id=$1
  AND ($2::timestamptz IS NULL OR journal_date >= $2)
  AND ($3::timestamptz IS NULL OR journal_date <= $3)
ORDER BY number DESC LIMIT $4`, filter.TenantID, nullableTime(filter.From), nullableTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Header
	for rows.Next() {
		h, err := scanHeaderFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CheckIntegrity re-sums committed headers and returns ids whose aggregate
// delta exceeds the tolerance. Used by the background integrity scan only.
func (r *Repository) CheckIntegrity(ctx context.Context, tenantID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT h.id
FROM journal_headers h JOIN journal_lines l ON l.journal_id = h.id
WHERE h.tenant_id=$1
GROUP BY h.id
HAVING ABS(COALESCE(SUM(l.debit),0) - COALESCE(SUM(l.credit),0)) > $2`, tenantID, BalanceTolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) linesFor(ctx context.Context, headerID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, journal_id, account_id, debit, credit, created_at
FROM journal_lines WHERE journal_id=$1 ORDER BY id ASC`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.JournalID, &l.AccountID, &l.Debit, &l.Credit, &l.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type txRepository struct {
	tx      pgx.Tx
	pending []int64
}

// InsertHeader writes the header with the period resolved earlier in the same
// transaction; nil means the date falls in a coverage gap.
func (r *txRepository) InsertHeader(ctx context.Context, in PostingInput, periodID *int64) (Header, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_headers
(tenant_id, journal_date, period_id, memo, source_module, source_id, reversal_of, posted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, number, posted_at, created_at`,
		in.TenantID, in.JournalDate, periodID, in.Memo, in.SourceModule, in.SourceID, in.ReversalOf, in.PostedBy)
	header := Header{
		TenantID:     in.TenantID,
		JournalDate:  in.JournalDate,
		PeriodID:     periodID,
		Memo:         in.Memo,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		ReversalOf:   in.ReversalOf,
		PostedBy:     in.PostedBy,
	}
	if err := row.Scan(&header.ID, &header.Number, &header.PostedAt, &header.CreatedAt); err != nil {
		return Header{}, err
	}
	r.pending = append(r.pending, header.ID)
	return header, nil
}

func (r *txRepository) InsertLine(ctx context.Context, headerID int64, line LineInput) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (journal_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4)`, headerID, line.AccountID, line.Debit, line.Credit)
	return err
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID uuid.UUID, module string, ref uuid.UUID, headerID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journal_source_links (tenant_id, module, ref_id, journal_id) VALUES ($1,$2,$3,$4)`,
		tenantID, module, ref, headerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSourceAlreadyLinked
		}
		return err
	}
	return nil
}

func (r *txRepository) GetHeaderWithLines(ctx context.Context, tenantID uuid.UUID, headerID int64) (Header, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM journal_headers WHERE tenant_id=$1 AND id=$2`, tenantID, headerID)
	header, err := scanHeader(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Header{}, ErrJournalNotFound
		}
		return Header{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, journal_id, account_id, debit, credit, created_at
FROM journal_lines WHERE journal_id=$1 ORDER BY id ASC`, headerID)
	if err != nil {
		return Header{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.JournalID, &l.AccountID, &l.Debit, &l.Credit, &l.CreatedAt); err != nil {
			return Header{}, err
		}
		header.Lines = append(header.Lines, l)
	}
	return header, rows.Err()
}

// ResolvePeriodForDate duplicates the periods repository lookup, but it must
// run through this transaction so the gate and the posting commit together.
// The FOR SHARE blocks a concurrent Close from committing between the status
// read and this transaction's commit.
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

// validatePending runs the commit-time balance check for every header written
// in this transaction.
func (r *txRepository) validatePending(ctx context.Context) error {
	for _, headerID := range r.pending {
		var count int64
		var debit, credit decimal.Decimal
		err := r.tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(debit),0), COALESCE(SUM(credit),0)
FROM journal_lines WHERE journal_id=$1`, headerID).Scan(&count, &debit, &credit)
		if err != nil {
			return err
		}
		if count < 2 {
			return ErrTooFewLines
		}
		if debit.Sub(credit).Abs().GreaterThan(BalanceTolerance) {
			return &UnbalancedError{Debit: debit, Credit: credit}
		}
	}
	return nil
}

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	err := row.Scan(&h.ID, &h.TenantID, &h.Number, &h.JournalDate, &h.PeriodID, &h.Memo,
		&h.SourceModule, &h.SourceID, &h.ReversalOf, &h.PostedBy, &h.PostedAt, &h.CreatedAt)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func scanHeaderFromRows(rows pgx.Rows) (Header, error) {
	var h Header
	err := rows.Scan(&h.ID, &h.TenantID, &h.Number, &h.JournalDate, &h.PeriodID, &h.Memo,
		&h.SourceModule, &h.SourceID, &h.ReversalOf, &h.PostedBy, &h.PostedAt, &h.CreatedAt)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
