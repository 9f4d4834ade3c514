package mappings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/millbrook-erp/millbrook-erp/internal/platform/db"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// Repository persists tenant account mappings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get resolves an account mapping for one code.
func (r *Repository) Get(ctx context.Context, tenantID uuid.UUID, code Code) (AccountMapping, error) {
	var m AccountMapping
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, code, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1 AND code=$2`, tenantID, code).
		Scan(&m.TenantID, &m.Code, &m.AccountID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, shared.ErrNotFound
		}
		return AccountMapping{}, err
	}
	return m, nil
}

// GetAll fetches every binding of the tenant keyed by code.
func (r *Repository) GetAll(ctx context.Context, tenantID uuid.UUID) (map[Code]AccountMapping, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, code, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Code]AccountMapping)
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.TenantID, &m.Code, &m.AccountID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out[m.Code] = m
	}
	return out, rows.Err()
}

// Upsert writes or replaces a binding, with the audit record in the same
// transaction.
func (r *Repository) Upsert(ctx context.Context, m AccountMapping, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var before *AccountMapping
		var prev AccountMapping
		err := tx.QueryRow(ctx, `SELECT tenant_id, code, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1 AND code=$2 FOR UPDATE`, m.TenantID, m.Code).
			Scan(&prev.TenantID, &prev.Code, &prev.AccountID, &prev.CreatedAt, &prev.UpdatedAt)
		switch {
		case err == nil:
			before = &prev
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO account_mappings (tenant_id, code, account_id)
VALUES ($1,$2,$3)
ON CONFLICT (tenant_id, code) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`,
			m.TenantID, m.Code, m.AccountID)
		if err != nil {
			return err
		}
		rec := shared.AuditRecord{
			TenantID: m.TenantID,
			Entity:   "account_mapping",
			EntityID: string(m.Code),
			Action:   "mapping.upsert",
			After:    map[string]any{"code": string(m.Code), "account_id": m.AccountID},
			ActorID:  actorID,
		}
		if before != nil {
			rec.Before = map[string]any{"code": string(before.Code), "account_id": before.AccountID}
		}
		return shared.InsertAuditTx(ctx, tx, rec)
	})
}

// Delete removes a binding, audited in the same transaction.
func (r *Repository) Delete(ctx context.Context, tenantID uuid.UUID, code Code, actorID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var prev AccountMapping
		err := tx.QueryRow(ctx, `SELECT tenant_id, code, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1 AND code=$2 FOR UPDATE`, tenantID, code).
			Scan(&prev.TenantID, &prev.Code, &prev.AccountID, &prev.CreatedAt, &prev.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM account_mappings WHERE tenant_id=$1 AND code=$2`, tenantID, code); err != nil {
			return err
		}
		return shared.InsertAuditTx(ctx, tx, shared.AuditRecord{
			TenantID: tenantID,
			Entity:   "account_mapping",
			EntityID: string(code),
			Action:   "mapping.delete",
			Before:   map[string]any{"code": string(prev.Code), "account_id": prev.AccountID},
			ActorID:  actorID,
		})
	})
}
