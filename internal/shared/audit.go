package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecord represents one row in audit_logs. Before and After hold
// snapshots of the mutated record; Before is nil for inserts.
type AuditRecord struct {
	TenantID   uuid.UUID
	Entity     string
	EntityID   string
	Action     string
	Before     map[string]any
	After      map[string]any
	ActorID    int64
	OccurredAt time.Time
}

const insertAuditSQL = `INSERT INTO audit_logs (tenant_id, entity, entity_id, action, before, after, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`

// InsertAuditTx writes the record through an open transaction so the audit
// trail commits or rolls back together with the governed write.
func InsertAuditTx(ctx context.Context, tx pgx.Tx, rec AuditRecord) error {
	before, after, err := marshalSnapshots(rec)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertAuditSQL,
		rec.TenantID, rec.Entity, rec.EntityID, rec.Action, before, after, rec.ActorID, nullTime(rec.OccurredAt))
	return err
}

// AuditLogger writes records outside of any caller transaction. Used for
// non-fatal flags such as a skipped auto-journal, where the originating
// operation has already committed.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the audit record.
func (l *AuditLogger) Record(ctx context.Context, rec AuditRecord) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if rec.Entity == "" || rec.EntityID == "" || rec.Action == "" {
		return errors.New("audit record requires entity/entity_id/action")
	}
	before, after, err := marshalSnapshots(rec)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, insertAuditSQL,
		rec.TenantID, rec.Entity, rec.EntityID, rec.Action, before, after, rec.ActorID, nullTime(rec.OccurredAt))
	return err
}

func marshalSnapshots(rec AuditRecord) ([]byte, []byte, error) {
	var before, after []byte
	var err error
	if rec.Before != nil {
		if before, err = json.Marshal(rec.Before); err != nil {
			return nil, nil, err
		}
	}
	if rec.After != nil {
		if after, err = json.Marshal(rec.After); err != nil {
			return nil, nil, err
		}
	}
	return before, after, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
