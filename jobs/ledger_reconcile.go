package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/millbrook-erp/millbrook-erp/internal/ledger"
)

// Reconciler is satisfied by the ledger service.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID uuid.UUID) ([]ledger.Drift, error)
}

// ReconcileJob re-derives balance projections for every tenant and logs drift.
type ReconcileJob struct {
	reconciler Reconciler
	pool       *pgxpool.Pool
	logger     *slog.Logger
}

// NewReconcileJob constructs the reconciliation job.
func NewReconcileJob(reconciler Reconciler, pool *pgxpool.Pool, logger *slog.Logger) *ReconcileJob {
	return &ReconcileJob{reconciler: reconciler, pool: pool, logger: logger}
}

// Handle processes TaskLedgerReconcile tasks.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	var tenants []uuid.UUID
	if payload.TenantID != "" {
		tenantID, err := uuid.Parse(payload.TenantID)
		if err != nil {
			return asynq.SkipRetry
		}
		tenants = []uuid.UUID{tenantID}
	} else {
		var err error
		if tenants, err = j.activeTenants(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			drifts, err := j.reconciler.Reconcile(gctx, tenantID)
			if err != nil {
				return err
			}
			j.logger.Info("reconciliation sweep finished",
				slog.String("tenant", tenantID.String()),
				slog.Int("drifts", len(drifts)))
			return nil
		})
	}
	return g.Wait()
}

func (j *ReconcileJob) activeTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := j.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM ledger_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
