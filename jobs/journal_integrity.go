package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// IntegrityChecker is satisfied by the journal service.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, tenantID uuid.UUID) ([]int64, error)
}

// IntegrityJob scans posted journals for debit/credit drift beyond tolerance.
// A non-empty result means something bypassed the pre-commit balance hook and
// warrants a human look.
type IntegrityJob struct {
	checker IntegrityChecker
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// NewIntegrityJob constructs the journal integrity job.
func NewIntegrityJob(checker IntegrityChecker, pool *pgxpool.Pool, logger *slog.Logger) *IntegrityJob {
	return &IntegrityJob{checker: checker, pool: pool, logger: logger}
}

// Handle processes TaskJournalIntegrity tasks.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityPayload
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
		if tenants, err = j.journalTenants(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			unbalanced, err := j.checker.CheckIntegrity(gctx, tenantID)
			if err != nil {
				return err
			}
			if len(unbalanced) > 0 {
				j.logger.Error("unbalanced journals detected",
					slog.String("tenant", tenantID.String()),
					slog.Any("journal_ids", unbalanced))
				return nil
			}
			j.logger.Info("journal integrity clean", slog.String("tenant", tenantID.String()))
			return nil
		})
	}
	return g.Wait()
}

func (j *IntegrityJob) journalTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := j.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM journal_headers`)
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
