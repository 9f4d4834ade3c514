package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/millbrook-erp/millbrook-erp/internal/ledger"
)

type stubReconciler struct {
	tenants []uuid.UUID
	drifts  []ledger.Drift
}

func (s *stubReconciler) Reconcile(ctx context.Context, tenantID uuid.UUID) ([]ledger.Drift, error) {
	s.tenants = append(s.tenants, tenantID)
	return s.drifts, nil
}

type stubChecker struct {
	tenants    []uuid.UUID
	unbalanced []int64
}

func (s *stubChecker) CheckIntegrity(ctx context.Context, tenantID uuid.UUID) ([]int64, error) {
	s.tenants = append(s.tenants, tenantID)
	return s.unbalanced, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcileTaskRoundTrip(t *testing.T) {
	tenantID := uuid.New()
	task, err := NewReconcileTask(ReconcilePayload{TenantID: tenantID.String()})
	require.NoError(t, err)
	require.Equal(t, TaskLedgerReconcile, task.Type())

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, tenantID.String(), payload.TenantID)
}

func TestReconcileJobScopedTenant(t *testing.T) {
	tenantID := uuid.New()
	rec := &stubReconciler{}
	job := NewReconcileJob(rec, nil, discardLogger())

	task, err := NewReconcileTask(ReconcilePayload{TenantID: tenantID.String()})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []uuid.UUID{tenantID}, rec.tenants)
}

func TestReconcileJobBadPayloadSkipsRetry(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, nil, discardLogger())

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte(`{"tenant_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIntegrityJobScopedTenant(t *testing.T) {
	tenantID := uuid.New()
	checker := &stubChecker{unbalanced: []int64{42}}
	job := NewIntegrityJob(checker, nil, discardLogger())

	task, err := NewIntegrityTask(IntegrityPayload{TenantID: tenantID.String()})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []uuid.UUID{tenantID}, checker.tenants)
}
