package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile sweeps balance projections against the event log.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskJournalIntegrity scans posted journals for debit/credit drift.
	TaskJournalIntegrity = "journal:integrity"
)

// ReconcilePayload bounds a reconciliation sweep. An empty TenantID means
// every tenant with ledger activity.
type ReconcilePayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewReconcileTask constructs a ledger reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}

// IntegrityPayload bounds a journal integrity scan the same way.
type IntegrityPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// NewIntegrityTask constructs a journal integrity task.
func NewIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJournalIntegrity, data), nil
}
