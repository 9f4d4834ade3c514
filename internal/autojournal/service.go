package autojournal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/millbrook-erp/millbrook-erp/internal/journal"
	"github.com/millbrook-erp/millbrook-erp/internal/ledger"
	"github.com/millbrook-erp/millbrook-erp/internal/mappings"
	"github.com/millbrook-erp/millbrook-erp/internal/observability"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// JournalPort submits generated postings to the journal engine.
type JournalPort interface {
	Post(ctx context.Context, input journal.PostingInput) (journal.Header, error)
}

// MappingPort resolves logical codes against the tenant registry.
type MappingPort interface {
	ResolveAll(ctx context.Context, tenantID uuid.UUID, codes []mappings.Code) (map[mappings.Code]int64, error)
}

// AuditPort surfaces skipped postings for operator remediation.
type AuditPort interface {
	Record(ctx context.Context, rec shared.AuditRecord) error
}

// Generator translates committed movements into balanced journals via the
// account mapping registry.
type Generator struct {
	registry *Registry
	journals JournalPort
	mappings MappingPort
	audit    AuditPort
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewGenerator builds Generator with the standard template registry.
func NewGenerator(journals JournalPort, mappingSvc MappingPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		registry: NewRegistry(),
		journals: journals,
		mappings: mappingSvc,
		audit:    audit,
		logger:   logger,
		metrics:  metrics,
	}
}

// Registry exposes the template registry for custom bindings.
func (g *Generator) Registry() *Registry {
	return g.registry
}

// HandleMovementPosted generates the posting for a committed movement. All
// required codes are resolved before any line is built: a single unmapped code
// skips the whole journal. The skip is flagged, never silent, and deliberately
// does not fail the originating movement.
func (g *Generator) HandleMovementPosted(ctx context.Context, evt ledger.MovementPostedEvent) error {
	entry := evt.Entry
	tmpl, ok := g.registry.Lookup(entry.EventType)
	if !ok {
		return ledger.ErrNoAutoJournal
	}

	type pendingLine struct {
		code   mappings.Code
		side   Side
		amount decimal.Decimal
	}
	var pending []pendingLine
	var codes []mappings.Code
	for _, line := range tmpl.Lines {
		amount := line.Amount(entry)
		if amount.IsZero() {
			continue
		}
		pending = append(pending, pendingLine{code: line.Code, side: line.Side, amount: amount})
		codes = append(codes, line.Code)
	}
	if len(pending) == 0 {
		return ledger.ErrNoAutoJournal
	}

	accounts, err := g.mappings.ResolveAll(ctx, entry.TenantID, codes)
	if err != nil {
		if errors.Is(err, mappings.ErrUnmapped) {
			g.flagSkipped(ctx, entry, err)
		}
		return err
	}

	lines := make([]journal.LineInput, 0, len(pending))
	for _, p := range pending {
		line := journal.LineInput{AccountID: accounts[p.code]}
		if p.side == SideDebit {
			line.Debit = p.amount
		} else {
			line.Credit = p.amount
		}
		lines = append(lines, line)
	}

	sourceID := entry.Ref.ID
	if sourceID == uuid.Nil {
		sourceID = uuid.New()
	}
	posting := journal.PostingInput{
		TenantID:     entry.TenantID,
		JournalDate:  entry.BusinessDate,
		Memo:         fmt.Sprintf("%s %s", tmpl.Memo, entry.Ref.Number),
		SourceModule: "LEDGER:" + string(entry.EventType),
		SourceID:     sourceID,
		PostedBy:     entry.CreatedBy,
		Lines:        lines,
	}
	header, err := g.journals.Post(ctx, posting)
	if err != nil {
		if errors.Is(err, journal.ErrSourceAlreadyLinked) {
			// Already generated for this source document; treat as done.
			return nil
		}
		return err
	}
	g.logger.Info("auto-journal posted",
		slog.Int64("journal_id", header.ID),
		slog.Int64("entry_id", entry.ID),
		slog.String("event_type", string(entry.EventType)))
	return nil
}

func (g *Generator) flagSkipped(ctx context.Context, entry ledger.Entry, cause error) {
	g.metrics.AutoJournalSkipped()
	g.logger.Warn("auto-journal skipped: unmapped account codes",
		slog.Int64("entry_id", entry.ID),
		slog.String("event_type", string(entry.EventType)),
		slog.Any("error", cause))
	if g.audit == nil {
		return
	}
	if err := g.audit.Record(ctx, shared.AuditRecord{
		TenantID: entry.TenantID,
		Entity:   "ledger_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Action:   "autojournal.skipped",
		After: map[string]any{
			"event_type": string(entry.EventType),
			"reason":     cause.Error(),
		},
		ActorID: entry.CreatedBy,
	}); err != nil {
		g.logger.Error("record skipped auto-journal", slog.Any("error", err))
	}
}
