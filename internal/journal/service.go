package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/millbrook-erp/millbrook-erp/internal/observability"
	"github.com/millbrook-erp/millbrook-erp/internal/periods"
	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID uuid.UUID, headerID int64) (Header, error)
	List(ctx context.Context, filter ListFilter) ([]Header, error)
	CheckIntegrity(ctx context.Context, tenantID uuid.UUID) ([]int64, error)
}

// Service coordinates posting and reversing journal headers.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService constructs the journal service.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post validates shape, writes header and lines in caller order, and relies on
// the repository's pre-commit hook for the aggregate balance check. Lines may
// arrive in any order; only the committed aggregate matters.
func (s *Service) Post(ctx context.Context, input PostingInput) (Header, error) {
	if err := input.ValidateShape(); err != nil {
		return Header{}, err
	}
	var header Header
	var periodGap bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		header, periodGap, err = s.postLocked(ctx, tx, input)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnbalanced) {
			s.metrics.UnbalancedRejected()
		}
		return Header{}, err
	}
	s.metrics.JournalPosted()
	if periodGap {
		s.logger.Warn("journal posted without an owning period",
			slog.Int64("journal_id", header.ID),
			slog.Time("journal_date", header.JournalDate))
		s.metrics.PeriodGap()
	}
	return header, nil
}

// Reverse posts a new header with swapped lines referencing the original. The
// original header stays untouched.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (Header, error) {
	if input.TenantID == uuid.Nil {
		return Header{}, shared.ErrTenantRequired
	}
	if input.EntryID == 0 {
		return Header{}, ErrJournalNotFound
	}
	var reversal Header
	var periodGap bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetHeaderWithLines(ctx, input.TenantID, input.EntryID)
		if err != nil {
			return err
		}
		date := input.Date
		if date.IsZero() {
			date = original.JournalDate
		}
		posting := PostingInput{
			TenantID:     input.TenantID,
			JournalDate:  date,
			Memo:         defaultReversalMemo(input.Memo, original.Number),
			SourceModule: original.SourceModule + ":REVERSAL",
			SourceID:     uuid.New(),
			PostedBy:     input.ActorID,
			ReversalOf:   &original.ID,
			Lines:        reverseLines(original.Lines),
		}
		reversal, periodGap, err = s.postLocked(ctx, tx, posting)
		return err
	})
	if err != nil {
		return Header{}, err
	}
	s.metrics.JournalPosted()
	if periodGap {
		s.logger.Warn("reversal posted without an owning period", slog.Int64("journal_id", reversal.ID))
		s.metrics.PeriodGap()
	}
	return reversal, nil
}

// Get fetches one header with lines.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, headerID int64) (Header, error) {
	if tenantID == uuid.Nil {
		return Header{}, shared.ErrTenantRequired
	}
	return s.repo.Get(ctx, tenantID, headerID)
}

// List returns headers of the tenant.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Header, error) {
	if filter.TenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	return s.repo.List(ctx, filter)
}

// CheckIntegrity re-sums committed headers out of band and returns the ids of
// any whose delta exceeds the tolerance.
func (s *Service) CheckIntegrity(ctx context.Context, tenantID uuid.UUID) ([]int64, error) {
	ids, err := s.repo.CheckIntegrity(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.logger.Error("committed journal out of balance", slog.Int64("journal_id", id))
	}
	return ids, nil
}

func (s *Service) postLocked(ctx context.Context, tx TxRepository, input PostingInput) (Header, bool, error) {
	var periodID *int64
	periodGap := false
	period, err := tx.ResolvePeriodForDate(ctx, input.TenantID, input.JournalDate)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		periodGap = true
	case err != nil:
		return Header{}, false, err
	case period.Status == periods.StatusClosed:
		return Header{}, false, &periods.ClosedError{Code: period.Code, StartDate: period.StartDate, EndDate: period.EndDate}
	default:
		periodID = &period.ID
	}

	header, err := tx.InsertHeader(ctx, input, periodID)
	if err != nil {
		return Header{}, false, err
	}
	for _, line := range input.Lines {
		if err := tx.InsertLine(ctx, header.ID, line); err != nil {
			return Header{}, false, err
		}
	}
	if err := tx.LinkSource(ctx, input.TenantID, input.SourceModule, input.SourceID, header.ID); err != nil {
		return Header{}, false, err
	}
	if err := tx.InsertAudit(ctx, shared.AuditRecord{
		TenantID: input.TenantID,
		Entity:   "journal_header",
		EntityID: fmt.Sprintf("%d", header.ID),
		Action:   "journal.post",
		After: map[string]any{
			"number":        header.Number,
			"source_module": input.SourceModule,
			"source_id":     input.SourceID.String(),
			"lines":         len(input.Lines),
		},
		ActorID:    input.PostedBy,
		OccurredAt: s.now().UTC(),
	}); err != nil {
		return Header{}, false, err
	}
	header.Lines = toLines(header.ID, input.Lines)
	return header, periodGap, nil
}

func reverseLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
		})
	}
	return out
}

func toLines(headerID int64, lines []LineInput) []Line {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, Line{
			JournalID: headerID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
		})
	}
	return out
}

func defaultReversalMemo(memo string, number int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of journal %d", number)
}
