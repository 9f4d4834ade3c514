package journal

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// LineInput describes one journal line for a posting request.
type LineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// PostingInput groups fields required to post a journal. Lines are written in
// the given order; the aggregate balance is only checked at commit time, so a
// momentarily one-sided sequence is fine.
type PostingInput struct {
	TenantID     uuid.UUID
	JournalDate  time.Time
	Memo         string
	SourceModule string
	SourceID     uuid.UUID
	PostedBy     int64
	ReversalOf   *int64
	Lines        []LineInput
}

// ValidateShape checks the per-line structural rules. The aggregate rules
// (line count, balance) are deferred to the pre-commit hook.
func (in PostingInput) ValidateShape() error {
	if in.TenantID == uuid.Nil {
		return shared.ErrTenantRequired
	}
	if in.JournalDate.IsZero() {
		return errors.New("journal: date required")
	}
	if in.SourceModule == "" {
		return errors.New("journal: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("journal: source id required")
	}
	for _, line := range in.Lines {
		if err := validateLine(line); err != nil {
			return err
		}
	}
	return nil
}

func validateLine(line LineInput) error {
	if line.AccountID == 0 {
		return ErrMissingAccount
	}
	if line.Debit.IsNegative() || line.Credit.IsNegative() {
		return ErrNegativeAmount
	}
	debitSet := line.Debit.IsPositive()
	creditSet := line.Credit.IsPositive()
	if debitSet == creditSet {
		return ErrLineOneSided
	}
	return nil
}

// ReverseInput wraps parameters for posting a reversing header.
type ReverseInput struct {
	TenantID uuid.UUID
	EntryID  int64
	ActorID  int64
	Memo     string
	Date     time.Time
}

// ListFilter bounds journal listing.
type ListFilter struct {
	TenantID uuid.UUID
	From     time.Time
	To       time.Time
	Limit    int
}
