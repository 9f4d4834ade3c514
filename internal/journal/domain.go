package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceTolerance is the largest |debit - credit| delta a committed header
// may carry, in currency units.
var BalanceTolerance = decimal.NewFromFloat(0.01)

// Header captures posting metadata for one balanced journal. Immutable after
// commit; corrections require a reversing header.
type Header struct {
	ID           int64
	TenantID     uuid.UUID
	Number       int64
	JournalDate  time.Time
	PeriodID     *int64
	Memo         string
	SourceModule string
	SourceID     uuid.UUID
	ReversalOf   *int64
	PostedBy     int64
	PostedAt     time.Time
	CreatedAt    time.Time
	Lines        []Line
}

// Line stores a debit or credit amount against an account. Exactly one of the
// two is positive.
type Line struct {
	ID        int64
	JournalID int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	CreatedAt time.Time
}

var (
	// ErrTooFewLines indicates fewer than two lines at commit.
	ErrTooFewLines = errors.New("journal: header requires at least two lines")
	// ErrUnbalanced is the sentinel matched by errors.Is against UnbalancedError.
	ErrUnbalanced = errors.New("journal: lines must balance")
	// ErrLineOneSided indicates a line with both or neither side set.
	ErrLineOneSided = errors.New("journal: line must carry exactly one of debit or credit")
	// ErrNegativeAmount indicates a negative debit or credit.
	ErrNegativeAmount = errors.New("journal: amounts must be >= 0")
	// ErrMissingAccount indicates a line without an account.
	ErrMissingAccount = errors.New("journal: line requires an account")
	// ErrSourceAlreadyLinked indicates the source document already produced a journal.
	ErrSourceAlreadyLinked = errors.New("journal: source already linked")
	// ErrJournalNotFound indicates a missing header.
	ErrJournalNotFound = errors.New("journal: header not found")
)

// UnbalancedError reports the aggregate sums of a rejected transaction.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("journal: unbalanced header: debit %s, credit %s, delta %s",
		e.Debit, e.Credit, e.Delta())
}

// Delta returns |debit - credit|.
func (e *UnbalancedError) Delta() decimal.Decimal {
	return e.Debit.Sub(e.Credit).Abs()
}

// Is lets errors.Is(err, ErrUnbalanced) match.
func (e *UnbalancedError) Is(target error) bool { return target == ErrUnbalanced }
