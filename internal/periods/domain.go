package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates valid period states.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period represents a bounded date range gating whether postings dated inside
// it are accepted. Bounds are inclusive on both ends.
type Period struct {
	ID         int64
	TenantID   uuid.UUID
	Code       string
	StartDate  time.Time
	EndDate    time.Time
	Status     Status
	ClosedBy   *int64
	ClosedAt   *time.Time
	ReopenedBy *int64
	ReopenedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contains reports whether date falls inside the period, inclusive bounds.
func (p Period) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate.Truncate(24*time.Hour)) && !d.After(p.EndDate.Truncate(24*time.Hour))
}

// Overlaps reports whether two inclusive date ranges intersect.
func (p Period) Overlaps(other Period) bool {
	return !p.StartDate.After(other.EndDate) && !other.StartDate.After(p.EndDate)
}

var (
	// ErrPeriodUndefined indicates no period covers the business date. Callers
	// treat this as a non-fatal warning: the write proceeds but is flagged.
	ErrPeriodUndefined = errors.New("periods: no period covers the date")
	// ErrPeriodClosed is the sentinel matched by errors.Is against ClosedError.
	ErrPeriodClosed = errors.New("periods: period is closed")
	// ErrOverlap is the sentinel matched by errors.Is against OverlapError.
	ErrOverlap = errors.New("periods: date range overlaps an existing period")
	// ErrInvalidTransition indicates a status change outside Open<->Closed.
	ErrInvalidTransition = errors.New("periods: invalid status transition")
	// ErrInvalidRange indicates start date after end date.
	ErrInvalidRange = errors.New("periods: start date must not be after end date")
	// ErrClosedDatesFrozen indicates an attempt to edit a closed period's dates.
	ErrClosedDatesFrozen = errors.New("periods: dates of a closed period cannot change")
)

// ClosedError reports the blocking period for a rejected write.
type ClosedError struct {
	Code      string
	StartDate time.Time
	EndDate   time.Time
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("periods: period %s (%s..%s) is closed",
		e.Code, e.StartDate.Format("2006-01-02"), e.EndDate.Format("2006-01-02"))
}

// Is lets errors.Is(err, ErrPeriodClosed) match.
func (e *ClosedError) Is(target error) bool { return target == ErrPeriodClosed }

// OverlapError reports which existing period collides with a create or edit.
type OverlapError struct {
	Code          string
	ConflictsWith string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("periods: period %s overlaps existing period %s", e.Code, e.ConflictsWith)
}

// Is lets errors.Is(err, ErrOverlap) match.
func (e *OverlapError) Is(target error) bool { return target == ErrOverlap }

// CreateInput groups fields required to define a period.
type CreateInput struct {
	TenantID  uuid.UUID
	Code      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// UpdateDatesInput re-bounds an open period.
type UpdateDatesInput struct {
	TenantID  uuid.UUID
	PeriodID  int64
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}
