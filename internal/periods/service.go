package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindByDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error)
	Get(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]Period, error)
}

// Service coordinates period administration and date gating.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create defines a new open period after validating the range against every
// other period of the tenant. Any inclusive intersection is rejected.
func (s *Service) Create(ctx context.Context, input CreateInput) (Period, error) {
	if input.TenantID == uuid.Nil {
		return Period{}, shared.ErrTenantRequired
	}
	if input.Code == "" {
		return Period{}, errors.New("periods: code required")
	}
	if input.StartDate.After(input.EndDate) {
		return Period{}, ErrInvalidRange
	}
	candidate := Period{
		TenantID:  input.TenantID,
		Code:      input.Code,
		StartDate: input.StartDate,
		EndDate:   input.EndDate,
		Status:    StatusOpen,
	}
	var created Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListForUpdate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if candidate.Overlaps(other) {
				return &OverlapError{Code: input.Code, ConflictsWith: other.Code}
			}
		}
		created, err = tx.Insert(ctx, candidate)
		if err != nil {
			return err
		}
		return tx.InsertAudit(ctx, shared.AuditRecord{
			TenantID: input.TenantID,
			Entity:   "accounting_period",
			EntityID: fmt.Sprintf("%d", created.ID),
			Action:   "period.create",
			After:    periodSnapshot(created),
			ActorID:  input.ActorID,
		})
	})
	if err != nil {
		return Period{}, err
	}
	return created, nil
}

// UpdateDates re-bounds an open period, re-running overlap validation. A closed
// period's dates are frozen.
func (s *Service) UpdateDates(ctx context.Context, input UpdateDatesInput) (Period, error) {
	if input.StartDate.After(input.EndDate) {
		return Period{}, ErrInvalidRange
	}
	var updated Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, input.TenantID, input.PeriodID)
		if err != nil {
			return err
		}
		if current.Status == StatusClosed {
			return ErrClosedDatesFrozen
		}
		candidate := current
		candidate.StartDate = input.StartDate
		candidate.EndDate = input.EndDate
		existing, err := tx.ListForUpdate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.ID == current.ID {
				continue
			}
			if candidate.Overlaps(other) {
				return &OverlapError{Code: current.Code, ConflictsWith: other.Code}
			}
		}
		if err := tx.UpdateDates(ctx, input.TenantID, input.PeriodID, input.StartDate, input.EndDate); err != nil {
			return err
		}
		updated = candidate
		return tx.InsertAudit(ctx, shared.AuditRecord{
			TenantID: input.TenantID,
			Entity:   "accounting_period",
			EntityID: fmt.Sprintf("%d", current.ID),
			Action:   "period.update_dates",
			Before:   periodSnapshot(current),
			After:    periodSnapshot(candidate),
			ActorID:  input.ActorID,
		})
	})
	if err != nil {
		return Period{}, err
	}
	return updated, nil
}

// Close transitions the period Open -> Closed, stamping the closing actor.
func (s *Service) Close(ctx context.Context, tenantID uuid.UUID, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, tenantID, periodID, actorID, StatusClosed)
}

// Reopen transitions the period Closed -> Open, stamping the reopening actor.
func (s *Service) Reopen(ctx context.Context, tenantID uuid.UUID, periodID, actorID int64) (Period, error) {
	return s.transition(ctx, tenantID, periodID, actorID, StatusOpen)
}

func (s *Service) transition(ctx context.Context, tenantID uuid.UUID, periodID, actorID int64, target Status) (Period, error) {
	var updated Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, tenantID, periodID)
		if err != nil {
			return err
		}
		next := current
		now := s.now().UTC()
		switch {
		case current.Status == StatusOpen && target == StatusClosed:
			next.Status = StatusClosed
			next.ClosedBy = &actorID
			next.ClosedAt = &now
		case current.Status == StatusClosed && target == StatusOpen:
			next.Status = StatusOpen
			next.ReopenedBy = &actorID
			next.ReopenedAt = &now
		default:
			return ErrInvalidTransition
		}
		if err := tx.UpdateStatus(ctx, next); err != nil {
			return err
		}
		updated = next
		return tx.InsertAudit(ctx, shared.AuditRecord{
			TenantID: tenantID,
			Entity:   "accounting_period",
			EntityID: fmt.Sprintf("%d", current.ID),
			Action:   "period." + actionFor(target),
			Before:   periodSnapshot(current),
			After:    periodSnapshot(next),
			ActorID:  actorID,
		})
	})
	if err != nil {
		return Period{}, err
	}
	return updated, nil
}

// ResolveForDate returns the period owning the date. A missing period yields
// ErrPeriodUndefined; a closed one yields a ClosedError naming it.
func (s *Service) ResolveForDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (Period, error) {
	period, err := s.repo.FindByDate(ctx, tenantID, date)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Period{}, ErrPeriodUndefined
		}
		return Period{}, err
	}
	if period.Status == StatusClosed {
		return period, &ClosedError{Code: period.Code, StartDate: period.StartDate, EndDate: period.EndDate}
	}
	return period, nil
}

// Get fetches a single period.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, id int64) (Period, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns all periods of the tenant.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]Period, error) {
	return s.repo.List(ctx, tenantID)
}

func actionFor(target Status) string {
	if target == StatusClosed {
		return "close"
	}
	return "reopen"
}

func periodSnapshot(p Period) map[string]any {
	snap := map[string]any{
		"code":       p.Code,
		"start_date": p.StartDate.Format("2006-01-02"),
		"end_date":   p.EndDate.Format("2006-01-02"),
		"status":     string(p.Status),
	}
	if p.ClosedBy != nil {
		snap["closed_by"] = *p.ClosedBy
	}
	if p.ReopenedBy != nil {
		snap["reopened_by"] = *p.ReopenedBy
	}
	return snap
}
