package mappings

import (
	"context"

	"github.com/google/uuid"

	"github.com/millbrook-erp/millbrook-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Get(ctx context.Context, tenantID uuid.UUID, code Code) (AccountMapping, error)
	GetAll(ctx context.Context, tenantID uuid.UUID) (map[Code]AccountMapping, error)
	Upsert(ctx context.Context, m AccountMapping, actorID int64) error
	Delete(ctx context.Context, tenantID uuid.UUID, code Code, actorID int64) error
}

// Service is the tenant-scoped registry from logical function codes to
// concrete accounts.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Resolve returns the account bound to one code. A missing binding is a
// configuration error carrying the code.
func (s *Service) Resolve(ctx context.Context, tenantID uuid.UUID, code Code) (AccountMapping, error) {
	if tenantID == uuid.Nil {
		return AccountMapping{}, shared.ErrTenantRequired
	}
	if !code.Valid() {
		return AccountMapping{}, ErrUnknownCode
	}
	m, err := s.repo.Get(ctx, tenantID, code)
	if err != nil {
		if err == shared.ErrNotFound {
			return AccountMapping{}, &ConfigurationError{Codes: []Code{code}}
		}
		return AccountMapping{}, err
	}
	return m, nil
}

// ResolveAll resolves every requested code, collecting all missing bindings
// into a single configuration error so the operator sees the full gap at once.
func (s *Service) ResolveAll(ctx context.Context, tenantID uuid.UUID, codes []Code) (map[Code]int64, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	for _, code := range codes {
		if !code.Valid() {
			return nil, ErrUnknownCode
		}
	}
	all, err := s.repo.GetAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[Code]int64, len(codes))
	var missing []Code
	for _, code := range codes {
		m, ok := all[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		resolved[code] = m.AccountID
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Codes: missing}
	}
	return resolved, nil
}

// Bind writes or replaces a binding for the tenant.
func (s *Service) Bind(ctx context.Context, tenantID uuid.UUID, code Code, accountID, actorID int64) error {
	if tenantID == uuid.Nil {
		return shared.ErrTenantRequired
	}
	if !code.Valid() {
		return ErrUnknownCode
	}
	return s.repo.Upsert(ctx, AccountMapping{TenantID: tenantID, Code: code, AccountID: accountID}, actorID)
}

// Unbind removes a binding.
func (s *Service) Unbind(ctx context.Context, tenantID uuid.UUID, code Code, actorID int64) error {
	if tenantID == uuid.Nil {
		return shared.ErrTenantRequired
	}
	if !code.Valid() {
		return ErrUnknownCode
	}
	return s.repo.Delete(ctx, tenantID, code, actorID)
}

// List returns every binding of the tenant.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) (map[Code]AccountMapping, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	return s.repo.GetAll(ctx, tenantID)
}
