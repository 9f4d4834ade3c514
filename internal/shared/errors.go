package shared

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrImmutable indicates an attempt to update or delete a committed
	// ledger entry, journal header, or journal line.
	ErrImmutable = errors.New("record is immutable once committed")
	// ErrTenantRequired indicates a call without tenant context.
	ErrTenantRequired = errors.New("tenant id required")
)
