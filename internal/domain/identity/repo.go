package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EmployeeRepository interface {
	Create(ctx context.Context, e *Employee) error
	GetByID(ctx context.Context, id uuid.UUID) (*Employee, error)
	Update(ctx context.Context, e *Employee) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Employee, int, error)
}

type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Get(ctx context.Context, employeeID, orgID uuid.UUID) (*Account, error)
	Update(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Account, int, error)
	ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*Account, error)
}

type LicenseRepository interface {
	Create(ctx context.Context, l *License) error
	GetByID(ctx context.Context, id uuid.UUID) (*License, error)
	Update(ctx context.Context, l *License) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*License, error)

	// ListDue returns ACTIVE licenses whose expiration date is at or before
	// the cutoff, for the expiry sweep.
	ListDue(ctx context.Context, cutoff time.Time) ([]*License, error)

	// OrgHasActivePractitioner reports whether any practitioner account in the
	// organization holds a usable license at the given instant.
	OrgHasActivePractitioner(ctx context.Context, orgID uuid.UUID, now time.Time) (bool, error)
}
