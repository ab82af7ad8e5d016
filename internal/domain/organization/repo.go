package organization

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	Update(ctx context.Context, o *Organization) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Organization, int, error)
}

type AddressRepository interface {
	Create(ctx context.Context, a *Address) error
	GetByID(ctx context.Context, id uuid.UUID) (*Address, error)
	// GetDefault returns the non-deleted default address of the given kind,
	// or pgx.ErrNoRows when none exists.
	GetDefault(ctx context.Context, orgID uuid.UUID, kind string) (*Address, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Address, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}
