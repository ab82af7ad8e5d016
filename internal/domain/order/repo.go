package order

import (
	"context"

	"github.com/google/uuid"
)

type ServiceTypeRepository interface {
	Create(ctx context.Context, st *ServiceType) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceType, error)
	List(ctx context.Context) ([]*ServiceType, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByOrderID(ctx context.Context, orderID string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Order, int, error)

	// ListReadyForLab returns finalized orders that have not yet been
	// handed to the lab bridge.
	ListReadyForLab(ctx context.Context) ([]*Order, error)
}

type ServiceRequestRepository interface {
	Create(ctx context.Context, sr *ServiceRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	Update(ctx context.Context, sr *ServiceRequest) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*ServiceRequest, error)
}

type SpecimenRepository interface {
	Create(ctx context.Context, s *Specimen) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specimen, error)

	// GetByServiceRequest returns the current non-deleted specimen for the
	// service request, pgx.ErrNoRows when none.
	GetByServiceRequest(ctx context.Context, srID uuid.UUID) (*Specimen, error)
	GetByKitID(ctx context.Context, kitID string) (*Specimen, error)
	Update(ctx context.Context, s *Specimen) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Specimen, error)
}

type AdjustmentRepository interface {
	Create(ctx context.Context, a *PriceAdjustment) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*PriceAdjustment, error)
}
