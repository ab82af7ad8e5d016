package organization

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/pkg/errs"
)

type Service struct {
	orgs      Repository
	addresses AddressRepository
	mut       *audit.Interceptor
}

func NewService(orgs Repository, addresses AddressRepository, mut *audit.Interceptor) *Service {
	return &Service{orgs: orgs, addresses: addresses, mut: mut}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, o *Organization) error {
	if strings.TrimSpace(o.Name) == "" {
		return errs.Validation("name is required")
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpCreate,
		Entity:   "Organization",
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.orgs.Create(txCtx, o); err != nil {
				return nil, err
			}
			return o, nil
		},
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	o, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("organization %s not found", id)
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Organization, int, error) {
	return s.orgs.List(ctx, limit, offset)
}

func (s *Service) Update(ctx context.Context, actor auth.Actor, o *Organization) error {
	if strings.TrimSpace(o.Name) == "" {
		return errs.Validation("name is required")
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "Organization",
		EntityID: o.ID,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.orgs.GetByID(txCtx, o.ID)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.orgs.Update(txCtx, o); err != nil {
				return nil, err
			}
			return s.orgs.GetByID(txCtx, o.ID)
		},
	})
}

// AddAddress creates a new address. When the new address is marked default,
// the prior default of the same kind is soft-deleted in the same transaction
// so the one-default-per-kind invariant never has a partially applied window.
func (s *Service) AddAddress(ctx context.Context, actor auth.Actor, a *Address) error {
	if !validAddressKinds[a.Kind] {
		return errs.Validation("invalid address kind: %s", a.Kind)
	}
	if strings.TrimSpace(a.Line1) == "" {
		return errs.Validation("line1 is required")
	}
	if a.OrganizationID == uuid.Nil {
		return errs.Validation("organization_id is required")
	}

	return s.mut.InTx(ctx, func(txCtx context.Context) error {
		if a.IsDefault {
			prior, err := s.addresses.GetDefault(txCtx, a.OrganizationID, a.Kind)
			switch {
			case err == nil:
				del := audit.Mutation{
					Op:       audit.OpDelete,
					Entity:   "Address",
					EntityID: prior.ID,
					Identity: audit.Employee(actor.EmployeeID),
					Apply: func(c context.Context) (interface{}, error) {
						return nil, s.addresses.SoftDelete(c, prior.ID)
					},
				}
				if err := s.mut.Mutate(txCtx, del); err != nil {
					return err
				}
			case db.IsNoRows(err):
				// First default of this kind.
			default:
				return err
			}
		}

		return s.mut.Mutate(txCtx, audit.Mutation{
			Op:       audit.OpCreate,
			Entity:   "Address",
			Identity: audit.Employee(actor.EmployeeID),
			Apply: func(c context.Context) (interface{}, error) {
				if err := s.addresses.Create(c, a); err != nil {
					if db.IsUniqueViolation(err, "addresses_one_default_per_kind") {
						return nil, errs.Conflict("organization already has a default %s address", a.Kind)
					}
					return nil, err
				}
				return a, nil
			},
		})
	})
}

func (s *Service) ListAddresses(ctx context.Context, orgID uuid.UUID) ([]*Address, error) {
	return s.addresses.ListByOrganization(ctx, orgID)
}

func (s *Service) RemoveAddress(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	a, err := s.addresses.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return errs.NotFound("address %s not found", id)
		}
		return err
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpDelete,
		Entity:   "Address",
		EntityID: a.ID,
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			return nil, s.addresses.SoftDelete(txCtx, a.ID)
		},
	})
}
