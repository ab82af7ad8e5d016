package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/pkg/errs"
)

type Service struct {
	patients Repository
	mut      *audit.Interceptor
}

func NewService(patients Repository, mut *audit.Interceptor) *Service {
	return &Service{patients: patients, mut: mut}
}

func validatePatient(p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return errs.Validation("first_name and last_name are required")
	}
	if p.DOB.IsZero() || p.DOB.After(time.Now()) {
		return errs.Validation("dob must be a past date")
	}
	if p.OrganizationID == uuid.Nil {
		return errs.Validation("organization_id is required")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpCreate,
		Entity:   "Patient",
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.patients.Create(txCtx, p); err != nil {
				return nil, err
			}
			return p, nil
		},
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("patient %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByOrganization(ctx, orgID, limit, offset)
}

func (s *Service) Update(ctx context.Context, actor auth.Actor, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "Patient",
		EntityID: p.ID,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.patients.GetByID(txCtx, p.ID)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.patients.Update(txCtx, p); err != nil {
				return nil, err
			}
			return s.patients.GetByID(txCtx, p.ID)
		},
	})
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpDelete,
		Entity:   "Patient",
		EntityID: id,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.patients.GetByID(txCtx, id)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			return nil, s.patients.SoftDelete(txCtx, id)
		},
	})
}
