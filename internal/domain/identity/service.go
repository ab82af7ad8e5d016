package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/pkg/errs"
)

// Notifier receives credentialing events. Delivery failures are logged, never
// surfaced to the caller.
type Notifier interface {
	LicenseExpired(ctx context.Context, l *License) error
}

type Service struct {
	employees EmployeeRepository
	accounts  AccountRepository
	licenses  LicenseRepository
	mut       *audit.Interceptor
	notifier  Notifier
	now       func() time.Time
}

func NewService(employees EmployeeRepository, accounts AccountRepository, licenses LicenseRepository, mut *audit.Interceptor, notifier Notifier) *Service {
	return &Service{
		employees: employees,
		accounts:  accounts,
		licenses:  licenses,
		mut:       mut,
		notifier:  notifier,
		now:       time.Now,
	}
}

// =========== Employees ===========

func (s *Service) CreateEmployee(ctx context.Context, actor auth.Actor, e *Employee) error {
	if strings.TrimSpace(e.FirstName) == "" || strings.TrimSpace(e.LastName) == "" {
		return errs.Validation("first_name and last_name are required")
	}
	if strings.TrimSpace(e.Email) == "" {
		return errs.Validation("email is required")
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpCreate,
		Entity:   "Employee",
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.employees.Create(txCtx, e); err != nil {
				return nil, err
			}
			return e, nil
		},
	})
}

func (s *Service) GetEmployee(ctx context.Context, id uuid.UUID) (*Employee, error) {
	e, err := s.employees.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("employee %s not found", id)
		}
		return nil, err
	}
	return e, nil
}

func (s *Service) ListEmployees(ctx context.Context, limit, offset int) ([]*Employee, int, error) {
	return s.employees.List(ctx, limit, offset)
}

func (s *Service) UpdateEmployee(ctx context.Context, actor auth.Actor, e *Employee) error {
	if strings.TrimSpace(e.FirstName) == "" || strings.TrimSpace(e.LastName) == "" {
		return errs.Validation("first_name and last_name are required")
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "Employee",
		EntityID: e.ID,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.employees.GetByID(txCtx, e.ID)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.employees.Update(txCtx, e); err != nil {
				return nil, err
			}
			return s.employees.GetByID(txCtx, e.ID)
		},
	})
}

// =========== Accounts ===========

func (s *Service) CreateAccount(ctx context.Context, actor auth.Actor, a *Account) error {
	if !auth.ValidRoles[a.Role] {
		return errs.Validation("invalid role: %s", a.Role)
	}
	if a.EmployeeID == uuid.Nil || a.OrganizationID == uuid.Nil {
		return errs.Validation("employee_id and organization_id are required")
	}
	if _, err := s.employees.GetByID(ctx, a.EmployeeID); err != nil {
		if db.IsNoRows(err) {
			return errs.NotFound("employee %s not found", a.EmployeeID)
		}
		return err
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpCreate,
		Entity:   "Account",
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.accounts.Create(txCtx, a); err != nil {
				if db.IsUniqueViolation(err, "accounts_employee_org_key") {
					return nil, errs.Conflict("employee already has an account in this organization")
				}
				return nil, err
			}
			return a, nil
		},
	})
}

func (s *Service) UpdateAccount(ctx context.Context, actor auth.Actor, a *Account) error {
	if !auth.ValidRoles[a.Role] {
		return errs.Validation("invalid role: %s", a.Role)
	}
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "Account",
		EntityID: a.ID,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.accounts.GetByID(txCtx, a.ID)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.accounts.Update(txCtx, a); err != nil {
				return nil, err
			}
			return s.accounts.GetByID(txCtx, a.ID)
		},
	})
}

func (s *Service) DeleteAccount(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpDelete,
		Entity:   "Account",
		EntityID: id,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.accounts.GetByID(txCtx, id)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			return nil, s.accounts.Delete(txCtx, id)
		},
	})
}

func (s *Service) ListAccounts(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Account, int, error) {
	return s.accounts.ListByOrganization(ctx, orgID, limit, offset)
}

// =========== Licenses ===========

func (s *Service) CreateLicense(ctx context.Context, actor auth.Actor, l *License) error {
	if strings.TrimSpace(l.Number) == "" {
		return errs.Validation("number is required")
	}
	if l.EmployeeID == uuid.Nil {
		return errs.Validation("employee_id is required")
	}
	if !l.ExpirationDate.After(l.EffectiveDate) {
		return errs.Validation("expiration_date must be after effective_date")
	}
	l.Status = LicensePendingApproval
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpCreate,
		Entity:   "License",
		Identity: audit.Employee(actor.EmployeeID),
		Apply: func(txCtx context.Context) (interface{}, error) {
			if err := s.licenses.Create(txCtx, l); err != nil {
				if db.IsUniqueViolation(err, "licenses_number_key") {
					return nil, errs.Conflict("license number %s already registered", l.Number)
				}
				return nil, err
			}
			return l, nil
		},
	})
}

func (s *Service) GetLicense(ctx context.Context, id uuid.UUID) (*License, error) {
	l, err := s.licenses.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("license %s not found", id)
		}
		return nil, err
	}
	return l, nil
}

func (s *Service) ListLicenses(ctx context.Context, employeeID uuid.UUID) ([]*License, error) {
	return s.licenses.ListByEmployee(ctx, employeeID)
}

// ApproveLicense moves a PENDING_APPROVAL license to ACTIVE.
func (s *Service) ApproveLicense(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	return s.reviewLicense(ctx, actor, id, LicenseActive)
}

// RejectLicense moves a PENDING_APPROVAL license to REJECTED.
func (s *Service) RejectLicense(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	return s.reviewLicense(ctx, actor, id, LicenseRejected)
}

func (s *Service) reviewLicense(ctx context.Context, actor auth.Actor, id uuid.UUID, verdict string) error {
	return s.mut.Mutate(ctx, audit.Mutation{
		Op:       audit.OpUpdate,
		Entity:   "License",
		EntityID: id,
		Identity: audit.Employee(actor.EmployeeID),
		Load: func(txCtx context.Context) (interface{}, error) {
			return s.licenses.GetByID(txCtx, id)
		},
		Apply: func(txCtx context.Context) (interface{}, error) {
			l, err := s.licenses.GetByID(txCtx, id)
			if err != nil {
				return nil, err
			}
			if l.Status != LicensePendingApproval {
				return nil, errs.Conflict("license %s is %s, not pending approval", id, l.Status)
			}
			l.Status = verdict
			if err := s.licenses.Update(txCtx, l); err != nil {
				return nil, err
			}
			return l, nil
		},
	})
}

// SupersedeLicense replaces a license with a renewed one. The old row is
// soft-deleted and the replacement created in a single transaction so the
// holder is never observed with neither.
func (s *Service) SupersedeLicense(ctx context.Context, actor auth.Actor, oldID uuid.UUID, replacement *License) error {
	if strings.TrimSpace(replacement.Number) == "" {
		return errs.Validation("number is required")
	}
	if !replacement.ExpirationDate.After(replacement.EffectiveDate) {
		return errs.Validation("expiration_date must be after effective_date")
	}

	return s.mut.InTx(ctx, func(txCtx context.Context) error {
		old, err := s.licenses.GetByID(txCtx, oldID)
		if err != nil {
			if db.IsNoRows(err) {
				return errs.NotFound("license %s not found", oldID)
			}
			return err
		}
		replacement.EmployeeID = old.EmployeeID
		replacement.Status = LicensePendingApproval

		del := audit.Mutation{
			Op:       audit.OpDelete,
			Entity:   "License",
			EntityID: old.ID,
			Identity: audit.Employee(actor.EmployeeID),
			Apply: func(c context.Context) (interface{}, error) {
				return nil, s.licenses.SoftDelete(c, old.ID)
			},
		}
		if err := s.mut.Mutate(txCtx, del); err != nil {
			return err
		}

		return s.mut.Mutate(txCtx, audit.Mutation{
			Op:       audit.OpCreate,
			Entity:   "License",
			Identity: audit.Employee(actor.EmployeeID),
			Apply: func(c context.Context) (interface{}, error) {
				if err := s.licenses.Create(c, replacement); err != nil {
					if db.IsUniqueViolation(err, "licenses_number_key") {
						return nil, errs.Conflict("license number %s already registered", replacement.Number)
					}
					return nil, err
				}
				return replacement, nil
			},
		})
	})
}

// =========== Credential gate ===========

// IsLocked reports whether ordering is blocked for the organization. An org
// is locked when no practitioner account holder has a usable license.
func (s *Service) IsLocked(ctx context.Context, orgID uuid.UUID) (bool, error) {
	ok, err := s.licenses.OrgHasActivePractitioner(ctx, orgID, s.now())
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// ExpireDueLicenses marks every ACTIVE license past its expiration date as
// EXPIRED. Each transition is audited and credited to the sweep, not to a
// person. Returns the number of licenses expired.
func (s *Service) ExpireDueLicenses(ctx context.Context) (int, error) {
	due, err := s.licenses.ListDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, l := range due {
		l := l
		err := s.mut.Mutate(ctx, audit.Mutation{
			Op:       audit.OpUpdate,
			Entity:   "License",
			EntityID: l.ID,
			Identity: audit.System("license-sweep"),
			Load: func(txCtx context.Context) (interface{}, error) {
				return s.licenses.GetByID(txCtx, l.ID)
			},
			Apply: func(txCtx context.Context) (interface{}, error) {
				l.Status = LicenseExpired
				if err := s.licenses.Update(txCtx, l); err != nil {
					return nil, err
				}
				return l, nil
			},
		})
		if err != nil {
			log.Error().Err(err).Str("license_id", l.ID.String()).Msg("license sweep: expire failed")
			continue
		}
		expired++
		if s.notifier != nil {
			if err := s.notifier.LicenseExpired(ctx, l); err != nil {
				log.Warn().Err(err).Str("license_id", l.ID.String()).Msg("license sweep: notification failed")
			}
		}
	}
	return expired, nil
}
