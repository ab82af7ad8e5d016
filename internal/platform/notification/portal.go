package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/resonantbio/portal/internal/domain/identity"
	"github.com/resonantbio/portal/internal/domain/order"
	"github.com/resonantbio/portal/internal/domain/organization"
)

// OrganizationLookup resolves billing recipients for order events.
type OrganizationLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*organization.Organization, error)
}

// EmployeeLookup resolves the holder of an expiring license.
type EmployeeLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Employee, error)
}

// PortalNotifier adapts the Manager to the workflow notifier interfaces.
// It satisfies both order.Notifier and identity.Notifier.
type PortalNotifier struct {
	manager   *Manager
	orgs      OrganizationLookup
	employees EmployeeLookup
}

func NewPortalNotifier(manager *Manager, orgs OrganizationLookup, employees EmployeeLookup) *PortalNotifier {
	return &PortalNotifier{manager: manager, orgs: orgs, employees: employees}
}

func (p *PortalNotifier) OrderFinalized(ctx context.Context, o *order.Order) error {
	org, err := p.orgs.GetByID(ctx, o.OrganizationID)
	if err != nil {
		return err
	}
	p.manager.SendTemplate(ctx, org.BillingEmails, "order-finalized", map[string]string{
		"order_id": o.OrderID,
		"total":    fmt.Sprintf("%d.%02d", o.Total/100, o.Total%100),
	})
	return nil
}

func (p *PortalNotifier) ResultsReady(ctx context.Context, o *order.Order) error {
	org, err := p.orgs.GetByID(ctx, o.OrganizationID)
	if err != nil {
		return err
	}
	p.manager.SendTemplate(ctx, org.BillingEmails, "results-ready", map[string]string{
		"order_id": o.OrderID,
	})
	return nil
}

func (p *PortalNotifier) LicenseExpired(ctx context.Context, l *identity.License) error {
	e, err := p.employees.GetByID(ctx, l.EmployeeID)
	if err != nil {
		return err
	}
	p.manager.SendTemplate(ctx, []string{e.Email}, "license-expired", map[string]string{
		"number":          l.Number,
		"expiration_date": l.ExpirationDate.Format("2006-01-02"),
	})
	return nil
}
