// Package auth resolves the authenticated actor for every request. Identity
// is issued by an external session service; this package only verifies the
// token and trusts the {employee, organization, role} triple it carries.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles an Account may carry within an Organization.
const (
	RoleStaff          = "STAFF"
	RolePractitioner   = "PRACTITIONER"
	RoleAdmin          = "ADMIN"
	RoleBillingManager = "BILLING_MANAGER"
	RoleResearcher     = "RESEARCHER"
	RoleDataAnalyst    = "DATA_ANALYST"
	RoleProjectManager = "PROJECT_MANAGER"
)

// ValidRoles enumerates every accepted account role.
var ValidRoles = map[string]bool{
	RoleStaff:          true,
	RolePractitioner:   true,
	RoleAdmin:          true,
	RoleBillingManager: true,
	RoleResearcher:     true,
	RoleDataAnalyst:    true,
	RoleProjectManager: true,
}

// Actor is the authenticated identity attached to a request: which employee,
// acting within which organization, under which role.
type Actor struct {
	EmployeeID     uuid.UUID `json:"employee_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           string    `json:"role"`
}

// SystemActor is a credited external-system identity for non-interactive
// writes (license sweep, lab bridge). CreditedTo names the system in the
// audit trail.
type SystemActor struct {
	CreditedTo string
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext retrieves the actor from context. The zero Actor is
// returned when no authentication middleware ran.
func ActorFromContext(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey).(Actor)
	return a
}
