package identity

import (
	"time"

	"github.com/google/uuid"
)

// License statuses. A license is born PENDING_APPROVAL, becomes ACTIVE or
// REJECTED on review, and EXPIRED when the sweep passes its expiration date.
// Superseding never mutates in place: the old row is soft-deleted and a new
// one created, keeping license history append-only.
const (
	LicensePendingApproval = "PENDING_APPROVAL"
	LicenseActive          = "ACTIVE"
	LicenseRejected        = "REJECTED"
	LicenseExpired         = "EXPIRED"
)

// Employee is a person; org membership is carried by Accounts, so one
// employee may work across several organizations.
type Employee struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	FirstName string     `db:"first_name" json:"first_name"`
	LastName  string     `db:"last_name" json:"last_name"`
	Email     string     `db:"email" json:"email"`
	Phone     string     `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Account is the employee-organization membership with a role. At most one
// account per (employee, organization) pair.
type Account struct {
	ID             uuid.UUID `db:"id" json:"id"`
	EmployeeID     uuid.UUID `db:"employee_id" json:"employee_id"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	Role           string    `db:"role" json:"role"`
	AccountOwner   bool      `db:"account_owner" json:"account_owner"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// License is a practitioner credential. Number is unique among non-deleted
// rows.
type License struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	EmployeeID     uuid.UUID  `db:"employee_id" json:"employee_id"`
	Number         string     `db:"number" json:"number"`
	State          string     `db:"state" json:"state"`
	EffectiveDate  time.Time  `db:"effective_date" json:"effective_date"`
	ExpirationDate time.Time  `db:"expiration_date" json:"expiration_date"`
	Status         string     `db:"status" json:"status"`
	DocumentKey    string     `db:"document_key" json:"document_key,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Usable reports whether the license credentials its holder at the given
// instant: approved, not deleted, and not past expiration.
func (l *License) Usable(now time.Time) bool {
	return l.Status == LicenseActive && l.ExpirationDate.After(now) && l.DeletedAt == nil
}
