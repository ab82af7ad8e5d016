package organization

import (
	"time"

	"github.com/google/uuid"
)

// Address kinds.
const (
	AddressShipping = "SHIPPING"
	AddressBilling  = "BILLING"
)

var validAddressKinds = map[string]bool{
	AddressShipping: true,
	AddressBilling:  true,
}

// Organization is the tenancy root: orders, patients, and addresses all hang
// off one organization.
type Organization struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	BillingEmails []string   `db:"billing_emails" json:"billing_emails"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Address is a shipping or billing address. At most one non-deleted address
// per kind may be the default; replacing the default soft-deletes the old row
// and inserts a new one so history stays append-only.
type Address struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	Kind           string     `db:"kind" json:"kind"`
	Line1          string     `db:"line1" json:"line1"`
	Line2          string     `db:"line2" json:"line2,omitempty"`
	City           string     `db:"city" json:"city"`
	State          string     `db:"state" json:"state"`
	PostalCode     string     `db:"postal_code" json:"postal_code"`
	IsDefault      bool       `db:"is_default" json:"is_default"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
