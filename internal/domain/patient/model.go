package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is always scoped to the organization that registered them.
type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	DOB            time.Time  `db:"dob" json:"dob"`
	Sex            string     `db:"sex" json:"sex,omitempty"`
	Email          string     `db:"email" json:"email,omitempty"`
	Phone          string     `db:"phone" json:"phone,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
