package order

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Order statuses. ASSIGNED is the finalized state: price locked, specimens
// assigned, requisition pending approval.
const (
	StatusDraft          = "DRAFT"
	StatusAssigned       = "ASSIGNED"
	StatusSubmittedToLab = "SUBMITTED_TO_LAB"
	StatusResultReceived = "RESULT_RECEIVED"
	StatusCanceled       = "CANCELED"
)

// Requisition form statuses.
const (
	ReqFormNone            = "NONE"
	ReqFormUploaded        = "UPLOADED"
	ReqFormPendingApproval = "PENDING_APPROVAL"
)

// Specimen statuses.
const (
	SpecimenPending   = "PENDING"
	SpecimenAssigned  = "ASSIGNED"
	SpecimenCompleted = "COMPLETED"
)

// Price adjustment types. Amounts are stored signed; the type tag is
// descriptive and does not flip the sign.
const (
	AdjustmentDiscount  = "DISCOUNT"
	AdjustmentSurcharge = "SURCHARGE"
)

var validAdjustmentTypes = map[string]bool{
	AdjustmentDiscount:  true,
	AdjustmentSurcharge: true,
}

// ServiceType is a catalog entry. Price is integer cents.
type ServiceType struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Code         string    `db:"code" json:"code"`
	Price        int64     `db:"price" json:"price"`
	SpecimenKind string    `db:"specimen_kind" json:"specimen_kind"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Order struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	OrderID        string     `db:"order_id" json:"order_id"`
	Status         string     `db:"status" json:"status"`
	ReqFormStatus  string     `db:"req_form_status" json:"req_form_status"`
	ReqFormKey     string     `db:"req_form_key" json:"req_form_key,omitempty"`
	SubmittedToLab bool       `db:"submitted_to_lab" json:"submitted_to_lab"`
	LabOrderID     string     `db:"lab_order_id" json:"lab_order_id,omitempty"`
	Price          int64      `db:"price" json:"price"`
	Total          int64      `db:"total" json:"total"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

type PriceAdjustment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	OrderID        uuid.UUID `db:"order_id" json:"order_id"`
	AdjustmentType string    `db:"adjustment_type" json:"adjustment_type"`
	Amount         int64     `db:"amount" json:"amount"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type ServiceRequest struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	OrderID        uuid.UUID       `db:"order_id" json:"order_id"`
	ServiceTypeID  uuid.UUID       `db:"service_type_id" json:"service_type_id"`
	PatientID      *uuid.UUID      `db:"patient_id" json:"patient_id,omitempty"`
	PractitionerID *uuid.UUID      `db:"practitioner_id" json:"practitioner_id,omitempty"`
	Questionnaire  json.RawMessage `db:"questionnaire" json:"questionnaire,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

type Specimen struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	ServiceRequestID uuid.UUID  `db:"service_request_id" json:"service_request_id"`
	KitID            string     `db:"kit_id" json:"kit_id"`
	Status           string     `db:"status" json:"status"`
	ResultKey        string     `db:"result_key" json:"result_key,omitempty"`
	CollectedAt      *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Stage names the composite workflow position of a service request. The
// order row stores the coarse status; the finer-grained pre-finalization
// stages are derived from what has been assigned so far.
func Stage(o *Order, sr *ServiceRequest, hasSpecimen bool) string {
	switch o.Status {
	case StatusCanceled:
		return "CANCELED"
	case StatusResultReceived:
		return "RESULT_RECEIVED"
	case StatusSubmittedToLab:
		return "SUBMITTED_TO_LAB"
	case StatusAssigned:
		return "FINALIZED"
	}
	if o.ReqFormStatus == ReqFormUploaded {
		return "REQUISITION_UPLOADED"
	}
	if sr.PractitionerID != nil {
		return "PRACTITIONER_ASSIGNED"
	}
	if sr.PatientID != nil {
		return "PATIENT_ASSIGNED"
	}
	if hasSpecimen {
		return "KIT_ASSIGNED"
	}
	return "DRAFT"
}
