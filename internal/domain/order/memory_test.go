package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/resonantbio/portal/internal/domain/identity"
	"github.com/resonantbio/portal/internal/domain/patient"
)

// In-memory repositories backing the workflow tests. The specimen store
// surfaces duplicate kit ids as the same pgconn error the partial unique
// index would raise, so the constraint-mapping path is exercised.

type memServiceTypeRepo struct {
	items map[uuid.UUID]*ServiceType
}

func newMemServiceTypeRepo() *memServiceTypeRepo {
	return &memServiceTypeRepo{items: map[uuid.UUID]*ServiceType{}}
}

func (r *memServiceTypeRepo) Create(_ context.Context, st *ServiceType) error {
	st.ID = uuid.New()
	cp := *st
	r.items[st.ID] = &cp
	return nil
}

func (r *memServiceTypeRepo) GetByID(_ context.Context, id uuid.UUID) (*ServiceType, error) {
	st, ok := r.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *st
	return &cp, nil
}

func (r *memServiceTypeRepo) List(_ context.Context) ([]*ServiceType, error) {
	var out []*ServiceType
	for _, st := range r.items {
		out = append(out, st)
	}
	return out, nil
}

type memOrderRepo struct {
	items map[uuid.UUID]*Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{items: map[uuid.UUID]*Order{}}
}

func (r *memOrderRepo) Create(_ context.Context, o *Order) error {
	o.ID = uuid.New()
	cp := *o
	r.items[o.ID] = &cp
	return nil
}

func (r *memOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := r.items[id]
	if !ok || o.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) GetByOrderID(_ context.Context, orderID string) (*Order, error) {
	for _, o := range r.items {
		if o.OrderID == orderID && o.DeletedAt == nil {
			cp := *o
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memOrderRepo) Update(_ context.Context, o *Order) error {
	cp := *o
	r.items[o.ID] = &cp
	return nil
}

func (r *memOrderRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if o, ok := r.items[id]; ok {
		now := time.Now()
		o.DeletedAt = &now
	}
	return nil
}

func (r *memOrderRepo) ListByOrganization(_ context.Context, orgID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	var out []*Order
	for _, o := range r.items {
		if o.OrganizationID == orgID && o.DeletedAt == nil {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

func (r *memOrderRepo) ListReadyForLab(_ context.Context) ([]*Order, error) {
	var out []*Order
	for _, o := range r.items {
		if o.Status == StatusAssigned && !o.SubmittedToLab && o.DeletedAt == nil {
			out = append(out, o)
		}
	}
	return out, nil
}

type memServiceRequestRepo struct {
	items map[uuid.UUID]*ServiceRequest
}

func newMemServiceRequestRepo() *memServiceRequestRepo {
	return &memServiceRequestRepo{items: map[uuid.UUID]*ServiceRequest{}}
}

func (r *memServiceRequestRepo) Create(_ context.Context, sr *ServiceRequest) error {
	sr.ID = uuid.New()
	cp := *sr
	r.items[sr.ID] = &cp
	return nil
}

func (r *memServiceRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*ServiceRequest, error) {
	sr, ok := r.items[id]
	if !ok || sr.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	cp := *sr
	return &cp, nil
}

func (r *memServiceRequestRepo) Update(_ context.Context, sr *ServiceRequest) error {
	cp := *sr
	r.items[sr.ID] = &cp
	return nil
}

func (r *memServiceRequestRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*ServiceRequest, error) {
	var out []*ServiceRequest
	for _, sr := range r.items {
		if sr.OrderID == orderID && sr.DeletedAt == nil {
			out = append(out, sr)
		}
	}
	return out, nil
}

type memSpecimenRepo struct {
	items    map[uuid.UUID]*Specimen
	requests *memServiceRequestRepo
}

func newMemSpecimenRepo(requests *memServiceRequestRepo) *memSpecimenRepo {
	return &memSpecimenRepo{items: map[uuid.UUID]*Specimen{}, requests: requests}
}

func kitUniqueViolation() error {
	return &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "specimens_kit_id_key",
	}
}

func (r *memSpecimenRepo) Create(_ context.Context, s *Specimen) error {
	for _, existing := range r.items {
		if existing.KitID == s.KitID && existing.DeletedAt == nil {
			return kitUniqueViolation()
		}
	}
	s.ID = uuid.New()
	cp := *s
	r.items[s.ID] = &cp
	return nil
}

func (r *memSpecimenRepo) GetByID(_ context.Context, id uuid.UUID) (*Specimen, error) {
	s, ok := r.items[id]
	if !ok || s.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (r *memSpecimenRepo) GetByServiceRequest(_ context.Context, srID uuid.UUID) (*Specimen, error) {
	for _, s := range r.items {
		if s.ServiceRequestID == srID && s.DeletedAt == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memSpecimenRepo) GetByKitID(_ context.Context, kitID string) (*Specimen, error) {
	for _, s := range r.items {
		if s.KitID == kitID && s.DeletedAt == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memSpecimenRepo) Update(_ context.Context, s *Specimen) error {
	cp := *s
	r.items[s.ID] = &cp
	return nil
}

func (r *memSpecimenRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if s, ok := r.items[id]; ok && s.DeletedAt == nil {
		now := time.Now()
		s.DeletedAt = &now
	}
	return nil
}

func (r *memSpecimenRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*Specimen, error) {
	var out []*Specimen
	for _, s := range r.items {
		if s.DeletedAt != nil {
			continue
		}
		sr, ok := r.requests.items[s.ServiceRequestID]
		if ok && sr.OrderID == orderID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memAdjustmentRepo struct {
	items []*PriceAdjustment
}

func (r *memAdjustmentRepo) Create(_ context.Context, a *PriceAdjustment) error {
	a.ID = uuid.New()
	cp := *a
	r.items = append(r.items, &cp)
	return nil
}

func (r *memAdjustmentRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*PriceAdjustment, error) {
	var out []*PriceAdjustment
	for _, a := range r.items {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memPatientDirectory struct {
	items map[uuid.UUID]*patient.Patient
}

func (d *memPatientDirectory) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := d.items[id]
	if !ok || p.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

type memAccountDirectory struct {
	items []*identity.Account
}

func (d *memAccountDirectory) Get(_ context.Context, employeeID, orgID uuid.UUID) (*identity.Account, error) {
	for _, a := range d.items {
		if a.EmployeeID == employeeID && a.OrganizationID == orgID {
			return a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type stubGate struct {
	locked bool
}

func (g *stubGate) IsLocked(_ context.Context, _ uuid.UUID) (bool, error) {
	return g.locked, nil
}

type recordingNotifier struct {
	finalized []string
	results   []string
}

func (n *recordingNotifier) OrderFinalized(_ context.Context, o *Order) error {
	n.finalized = append(n.finalized, o.OrderID)
	return nil
}

func (n *recordingNotifier) ResultsReady(_ context.Context, o *Order) error {
	n.results = append(n.results, o.OrderID)
	return nil
}
