package order

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resonantbio/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== ServiceType Repository ===========

type serviceTypeRepoPG struct{ pool *pgxpool.Pool }

func NewServiceTypeRepoPG(pool *pgxpool.Pool) ServiceTypeRepository {
	return &serviceTypeRepoPG{pool: pool}
}

const serviceTypeCols = `id, name, code, price, specimen_kind, created_at, updated_at`

func scanServiceType(row pgx.Row) (*ServiceType, error) {
	var st ServiceType
	err := row.Scan(&st.ID, &st.Name, &st.Code, &st.Price, &st.SpecimenKind, &st.CreatedAt, &st.UpdatedAt)
	return &st, err
}

func (r *serviceTypeRepoPG) Create(ctx context.Context, st *ServiceType) error {
	st.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO service_types (id, name, code, price, specimen_kind)
		VALUES ($1,$2,$3,$4,$5)`,
		st.ID, st.Name, st.Code, st.Price, st.SpecimenKind)
	return err
}

func (r *serviceTypeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ServiceType, error) {
	return scanServiceType(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+serviceTypeCols+` FROM service_types WHERE id = $1`, id))
}

func (r *serviceTypeRepoPG) List(ctx context.Context) ([]*ServiceType, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+serviceTypeCols+` FROM service_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ServiceType
	for rows.Next() {
		st, err := scanServiceType(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, st)
	}
	return items, rows.Err()
}

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository { return &orderRepoPG{pool: pool} }

const orderCols = `id, organization_id, order_id, status, req_form_status, req_form_key,
	submitted_to_lab, lab_order_id, price, total, created_at, updated_at, deleted_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrganizationID, &o.OrderID, &o.Status, &o.ReqFormStatus,
		&o.ReqFormKey, &o.SubmittedToLab, &o.LabOrderID, &o.Price, &o.Total,
		&o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO orders (id, organization_id, order_id, status, req_form_status, req_form_key,
			submitted_to_lab, lab_order_id, price, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.OrganizationID, o.OrderID, o.Status, o.ReqFormStatus, o.ReqFormKey,
		o.SubmittedToLab, o.LabOrderID, o.Price, o.Total)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *orderRepoPG) GetByOrderID(ctx context.Context, orderID string) (*Order, error) {
	return scanOrder(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE order_id = $1 AND deleted_at IS NULL`, orderID))
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE orders SET status=$2, req_form_status=$3, req_form_key=$4, submitted_to_lab=$5,
			lab_order_id=$6, price=$7, total=$8, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		o.ID, o.Status, o.ReqFormStatus, o.ReqFormKey, o.SubmittedToLab,
		o.LabOrderID, o.Price, o.Total)
	return err
}

func (r *orderRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE orders SET deleted_at=NOW(), updated_at=NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *orderRepoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Order, int, error) {
	var total int
	if err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE organization_id = $1 AND deleted_at IS NULL`, orgID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE organization_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *orderRepoPG) ListReadyForLab(ctx context.Context) ([]*Order, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status = $1 AND NOT submitted_to_lab AND deleted_at IS NULL
		 ORDER BY created_at`, StatusAssigned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// =========== ServiceRequest Repository ===========

type serviceRequestRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRequestRepoPG(pool *pgxpool.Pool) ServiceRequestRepository {
	return &serviceRequestRepoPG{pool: pool}
}

const srCols = `id, order_id, service_type_id, patient_id, practitioner_id, questionnaire,
	created_at, updated_at, deleted_at`

func scanServiceRequest(row pgx.Row) (*ServiceRequest, error) {
	var sr ServiceRequest
	err := row.Scan(&sr.ID, &sr.OrderID, &sr.ServiceTypeID, &sr.PatientID, &sr.PractitionerID,
		&sr.Questionnaire, &sr.CreatedAt, &sr.UpdatedAt, &sr.DeletedAt)
	return &sr, err
}

func (r *serviceRequestRepoPG) Create(ctx context.Context, sr *ServiceRequest) error {
	sr.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO service_requests (id, order_id, service_type_id, patient_id, practitioner_id, questionnaire)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sr.ID, sr.OrderID, sr.ServiceTypeID, sr.PatientID, sr.PractitionerID, sr.Questionnaire)
	return err
}

func (r *serviceRequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	return scanServiceRequest(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+srCols+` FROM service_requests WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *serviceRequestRepoPG) Update(ctx context.Context, sr *ServiceRequest) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE service_requests SET patient_id=$2, practitioner_id=$3, questionnaire=$4, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		sr.ID, sr.PatientID, sr.PractitionerID, sr.Questionnaire)
	return err
}

func (r *serviceRequestRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*ServiceRequest, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+srCols+` FROM service_requests
		 WHERE order_id = $1 AND deleted_at IS NULL ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ServiceRequest
	for rows.Next() {
		sr, err := scanServiceRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sr)
	}
	return items, rows.Err()
}

// =========== Specimen Repository ===========

type specimenRepoPG struct{ pool *pgxpool.Pool }

func NewSpecimenRepoPG(pool *pgxpool.Pool) SpecimenRepository { return &specimenRepoPG{pool: pool} }

const specimenCols = `id, service_request_id, kit_id, status, result_key, collected_at,
	completed_at, created_at, updated_at, deleted_at`

func scanSpecimen(row pgx.Row) (*Specimen, error) {
	var s Specimen
	err := row.Scan(&s.ID, &s.ServiceRequestID, &s.KitID, &s.Status, &s.ResultKey,
		&s.CollectedAt, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	return &s, err
}

func (r *specimenRepoPG) Create(ctx context.Context, s *Specimen) error {
	s.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO specimens (id, service_request_id, kit_id, status, result_key, collected_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.ServiceRequestID, s.KitID, s.Status, s.ResultKey, s.CollectedAt, s.CompletedAt)
	return err
}

func (r *specimenRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specimen, error) {
	return scanSpecimen(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+specimenCols+` FROM specimens WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *specimenRepoPG) GetByServiceRequest(ctx context.Context, srID uuid.UUID) (*Specimen, error) {
	return scanSpecimen(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+specimenCols+` FROM specimens
		 WHERE service_request_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, srID))
}

func (r *specimenRepoPG) GetByKitID(ctx context.Context, kitID string) (*Specimen, error) {
	return scanSpecimen(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+specimenCols+` FROM specimens WHERE kit_id = $1 AND deleted_at IS NULL`, kitID))
}

func (r *specimenRepoPG) Update(ctx context.Context, s *Specimen) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE specimens SET status=$2, result_key=$3, collected_at=$4, completed_at=$5, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		s.ID, s.Status, s.ResultKey, s.CollectedAt, s.CompletedAt)
	return err
}

func (r *specimenRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE specimens SET deleted_at=NOW(), updated_at=NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *specimenRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Specimen, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+specimenCols+` FROM specimens s
		WHERE s.deleted_at IS NULL AND s.service_request_id IN (
			SELECT id FROM service_requests WHERE order_id = $1 AND deleted_at IS NULL
		)
		ORDER BY s.created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Specimen
	for rows.Next() {
		s, err := scanSpecimen(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// =========== PriceAdjustment Repository ===========

type adjustmentRepoPG struct{ pool *pgxpool.Pool }

func NewAdjustmentRepoPG(pool *pgxpool.Pool) AdjustmentRepository {
	return &adjustmentRepoPG{pool: pool}
}

func (r *adjustmentRepoPG) Create(ctx context.Context, a *PriceAdjustment) error {
	a.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO price_adjustments (id, order_id, adjustment_type, amount)
		VALUES ($1,$2,$3,$4)`,
		a.ID, a.OrderID, a.AdjustmentType, a.Amount)
	return err
}

func (r *adjustmentRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*PriceAdjustment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT id, order_id, adjustment_type, amount, created_at
		FROM price_adjustments WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PriceAdjustment
	for rows.Next() {
		var a PriceAdjustment
		if err := rows.Scan(&a.ID, &a.OrderID, &a.AdjustmentType, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
