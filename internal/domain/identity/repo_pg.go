package identity

import (
	"context"
	"time"

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

// =========== Employee Repository ===========

type employeeRepoPG struct{ pool *pgxpool.Pool }

func NewEmployeeRepoPG(pool *pgxpool.Pool) EmployeeRepository { return &employeeRepoPG{pool: pool} }

func (r *employeeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const employeeCols = `id, first_name, last_name, email, phone, created_at, updated_at, deleted_at`

func (r *employeeRepoPG) scan(row pgx.Row) (*Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.Phone,
		&e.CreatedAt, &e.UpdatedAt, &e.DeletedAt)
	return &e, err
}

func (r *employeeRepoPG) Create(ctx context.Context, e *Employee) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO employees (id, first_name, last_name, email, phone)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.FirstName, e.LastName, e.Email, e.Phone)
	return err
}

func (r *employeeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Employee, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+employeeCols+` FROM employees WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *employeeRepoPG) Update(ctx context.Context, e *Employee) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE employees SET first_name=$2, last_name=$3, email=$4, phone=$5, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		e.ID, e.FirstName, e.LastName, e.Email, e.Phone)
	return err
}

func (r *employeeRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE employees SET deleted_at=NOW(), updated_at=NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *employeeRepoPG) List(ctx context.Context, limit, offset int) ([]*Employee, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM employees WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+employeeCols+` FROM employees WHERE deleted_at IS NULL ORDER BY last_name, first_name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Employee
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// =========== Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const accountCols = `id, employee_id, organization_id, role, account_owner, created_at, updated_at`

func (r *accountRepoPG) scan(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.EmployeeID, &a.OrganizationID, &a.Role, &a.AccountOwner,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO accounts (id, employee_id, organization_id, role, account_owner)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.EmployeeID, a.OrganizationID, a.Role, a.AccountOwner)
	return err
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (r *accountRepoPG) Get(ctx context.Context, employeeID, orgID uuid.UUID) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE employee_id = $1 AND organization_id = $2`,
		employeeID, orgID))
}

func (r *accountRepoPG) Update(ctx context.Context, a *Account) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET role=$2, account_owner=$3, updated_at=NOW() WHERE id = $1`,
		a.ID, a.Role, a.AccountOwner)
	return err
}

func (r *accountRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

func (r *accountRepoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Account, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE organization_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *accountRepoPG) ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*Account, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE employee_id = $1 ORDER BY created_at`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== License Repository ===========

type licenseRepoPG struct{ pool *pgxpool.Pool }

func NewLicenseRepoPG(pool *pgxpool.Pool) LicenseRepository { return &licenseRepoPG{pool: pool} }

func (r *licenseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const licenseCols = `id, employee_id, number, state, effective_date, expiration_date, status, document_key, created_at, updated_at, deleted_at`

func (r *licenseRepoPG) scan(row pgx.Row) (*License, error) {
	var l License
	err := row.Scan(&l.ID, &l.EmployeeID, &l.Number, &l.State, &l.EffectiveDate,
		&l.ExpirationDate, &l.Status, &l.DocumentKey, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt)
	return &l, err
}

func (r *licenseRepoPG) Create(ctx context.Context, l *License) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO licenses (id, employee_id, number, state, effective_date, expiration_date, status, document_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.EmployeeID, l.Number, l.State, l.EffectiveDate, l.ExpirationDate, l.Status, l.DocumentKey)
	return err
}

func (r *licenseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*License, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+licenseCols+` FROM licenses WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *licenseRepoPG) Update(ctx context.Context, l *License) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE licenses SET number=$2, state=$3, effective_date=$4, expiration_date=$5,
			status=$6, document_key=$7, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		l.ID, l.Number, l.State, l.EffectiveDate, l.ExpirationDate, l.Status, l.DocumentKey)
	return err
}

func (r *licenseRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE licenses SET deleted_at=NOW(), updated_at=NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *licenseRepoPG) ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*License, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+licenseCols+` FROM licenses
		 WHERE employee_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*License
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *licenseRepoPG) ListDue(ctx context.Context, cutoff time.Time) ([]*License, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+licenseCols+` FROM licenses
		 WHERE status = $1 AND expiration_date <= $2 AND deleted_at IS NULL
		 ORDER BY expiration_date`, LicenseActive, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*License
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *licenseRepoPG) OrgHasActivePractitioner(ctx context.Context, orgID uuid.UUID, now time.Time) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM accounts a
			JOIN licenses l ON l.employee_id = a.employee_id
			WHERE a.organization_id = $1
			  AND a.role = 'PRACTITIONER'
			  AND l.status = $2
			  AND l.expiration_date > $3
			  AND l.deleted_at IS NULL
		)`, orgID, LicenseActive, now).Scan(&ok)
	return ok, err
}
