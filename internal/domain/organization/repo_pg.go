package organization

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

// =========== Organization Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orgCols = `id, name, billing_emails, created_at, updated_at, deleted_at`

func (r *repoPG) scanOrg(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.BillingEmails, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	return &o, err
}

func (r *repoPG) Create(ctx context.Context, o *Organization) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO organizations (id, name, billing_emails)
		VALUES ($1,$2,$3)`,
		o.ID, o.Name, o.BillingEmails)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return r.scanOrg(r.conn(ctx).QueryRow(ctx,
		`SELECT `+orgCols+` FROM organizations WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) Update(ctx context.Context, o *Organization) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE organizations SET name=$2, billing_emails=$3, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		o.ID, o.Name, o.BillingEmails)
	return err
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE organizations SET deleted_at=NOW(), updated_at=NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Organization, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM organizations WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orgCols+` FROM organizations WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Organization
	for rows.Next() {
		o, err := r.scanOrg(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

// =========== Address Repository ===========

type addressRepoPG struct{ pool *pgxpool.Pool }

func NewAddressRepoPG(pool *pgxpool.Pool) AddressRepository { return &addressRepoPG{pool: pool} }

func (r *addressRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const addrCols = `id, organization_id, kind, line1, line2, city, state, postal_code, is_default, created_at, updated_at, deleted_at`

func (r *addressRepoPG) scanAddress(row pgx.Row) (*Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Kind, &a.Line1, &a.Line2, &a.City,
		&a.State, &a.PostalCode, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return &a, err
}

func (r *addressRepoPG) Create(ctx context.Context, a *Address) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO addresses (id, organization_id, kind, line1, line2, city, state, postal_code, is_default)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.OrganizationID, a.Kind, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.IsDefault)
	return err
}

func (r *addressRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Address, error) {
	return r.scanAddress(r.conn(ctx).QueryRow(ctx,
		`SELECT `+addrCols+` FROM addresses WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *addressRepoPG) GetDefault(ctx context.Context, orgID uuid.UUID, kind string) (*Address, error) {
	return r.scanAddress(r.conn(ctx).QueryRow(ctx,
		`SELECT `+addrCols+` FROM addresses
		 WHERE organization_id = $1 AND kind = $2 AND is_default AND deleted_at IS NULL`,
		orgID, kind))
}

func (r *addressRepoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Address, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+addrCols+` FROM addresses
		 WHERE organization_id = $1 AND deleted_at IS NULL ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Address
	for rows.Next() {
		a, err := r.scanAddress(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *addressRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE addresses SET deleted_at=NOW(), updated_at=NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}
