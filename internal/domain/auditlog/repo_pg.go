package auditlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the postgres audit trail repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const logCols = `id, actor_id, credited_to, op, entity, entity_id, before, after, duration_ms, created_at`

func (r *repoPG) scanLog(row pgx.Row) (*audit.Log, error) {
	var l audit.Log
	err := row.Scan(&l.ID, &l.ActorID, &l.CreditedTo, &l.Op, &l.Entity, &l.EntityID,
		&l.Before, &l.After, &l.DurationMS, &l.CreatedAt)
	return &l, err
}

func (r *repoPG) Insert(ctx context.Context, l *audit.Log) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, credited_to, op, entity, entity_id, before, after, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.ActorID, l.CreditedTo, l.Op, l.Entity, l.EntityID, l.Before, l.After, l.DurationMS, l.CreatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*audit.Log, error) {
	return r.scanLog(r.conn(ctx).QueryRow(ctx, `SELECT `+logCols+` FROM audit_logs WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*audit.Log, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if f.Entity != "" {
		add("entity", f.Entity)
	}
	if f.EntityID != nil {
		add("entity_id", *f.EntityID)
	}
	if f.ActorID != nil {
		add("actor_id", *f.ActorID)
	}
	if f.Op != "" {
		add("op", f.Op)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		logCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*audit.Log
	for rows.Next() {
		l, err := r.scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}
