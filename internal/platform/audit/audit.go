// Package audit implements the mutation interception layer. Every create,
// update, or delete against the store runs through Interceptor.Mutate, which
// captures the pre-image (updates and deletes), executes the write, captures
// the post-image, and appends one immutable audit record, all inside the
// same transaction as the write itself.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/pkg/errs"
)

// Op is the kind of mutation being intercepted.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Log is one immutable audit record. Rows are never updated or deleted, and
// the table carries no foreign keys so no cascade can erase history.
type Log struct {
	ID         uuid.UUID       `json:"id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	CreditedTo *string         `json:"credited_to,omitempty"`
	Op         Op              `json:"op"`
	Entity     string          `json:"entity"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LogWriter persists audit records. The implementation must route through the
// transaction carried in ctx so the record commits with the entity write.
type LogWriter interface {
	Insert(ctx context.Context, l *Log) error
}

// Identity names who a mutation is credited to: either an authenticated
// employee or an external system string, never both.
type Identity struct {
	EmployeeID *uuid.UUID
	CreditedTo string
}

// Employee credits a mutation to an authenticated employee.
func Employee(id uuid.UUID) Identity {
	return Identity{EmployeeID: &id}
}

// System credits a mutation to an external system (lab bridge, license sweep).
func System(name string) Identity {
	return Identity{CreditedTo: name}
}

// Mutation describes one intercepted write.
//
// Load reads the current row for the pre-image. It is required for OpUpdate
// and optional for OpDelete; a missing row surfaces as NOT_FOUND before the
// write is attempted. Apply performs the write and returns the resulting
// entity for the post-image (nil for deletes).
type Mutation struct {
	Op       Op
	Entity   string
	EntityID uuid.UUID
	Identity Identity
	Load     func(ctx context.Context) (interface{}, error)
	Apply    func(ctx context.Context) (interface{}, error)
}

// Interceptor wraps mutations in a transaction together with their audit
// record.
type Interceptor struct {
	pool db.Beginner
	logs LogWriter
	now  func() time.Time
}

// NewInterceptor builds an Interceptor over the given pool and log writer.
func NewInterceptor(pool db.Beginner, logs LogWriter) *Interceptor {
	return &Interceptor{pool: pool, logs: logs, now: time.Now}
}

// InTx runs fn inside a single transaction. When ctx already carries one,
// fn joins it and the outer owner commits. Workflow transitions use this to
// bundle several audited sub-writes into one atomic unit.
func (i *Interceptor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, tx, err := db.WithTx(ctx, i.pool)
	if err != nil {
		return errs.Dependency("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Dependency("commit transaction", err)
	}
	return nil
}

// Mutate executes m under a transaction: pre-image read (updates), the write,
// then the audit insert. Any failure rolls the whole unit back.
func (i *Interceptor) Mutate(ctx context.Context, m Mutation) error {
	if err := validate(m); err != nil {
		return err
	}

	return i.InTx(ctx, func(txCtx context.Context) error {
		var before json.RawMessage
		if m.Load != nil && (m.Op == OpUpdate || m.Op == OpDelete) {
			prior, err := m.Load(txCtx)
			if err != nil {
				if db.IsNoRows(err) {
					return errs.NotFound("%s %s not found", m.Entity, m.EntityID)
				}
				return err
			}
			raw, err := json.Marshal(prior)
			if err != nil {
				return errs.Internal("serialize pre-image", err)
			}
			before = raw
		}

		start := i.now()
		result, err := m.Apply(txCtx)
		if err != nil {
			return err
		}
		duration := i.now().Sub(start)

		var after json.RawMessage
		if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				return errs.Internal("serialize post-image", err)
			}
			after = raw
		}

		entityID := m.EntityID
		if entityID == uuid.Nil && after != nil {
			// Creates assign the id inside Apply; recover it from the
			// post-image.
			var withID struct {
				ID uuid.UUID `json:"id"`
			}
			if err := json.Unmarshal(after, &withID); err == nil {
				entityID = withID.ID
			}
		}

		entry := &Log{
			ID:         uuid.New(),
			ActorID:    m.Identity.EmployeeID,
			Op:         m.Op,
			Entity:     m.Entity,
			EntityID:   entityID,
			Before:     before,
			After:      after,
			DurationMS: duration.Milliseconds(),
			CreatedAt:  i.now().UTC(),
		}
		if m.Identity.CreditedTo != "" {
			entry.CreditedTo = &m.Identity.CreditedTo
		}
		if err := i.logs.Insert(txCtx, entry); err != nil {
			return errs.Internal("append audit record", err)
		}
		return nil
	})
}

func validate(m Mutation) error {
	if m.Entity == "" {
		return errs.Validation("mutation entity is required")
	}
	if m.Entity == "AuditLog" {
		// No audit-of-audit: log rows are written only by the interceptor.
		return errs.Validation("AuditLog mutations bypass the interceptor")
	}
	if m.Apply == nil {
		return errs.Validation("mutation apply func is required")
	}
	switch m.Op {
	case OpCreate, OpDelete:
	case OpUpdate:
		if m.Load == nil {
			return errs.Validation("update mutations require a pre-image load func")
		}
	default:
		return errs.Validation("unknown mutation op %q", m.Op)
	}
	hasEmployee := m.Identity.EmployeeID != nil
	hasSystem := m.Identity.CreditedTo != ""
	if hasEmployee == hasSystem {
		return errs.Validation("mutation identity must be exactly one of employee or credited system")
	}
	return nil
}
