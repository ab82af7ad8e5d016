package auditlog

import (
	"context"

	"github.com/google/uuid"

	"github.com/resonantbio/portal/internal/platform/audit"
)

// Filter narrows audit trail queries.
type Filter struct {
	Entity   string
	EntityID *uuid.UUID
	ActorID  *uuid.UUID
	Op       string
}

// Repository is the append-only audit trail store. There is deliberately no
// update or delete.
type Repository interface {
	Insert(ctx context.Context, l *audit.Log) error
	GetByID(ctx context.Context, id uuid.UUID) (*audit.Log, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*audit.Log, int, error)
}
