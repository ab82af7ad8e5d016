// Package auditlog exposes the read side of the audit trail. Writes happen
// only through the interception layer; nothing here mutates records.
package auditlog

import (
	"context"

	"github.com/google/uuid"

	"github.com/resonantbio/portal/internal/platform/audit"
	"github.com/resonantbio/portal/internal/platform/db"
	"github.com/resonantbio/portal/pkg/errs"
)

type Service struct {
	logs Repository
}

func NewService(logs Repository) *Service {
	return &Service{logs: logs}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*audit.Log, error) {
	l, err := s.logs.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, errs.NotFound("audit record %s not found", id)
		}
		return nil, err
	}
	return l, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*audit.Log, int, error) {
	return s.logs.List(ctx, f, limit, offset)
}
