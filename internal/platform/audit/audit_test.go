package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/resonantbio/portal/pkg/errs"
)

// fakeTx satisfies pgx.Tx for the interceptor's begin/commit/rollback calls.
// In-memory repos never touch the embedded interface, so unused methods are
// safe to leave unimplemented.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(_ context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(_ context.Context) error { f.rolledBack = true; return nil }

type fakeBeginner struct {
	txs []*fakeTx
}

func (f *fakeBeginner) Begin(_ context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type memLogWriter struct {
	logs []*Log
}

func (m *memLogWriter) Insert(_ context.Context, l *Log) error {
	m.logs = append(m.logs, l)
	return nil
}

func newTestInterceptor() (*Interceptor, *fakeBeginner, *memLogWriter) {
	b := &fakeBeginner{}
	w := &memLogWriter{}
	i := NewInterceptor(b, w)
	return i, b, w
}

type widget struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func TestMutate_CreateWritesPostImageAndCommits(t *testing.T) {
	i, b, w := newTestInterceptor()
	actorID := uuid.New()
	entityID := uuid.New()

	err := i.Mutate(context.Background(), Mutation{
		Op:       OpCreate,
		Entity:   "Widget",
		EntityID: entityID,
		Identity: Employee(actorID),
		Apply: func(_ context.Context) (interface{}, error) {
			return &widget{ID: entityID, Name: "w1"}, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.logs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(w.logs))
	}
	entry := w.logs[0]
	if entry.Op != OpCreate || entry.Entity != "Widget" || entry.EntityID != entityID {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.ActorID == nil || *entry.ActorID != actorID {
		t.Error("expected actor id on entry")
	}
	if entry.Before != nil {
		t.Error("create must not carry a pre-image")
	}
	var got widget
	if err := json.Unmarshal(entry.After, &got); err != nil || got.Name != "w1" {
		t.Errorf("post-image mismatch: %s", entry.After)
	}
	if len(b.txs) != 1 || !b.txs[0].committed {
		t.Error("expected exactly one committed transaction")
	}
}

func TestMutate_CreateRecoversEntityIDFromPostImage(t *testing.T) {
	i, _, w := newTestInterceptor()
	assigned := uuid.New()

	err := i.Mutate(context.Background(), Mutation{
		Op:       OpCreate,
		Entity:   "Widget",
		Identity: Employee(uuid.New()),
		Apply: func(_ context.Context) (interface{}, error) {
			return &widget{ID: assigned, Name: "w2"}, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.logs[0].EntityID != assigned {
		t.Errorf("entity id = %s, want %s", w.logs[0].EntityID, assigned)
	}
}

func TestMutate_UpdateCapturesPreImage(t *testing.T) {
	i, _, w := newTestInterceptor()
	entityID := uuid.New()

	err := i.Mutate(context.Background(), Mutation{
		Op:       OpUpdate,
		Entity:   "Widget",
		EntityID: entityID,
		Identity: Employee(uuid.New()),
		Load: func(_ context.Context) (interface{}, error) {
			return &widget{ID: entityID, Name: "old"}, nil
		},
		Apply: func(_ context.Context) (interface{}, error) {
			return &widget{ID: entityID, Name: "new"}, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := w.logs[0]
	var before, after widget
	if err := json.Unmarshal(entry.Before, &before); err != nil || before.Name != "old" {
		t.Errorf("pre-image mismatch: %s", entry.Before)
	}
	if err := json.Unmarshal(entry.After, &after); err != nil || after.Name != "new" {
		t.Errorf("post-image mismatch: %s", entry.After)
	}
}

func TestMutate_UpdateMissingRowIsNotFound(t *testing.T) {
	i, b, w := newTestInterceptor()
	applied := false

	err := i.Mutate(context.Background(), Mutation{
		Op:       OpUpdate,
		Entity:   "Widget",
		EntityID: uuid.New(),
		Identity: Employee(uuid.New()),
		Load: func(_ context.Context) (interface{}, error) {
			return nil, pgx.ErrNoRows
		},
		Apply: func(_ context.Context) (interface{}, error) {
			applied = true
			return nil, nil
		},
	})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if applied {
		t.Error("apply must not run when the pre-image read fails")
	}
	if len(w.logs) != 0 {
		t.Error("no audit record on failed mutation")
	}
	if b.txs[0].committed {
		t.Error("transaction must not commit on failure")
	}
}

func TestMutate_DeleteCarriesNoPostImage(t *testing.T) {
	i, _, w := newTestInterceptor()

	err := i.Mutate(context.Background(), Mutation{
		Op:       OpDelete,
		Entity:   "Widget",
		EntityID: uuid.New(),
		Identity: System("janitor"),
		Apply: func(_ context.Context) (interface{}, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := w.logs[0]
	if entry.After != nil {
		t.Error("delete must not carry a post-image")
	}
	if entry.CreditedTo == nil || *entry.CreditedTo != "janitor" {
		t.Error("expected credited system actor")
	}
}

func TestMutate_RejectsAuditLogEntity(t *testing.T) {
	i, _, _ := newTestInterceptor()
	err := i.Mutate(context.Background(), Mutation{
		Op:       OpCreate,
		Entity:   "AuditLog",
		Identity: Employee(uuid.New()),
		Apply:    func(_ context.Context) (interface{}, error) { return nil, nil },
	})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestMutate_RejectsAmbiguousIdentity(t *testing.T) {
	i, _, _ := newTestInterceptor()
	id := uuid.New()

	both := Identity{EmployeeID: &id, CreditedTo: "lab-bridge"}
	err := i.Mutate(context.Background(), Mutation{
		Op: OpCreate, Entity: "Widget", Identity: both,
		Apply: func(_ context.Context) (interface{}, error) { return nil, nil },
	})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected VALIDATION for dual identity, got %v", err)
	}

	err = i.Mutate(context.Background(), Mutation{
		Op: OpCreate, Entity: "Widget",
		Apply: func(_ context.Context) (interface{}, error) { return nil, nil },
	})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected VALIDATION for missing identity, got %v", err)
	}
}

func TestMutate_JoinsOuterTransaction(t *testing.T) {
	i, b, w := newTestInterceptor()

	err := i.InTx(context.Background(), func(txCtx context.Context) error {
		for _, name := range []string{"a", "b"} {
			n := name
			id := uuid.New()
			if err := i.Mutate(txCtx, Mutation{
				Op: OpCreate, Entity: "Widget", EntityID: id,
				Identity: Employee(uuid.New()),
				Apply: func(_ context.Context) (interface{}, error) {
					return &widget{ID: id, Name: n}, nil
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.txs) != 1 {
		t.Fatalf("expected inner mutations to join the outer tx, got %d txs", len(b.txs))
	}
	if len(w.logs) != 2 {
		t.Errorf("expected 2 audit records, got %d", len(w.logs))
	}
}

func TestMutate_RecordsDuration(t *testing.T) {
	i, _, w := newTestInterceptor()
	base := time.Now()
	calls := 0
	i.now = func() time.Time {
		calls++
		// Second call (after Apply) is 45ms later.
		if calls == 2 {
			return base.Add(45 * time.Millisecond)
		}
		return base
	}

	err := i.Mutate(context.Background(), Mutation{
		Op: OpCreate, Entity: "Widget", EntityID: uuid.New(),
		Identity: Employee(uuid.New()),
		Apply:    func(_ context.Context) (interface{}, error) { return &widget{}, nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.logs[0].DurationMS != 45 {
		t.Errorf("expected 45ms duration, got %d", w.logs[0].DurationMS)
	}
}
