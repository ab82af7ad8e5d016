package audit

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
)

// MemoryLogWriter collects audit records in memory. Test double for services
// that run over in-memory repositories.
type MemoryLogWriter struct {
	mu   sync.Mutex
	logs []*Log
}

func (w *MemoryLogWriter) Insert(_ context.Context, l *Log) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logs = append(w.logs, l)
	return nil
}

// Logs returns a copy of recorded audit entries.
func (w *MemoryLogWriter) Logs() []*Log {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Log, len(w.logs))
	copy(out, w.logs)
	return out
}

type noopTx struct{ pgx.Tx }

func (noopTx) Commit(_ context.Context) error   { return nil }
func (noopTx) Rollback(_ context.Context) error { return nil }

type noopBeginner struct{}

func (noopBeginner) Begin(_ context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// NewMemoryInterceptor returns an interceptor whose transactions are no-ops,
// paired with the in-memory writer capturing its records.
func NewMemoryInterceptor() (*Interceptor, *MemoryLogWriter) {
	w := &MemoryLogWriter{}
	return NewInterceptor(noopBeginner{}, w), w
}
