package audit

import (
	"context"
	"errors"
	"sync"
)

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu   sync.Mutex
	logs []TransactionLog

	// Fail makes Append return an error, to exercise the best-effort path.
	Fail bool
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, l TransactionLog) (TransactionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return TransactionLog{}, errors.New("audit: memory repo failing")
	}
	attempt := 0
	for _, e := range r.logs {
		if e.subject() == l.subject() && e.Attempt > attempt {
			attempt = e.Attempt
		}
	}
	l.Attempt = attempt + 1
	r.logs = append(r.logs, l)
	return l, nil
}

func (r *MemoryRepo) ListByOrder(ctx context.Context, orderID string) ([]TransactionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TransactionLog
	for _, e := range r.logs {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Logs() []TransactionLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransactionLog, len(r.logs))
	copy(out, r.logs)
	return out
}
