package events

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory outbox for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	msgs []Message
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Add(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *MemoryRepo) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *MemoryRepo) Pending(ctx context.Context, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.msgs {
		if m.Status != StatusPending {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepo) update(id string, fn func(m *Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == id {
			fn(&r.msgs[i])
			return
		}
	}
}

func (r *MemoryRepo) MarkSent(ctx context.Context, id string, now time.Time) error {
	r.update(id, func(m *Message) {
		m.Status = StatusSent
		m.UpdatedAt = now
	})
	return nil
}

func (r *MemoryRepo) MarkRetry(ctx context.Context, id string, failed bool, now time.Time) error {
	r.update(id, func(m *Message) {
		m.RetryCount++
		if failed {
			m.Status = StatusFailed
		}
		m.UpdatedAt = now
	})
	return nil
}
