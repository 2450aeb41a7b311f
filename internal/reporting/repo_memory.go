package reporting

import (
	"context"
	"sync"
	"time"

	"bundle-platform/internal/orders"
	"bundle-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
type MemoryRepo struct {
	mu sync.Mutex

	Orders       []orders.Order
	Transactions []wallet.Transaction
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *MemoryRepo) ListOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]orders.Order, 0)
	for _, o := range r.Orders {
		if inRange(o.CreatedAt, from, to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListWalletTransactions(ctx context.Context, from, to time.Time) ([]wallet.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.Transaction, 0)
	for _, t := range r.Transactions {
		if inRange(t.CreatedAt, from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}
