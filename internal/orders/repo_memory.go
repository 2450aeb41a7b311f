package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"bundle-platform/internal/events"
	"bundle-platform/internal/wallet"
)

// MemoryStore keeps orders in memory and shares its unit of work with a
// wallet.MemoryStore, so ledger changes and order updates roll back together.
type MemoryStore struct {
	wallets *wallet.MemoryStore
	outbox  *events.MemoryRepo

	mu     sync.Mutex
	orders map[string]Order
	seq    []string
}

func NewMemoryStore(wallets *wallet.MemoryStore, outbox *events.MemoryRepo) *MemoryStore {
	return &MemoryStore{wallets: wallets, outbox: outbox, orders: map[string]Order{}}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.wallets.InTx(ctx, func(ctx context.Context, l wallet.Ledger) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		orders := make(map[string]Order, len(s.orders))
		for k, v := range s.orders {
			orders[k] = v
		}
		seq := append([]string(nil), s.seq...)

		tx := &memoryTx{s: s, ledger: l}
		if err := fn(ctx, tx); err != nil {
			s.orders = orders
			s.seq = seq
			return err
		}
		for _, m := range tx.pending {
			s.outbox.Add(m)
		}
		return nil
	})
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.seq {
		if o, ok := s.orders[id]; ok && reference != "" && o.PaymentReference == reference {
			return o, nil
		}
	}
	return Order{}, ErrNotFound
}

func (s *MemoryStore) filter(keep func(Order) bool) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, id := range s.seq {
		if o, ok := s.orders[id]; ok && keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	out := s.filter(func(o Order) bool { return o.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStaleCheckouts(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error) {
	out := s.filter(func(o Order) bool {
		return o.PaymentMethod == PaymentMethodGateway && o.Status == StatusProcessing &&
			!o.Claimed() && o.CreatedAt.Before(createdBefore)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]Order, error) {
	out := s.filter(func(o Order) bool {
		return o.Status == StatusProcessing && o.Claimed() && o.FulfillmentClaimedAt.Before(claimedBefore)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListUnrefunded(ctx context.Context, limit int) ([]Order, error) {
	out := s.filter(func(o Order) bool {
		return o.Status == StatusFailed && o.PaidFromWallet && o.RefundedAt == nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	return s.filter(func(o Order) bool {
		return !o.CreatedAt.Before(from) && o.CreatedAt.Before(to)
	}), nil
}

// memoryTx runs with s.mu held by InTx.
type memoryTx struct {
	s       *MemoryStore
	ledger  wallet.Ledger
	pending []events.Message
}

func (t *memoryTx) Ledger() wallet.Ledger { return t.ledger }

func (t *memoryTx) Get(ctx context.Context, id string) (Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (t *memoryTx) Insert(ctx context.Context, o Order) error {
	if _, ok := t.s.orders[o.ID]; ok {
		return ErrInvalidTransition
	}
	t.s.orders[o.ID] = o
	t.s.seq = append(t.s.seq, o.ID)
	return nil
}

func (t *memoryTx) Update(ctx context.Context, o Order, from Status) (bool, error) {
	cur, ok := t.s.orders[o.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	// Creation-time fields are immutable.
	o.UserID = cur.UserID
	o.Network = cur.Network
	o.BundleID = cur.BundleID
	o.Capacity = cur.Capacity
	o.BundlePrice = cur.BundlePrice
	o.Phone = cur.Phone
	o.Amount = cur.Amount
	o.PaymentMethod = cur.PaymentMethod
	o.PayerEmail = cur.PayerEmail
	o.RetryOf = cur.RetryOf
	o.CreatedAt = cur.CreatedAt
	t.s.orders[o.ID] = o
	return true, nil
}

func (t *memoryTx) ClaimFulfillment(ctx context.Context, id string, at time.Time) (bool, error) {
	cur, ok := t.s.orders[id]
	if !ok || cur.Status != StatusProcessing || cur.Claimed() {
		return false, nil
	}
	cur.FulfillmentClaimedAt = &at
	cur.UpdatedAt = at
	t.s.orders[id] = cur
	return true, nil
}

func (t *memoryTx) DeletePending(ctx context.Context, id string) (bool, error) {
	cur, ok := t.s.orders[id]
	if !ok || cur.Status != StatusPending {
		return false, nil
	}
	delete(t.s.orders, id)
	return true, nil
}

func (t *memoryTx) Enqueue(ctx context.Context, m events.Message) error {
	t.pending = append(t.pending, m)
	return nil
}
