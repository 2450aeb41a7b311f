package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store for tests.
// InTx serializes units of work and restores the prior state when fn fails.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]Wallet
	txs     []Transaction
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: map[string]Wallet{}, now: time.Now}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallets := make(map[string]Wallet, len(s.wallets))
	for k, v := range s.wallets {
		wallets[k] = v
	}
	txs := make([]Transaction, len(s.txs))
	copy(txs, s.txs)

	if err := fn(ctx, memoryLedger{s: s}); err != nil {
		s.wallets = wallets
		s.txs = txs
		return err
	}
	return nil
}

func (s *MemoryStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID != userID {
			continue
		}
		out = append(out, s.txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byReference(reference)
}

func (s *MemoryStore) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txs {
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Transactions returns a copy of every row, oldest first.
func (s *MemoryStore) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}

func (s *MemoryStore) byReference(reference string) (Transaction, error) {
	for _, t := range s.txs {
		if reference != "" && t.PaymentReference == reference {
			return t, nil
		}
	}
	return Transaction{}, ErrNotFound
}

// memoryLedger runs with s.mu already held by InTx.
type memoryLedger struct {
	s *MemoryStore
}

func (l memoryLedger) wallet(userID string) Wallet {
	w, ok := l.s.wallets[userID]
	if !ok {
		now := l.s.now().UTC()
		w = Wallet{UserID: userID, CreatedAt: now}
	}
	return w
}

func (l memoryLedger) save(w Wallet) {
	w.UpdatedAt = l.s.now().UTC()
	l.s.wallets[w.UserID] = w
}

func (l memoryLedger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error) {
	if err := validateAmount(amount); err != nil {
		return Mutation{}, err
	}
	w := l.wallet(userID)
	m := Mutation{Before: w.Balance, After: w.Balance.Add(amount)}
	w.Balance = m.After
	w.TotalDeposited = w.TotalDeposited.Add(amount)
	l.save(w)
	return m, nil
}

func (l memoryLedger) Deduct(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error) {
	if err := validateAmount(amount); err != nil {
		return Mutation{}, err
	}
	w, ok := l.s.wallets[userID]
	if !ok || w.Balance.LessThan(amount) {
		return Mutation{}, ErrInsufficientBalance
	}
	m := Mutation{Before: w.Balance, After: w.Balance.Sub(amount)}
	w.Balance = m.After
	w.TotalSpent = w.TotalSpent.Add(amount)
	l.save(w)
	return m, nil
}

func (l memoryLedger) Refund(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error) {
	if err := validateAmount(amount); err != nil {
		return Mutation{}, err
	}
	w := l.wallet(userID)
	m := Mutation{Before: w.Balance, After: w.Balance.Add(amount)}
	w.Balance = m.After
	w.TotalRefunded = w.TotalRefunded.Add(amount)
	l.save(w)
	return m, nil
}

func (l memoryLedger) InsertTransaction(ctx context.Context, t Transaction) error {
	if t.PaymentReference != "" {
		if _, err := l.s.byReference(t.PaymentReference); err == nil {
			return ErrDuplicateReference
		}
	}
	l.s.txs = append(l.s.txs, t)
	return nil
}

func (l memoryLedger) setStatus(id string, status TransactionStatus, m *Mutation, now time.Time) bool {
	for i := range l.s.txs {
		t := &l.s.txs[i]
		if t.ID != id {
			continue
		}
		if t.Status != TransactionStatusPending {
			return false
		}
		t.Status = status
		if m != nil {
			t.BalanceBefore = m.Before
			t.BalanceAfter = m.After
		}
		t.UpdatedAt = now
		return true
	}
	return false
}

func (l memoryLedger) CompleteTransaction(ctx context.Context, id string, m Mutation, now time.Time) (bool, error) {
	return l.setStatus(id, TransactionStatusCompleted, &m, now), nil
}

func (l memoryLedger) FailTransaction(ctx context.Context, id string, now time.Time) (bool, error) {
	return l.setStatus(id, TransactionStatusFailed, nil, now), nil
}

func (l memoryLedger) GetTransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	return l.s.byReference(reference)
}
