package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service exposes wallet reads and the standalone deposit flows.
// Purchases and refunds are posted by the order orchestrator through Post
// inside its own unit of work.
//
// Money invariants:
// - No balance change without a Transaction row in the same unit of work
// - Transactions are append-only apart from pending -> completed|failed
type Service struct {
	store Store
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// DepositRequest describes a completed credit to a wallet.
type DepositRequest struct {
	Amount      decimal.Decimal
	Reference   string
	Method      string
	Description string
	Metadata    string
}

const (
	MethodAdmin   = "admin"
	MethodGateway = "paystack"

	// DepositReferencePrefix marks gateway references that belong to wallet top-ups.
	DepositReferencePrefix = "dep_"
)

// NewDepositReference returns a fresh top-up reference.
func NewDepositReference() string {
	return DepositReferencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsDepositReference reports whether ref was issued by NewDepositReference.
func IsDepositReference(ref string) bool {
	return strings.HasPrefix(ref, DepositReferencePrefix)
}

// GetWallet returns the user's wallet. A user who never touched their wallet
// gets a zero wallet rather than ErrNotFound.
func (s *Service) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	w, err := s.store.GetWallet(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Wallet{UserID: userID}, nil
	}
	return w, err
}

func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

// Deposit credits the wallet and records a completed deposit in one unit of work.
func (s *Service) Deposit(ctx context.Context, userID string, req DepositRequest) (Transaction, error) {
	now := s.clock().UTC()
	var out Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, l Ledger) error {
		t, err := Post(ctx, l, Entry{
			UserID:           userID,
			Type:             TransactionTypeDeposit,
			Amount:           req.Amount,
			PaymentReference: req.Reference,
			PaymentMethod:    req.Method,
			Description:      req.Description,
			Metadata:         req.Metadata,
		}, now)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// OpenDeposit records a pending gateway deposit. No money moves until
// CompleteDeposit confirms it.
func (s *Service) OpenDeposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (Transaction, error) {
	if userID == "" || reference == "" {
		return Transaction{}, ErrInvalidArgument
	}
	if err := validateAmount(amount); err != nil {
		return Transaction{}, err
	}
	now := s.clock().UTC()
	t := Transaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Type:             TransactionTypeDeposit,
		Amount:           amount,
		Status:           TransactionStatusPending,
		PaymentReference: reference,
		PaymentMethod:    MethodGateway,
		Description:      "Wallet top-up",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, l Ledger) error {
		return l.InsertTransaction(ctx, t)
	})
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}

var errNotPending = errors.New("wallet: transaction is not pending")

// CompleteDeposit credits a pending deposit exactly once. applied is false
// when the deposit was already settled.
func (s *Service) CompleteDeposit(ctx context.Context, reference string) (t Transaction, applied bool, err error) {
	now := s.clock().UTC()
	err = s.store.InTx(ctx, func(ctx context.Context, l Ledger) error {
		pending, err := l.GetTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		if pending.Type != TransactionTypeDeposit || pending.Status != TransactionStatusPending {
			t = pending
			return errNotPending
		}
		m, err := l.Deposit(ctx, pending.UserID, pending.Amount)
		if err != nil {
			return err
		}
		ok, err := l.CompleteTransaction(ctx, pending.ID, m, now)
		if err != nil {
			return err
		}
		if !ok {
			return errNotPending
		}
		pending.Status = TransactionStatusCompleted
		pending.BalanceBefore = m.Before
		pending.BalanceAfter = m.After
		pending.UpdatedAt = now
		t = pending
		return nil
	})
	if errors.Is(err, errNotPending) {
		return t, false, nil
	}
	if err != nil {
		return Transaction{}, false, fmt.Errorf("complete deposit %s: %w", reference, err)
	}
	return t, true, nil
}

// FailDeposit marks a pending deposit failed. It is a no-op for settled rows.
func (s *Service) FailDeposit(ctx context.Context, reference string) (bool, error) {
	now := s.clock().UTC()
	var failed bool
	err := s.store.InTx(ctx, func(ctx context.Context, l Ledger) error {
		t, err := l.GetTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		failed, err = l.FailTransaction(ctx, t.ID, now)
		return err
	})
	return failed, err
}

// GetDeposit looks up a deposit by its gateway reference.
func (s *Service) GetDeposit(ctx context.Context, reference string) (Transaction, error) {
	t, err := s.store.GetTransactionByReference(ctx, reference)
	if err != nil {
		return Transaction{}, err
	}
	if t.Type != TransactionTypeDeposit {
		return Transaction{}, ErrNotFound
	}
	return t, nil
}
