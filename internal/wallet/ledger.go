package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bundle-platform/pkg/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("wallet: not found")
	ErrInvalidAmount       = errors.New("wallet: invalid amount")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrInvalidArgument     = errors.New("wallet: invalid argument")
	ErrDuplicateReference  = errors.New("wallet: duplicate payment reference")
)

// Ledger is the atomic money primitive. Implementations mutate the wallet row
// with a single conditional statement and must be used inside the caller's
// unit of work so the matching Transaction commits with the mutation.
type Ledger interface {
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error)
	Deduct(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error)
	Refund(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error)

	InsertTransaction(ctx context.Context, t Transaction) error
	// CompleteTransaction moves a pending row to completed and writes the
	// balance snapshot. Returns false if the row was not pending.
	CompleteTransaction(ctx context.Context, id string, m Mutation, now time.Time) (bool, error)
	// FailTransaction moves a pending row to failed.
	FailTransaction(ctx context.Context, id string, now time.Time) (bool, error)
	GetTransactionByReference(ctx context.Context, reference string) (Transaction, error)
}

// Entry describes one completed balance change to post.
type Entry struct {
	UserID           string
	OrderID          string
	Type             TransactionType
	Amount           decimal.Decimal
	PaymentReference string
	PaymentMethod    string
	Description      string
	Metadata         string
}

// Post applies e to the wallet and records the completed Transaction.
// Must run inside the same unit of work as l.
func Post(ctx context.Context, l Ledger, e Entry, now time.Time) (Transaction, error) {
	if e.UserID == "" {
		return Transaction{}, ErrInvalidArgument
	}
	if err := validateAmount(e.Amount); err != nil {
		return Transaction{}, err
	}

	var (
		m   Mutation
		err error
	)
	switch e.Type {
	case TransactionTypeDeposit:
		m, err = l.Deposit(ctx, e.UserID, e.Amount)
	case TransactionTypePurchase:
		m, err = l.Deduct(ctx, e.UserID, e.Amount)
	case TransactionTypeRefund:
		m, err = l.Refund(ctx, e.UserID, e.Amount)
	default:
		return Transaction{}, fmt.Errorf("%w: transaction type %q", ErrInvalidArgument, e.Type)
	}
	if err != nil {
		return Transaction{}, err
	}

	t := Transaction{
		ID:               uuid.NewString(),
		UserID:           e.UserID,
		Type:             e.Type,
		Amount:           e.Amount,
		BalanceBefore:    m.Before,
		BalanceAfter:     m.After,
		OrderID:          e.OrderID,
		Status:           TransactionStatusCompleted,
		PaymentReference: e.PaymentReference,
		PaymentMethod:    e.PaymentMethod,
		Description:      e.Description,
		Metadata:         e.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.InsertTransaction(ctx, t); err != nil {
		return Transaction{}, fmt.Errorf("insert wallet transaction: %w", err)
	}
	return t, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !money.IsPositive(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}
