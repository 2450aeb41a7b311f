package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the per-user stored balance.
//
// Invariants:
// - Balance >= 0
// - TotalDeposited - TotalSpent + TotalRefunded == Balance
// - Every change has exactly one Transaction row written in the same unit of work.
type Wallet struct {
	UserID         string          `json:"user_id" db:"user_id"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited" db:"total_deposited"`
	TotalSpent     decimal.Decimal `json:"total_spent" db:"total_spent"`
	TotalRefunded  decimal.Decimal `json:"total_refunded" db:"total_refunded"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Reconciles reports whether the running totals explain the balance.
func (w Wallet) Reconciles() bool {
	return !w.Balance.IsNegative() &&
		w.TotalDeposited.Sub(w.TotalSpent).Add(w.TotalRefunded).Equal(w.Balance)
}

type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "deposit"
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeRefund   TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is the immutable record of one balance mutation.
// The only permitted update is the status move out of pending.
type Transaction struct {
	ID     string          `json:"id" db:"id"`
	UserID string          `json:"user_id" db:"user_id"`
	Type   TransactionType `json:"type" db:"type"`

	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`

	OrderID          string            `json:"order_id,omitempty" db:"order_id"`
	Status           TransactionStatus `json:"status" db:"status"`
	PaymentReference string            `json:"payment_reference,omitempty" db:"payment_reference"`
	PaymentMethod    string            `json:"payment_method,omitempty" db:"payment_method"`
	Description      string            `json:"description,omitempty" db:"description"`

	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Mutation is the serialized before/after view of one balance change.
type Mutation struct {
	Before decimal.Decimal
	After  decimal.Decimal
}
