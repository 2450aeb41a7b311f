package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// SalesSummaryRequest aggregates orders created in Range.
// Network and PaymentMethod are optional filters.
type SalesSummaryRequest struct {
	Range         TimeRange `json:"range"`
	Network       string    `json:"network,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
}

type SalesSummary struct {
	Range TimeRange `json:"range"`

	TotalOrders      int `json:"total_orders"`
	SuccessfulOrders int `json:"successful_orders"`
	FailedOrders     int `json:"failed_orders"`
	RefundedOrders   int `json:"refunded_orders"`
	OpenOrders       int `json:"open_orders"`

	// Revenue counts successful orders only.
	Revenue        decimal.Decimal `json:"revenue"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`

	ByNetwork map[string]NetworkSales `json:"by_network"`

	SuccessRate float64 `json:"success_rate"`
}

type NetworkSales struct {
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// LedgerSummaryRequest aggregates completed wallet transactions.
// Spend is derived from the append-only wallet_transactions table.
type LedgerSummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type LedgerSummary struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`

	Deposits     decimal.Decimal `json:"deposits"`
	AdminCredits decimal.Decimal `json:"admin_credits"`
	Purchases    decimal.Decimal `json:"purchases"`
	Refunds      decimal.Decimal `json:"refunds"`
	NetDelta     decimal.Decimal `json:"net_delta"`
	PendingCount int             `json:"pending_deposits"`
	FailedCount  int             `json:"failed_deposits"`
	Transactions int             `json:"transactions"`
}
