package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// transitions is the complete forward-only state machine.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusSuccessful, StatusFailed},
	StatusFailed:     {StatusRefunded},
}

// CanTransitionTo reports whether s -> next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusRefunded
}

type PaymentMethod string

const (
	PaymentMethodWallet  PaymentMethod = "wallet"
	PaymentMethodGateway PaymentMethod = "gateway"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodWallet || m == PaymentMethodGateway
}

// Failure reasons that are not provider messages.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonAmountMismatch      = "amount_mismatch"
	ReasonPaymentNotVerified  = "payment_not_verified"

	// The fulfillment claim outlived the provider timeout without settling.
	ReasonFulfillmentUnconfirmed = "fulfillment_unconfirmed"
)

// Order is one purchase attempt.
//
// Invariants:
// - Amount is the bundle price at creation and never changes.
// - Status only moves forward along transitions.
// - Refund fields are set only together with StatusRefunded on wallet-paid orders.
type Order struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id,omitempty" db:"user_id"`

	Network     string          `json:"network" db:"network"`
	BundleID    string          `json:"bundle_id" db:"bundle_id"`
	Capacity    string          `json:"capacity" db:"capacity"`
	BundlePrice decimal.Decimal `json:"bundle_price" db:"bundle_price"`
	Phone       string          `json:"phone_number" db:"phone_number"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`

	PaymentMethod       PaymentMethod       `json:"payment_method" db:"payment_method"`
	PaidFromWallet      bool                `json:"paid_from_wallet" db:"paid_from_wallet"`
	WalletBalanceBefore decimal.NullDecimal `json:"wallet_balance_before" db:"wallet_balance_before"`
	WalletBalanceAfter  decimal.NullDecimal `json:"wallet_balance_after" db:"wallet_balance_after"`

	PaymentReference string `json:"payment_reference,omitempty" db:"payment_reference"`
	AuthorizationURL string `json:"authorization_url,omitempty" db:"authorization_url"`
	PayerEmail       string `json:"-" db:"payer_email"`

	FulfillmentClaimedAt *time.Time `json:"-" db:"fulfillment_claimed_at"`

	ProviderPurchaseID       string              `json:"purchase_id,omitempty" db:"purchase_id"`
	ProviderReference        string              `json:"transaction_reference,omitempty" db:"transaction_reference"`
	ProviderRemainingBalance decimal.NullDecimal `json:"-" db:"remaining_balance"`
	ProviderResponse         string              `json:"-" db:"api_response"`

	Status        Status              `json:"status" db:"status"`
	FailureReason string              `json:"failure_reason,omitempty" db:"failure_reason"`
	RefundAmount  decimal.NullDecimal `json:"refund_amount" db:"refund_amount"`
	RefundedAt    *time.Time          `json:"refunded_at,omitempty" db:"refunded_at"`

	RetryOf string `json:"retry_of,omitempty" db:"retry_of"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Claimed reports whether a resolver already owns fulfillment for this order.
func (o Order) Claimed() bool { return o.FulfillmentClaimedAt != nil }

var (
	ErrNotFound             = errors.New("order not found")
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidEmail         = errors.New("invalid payer email")
	ErrAuthRequired         = errors.New("wallet payment requires an authenticated user")
	ErrInvalidTransition    = errors.New("invalid order state transition")
	ErrAlreadyRefunded      = errors.New("order already refunded")
	ErrAmountMismatch       = errors.New("verified amount does not match order amount")
	ErrTooManyInFlight      = errors.New("too many orders in flight")
)
