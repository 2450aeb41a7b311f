package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentGateway charges customers through the external checkout.
//
// Rules:
// - One blocking call per method, bounded by a timeout, never retried here.
// - Amounts cross this boundary in major units; pesewas exist only on the wire.
type PaymentGateway interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (ChargeResult, Exchange, error)
	VerifyCharge(ctx context.Context, reference string) (Verification, Exchange, error)
}

// FulfillmentProvider delivers a purchased bundle to a phone number.
type FulfillmentProvider interface {
	ExecuteFulfillment(ctx context.Context, req FulfillmentRequest) (FulfillmentResult, Exchange, error)
}

type ChargeRequest struct {
	// Email identifies the payer to the gateway.
	Email       string
	Amount      decimal.Decimal
	CallbackURL string
	// Reference is our idempotency reference and becomes the provider reference.
	Reference string
	Metadata  map[string]string
}

type ChargeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type Verification struct {
	Verified      bool
	GatewayStatus string
	AmountPaid    decimal.Decimal
	Channel       string
	PaidAt        time.Time
	Reference     string
}

// InFlight reports whether the gateway has not reached a final state for the
// charge yet. Mobile money charges sit in these while the payer confirms.
func (v Verification) InFlight() bool {
	switch v.GatewayStatus {
	case "ongoing", "pending", "processing", "queued", "send_otp", "send_pin", "pay_offline":
		return !v.Verified
	}
	return false
}

type FulfillmentRequest struct {
	Phone    string
	Network  string
	Capacity string
	Amount   decimal.Decimal
	// Reference is the order id.
	Reference string
}

type FulfillmentResult struct {
	Success           bool
	ProviderOrderID   string
	ProviderReference string
	RemainingBalance  decimal.NullDecimal
	Message           string
	Raw               string
}
