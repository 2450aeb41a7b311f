package orders

import (
	"context"
	"time"

	"bundle-platform/internal/events"
	"bundle-platform/internal/wallet"
)

// Tx is the unit of work the orchestrator commits atomically: ledger
// mutation, wallet transaction row, order update and outbox message.
type Tx interface {
	Ledger() wallet.Ledger

	// Get loads an order and locks it for the rest of the transaction.
	Get(ctx context.Context, id string) (Order, error)
	Insert(ctx context.Context, o Order) error
	// Update writes o's mutable fields if the stored status is still from.
	Update(ctx context.Context, o Order, from Status) (bool, error)
	// ClaimFulfillment sets the claim on a processing, unclaimed order.
	ClaimFulfillment(ctx context.Context, id string, at time.Time) (bool, error)
	DeletePending(ctx context.Context, id string) (bool, error)
	Enqueue(ctx context.Context, m events.Message) error
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, id string) (Order, error)
	GetByReference(ctx context.Context, reference string) (Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// ListStaleCheckouts returns gateway orders still awaiting their callback.
	ListStaleCheckouts(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error)
	// ListStaleClaims returns processing orders claimed for fulfillment
	// before claimedBefore that never settled.
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]Order, error)
	// ListUnrefunded returns failed wallet-paid orders with no refund yet.
	ListUnrefunded(ctx context.Context, limit int) ([]Order, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}
