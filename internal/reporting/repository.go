package reporting

import (
	"context"
	"time"

	"bundle-platform/internal/orders"
	"bundle-platform/internal/wallet"
)

// StoreRepo reads reports from the order and wallet stores.
type StoreRepo struct {
	Orders  orders.Store
	Wallets wallet.Store
}

func (r StoreRepo) ListOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	return r.Orders.ListBetween(ctx, from, to)
}

func (r StoreRepo) ListWalletTransactions(ctx context.Context, from, to time.Time) ([]wallet.Transaction, error) {
	return r.Wallets.ListTransactionsBetween(ctx, from, to)
}
