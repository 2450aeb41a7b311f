package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bundle-platform/internal/events"
	"bundle-platform/internal/wallet"
	"bundle-platform/pkg/utils"
)

// NOTE: This repository assumes the orders table from migrations/0001_init.sql,
// including UNIQUE (payment_reference).

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &sqlTx{tx: tx, ledger: wallet.NewSQLLedger(tx)})
	})
}

const orderColumns = `id, COALESCE(user_id, ''), network, bundle_id, capacity, bundle_price, phone_number, amount,
       payment_method, paid_from_wallet, wallet_balance_before, wallet_balance_after,
       COALESCE(payment_reference, ''), COALESCE(authorization_url, ''), COALESCE(payer_email, ''),
       fulfillment_claimed_at, COALESCE(purchase_id, ''), COALESCE(transaction_reference, ''),
       remaining_balance, COALESCE(api_response, ''), status, COALESCE(failure_reason, ''),
       refund_amount, refunded_at, COALESCE(retry_of::text, ''), created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var (
		o         Order
		claimedAt sql.NullTime
		refunded  sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Network,
		&o.BundleID,
		&o.Capacity,
		&o.BundlePrice,
		&o.Phone,
		&o.Amount,
		&o.PaymentMethod,
		&o.PaidFromWallet,
		&o.WalletBalanceBefore,
		&o.WalletBalanceAfter,
		&o.PaymentReference,
		&o.AuthorizationURL,
		&o.PayerEmail,
		&claimedAt,
		&o.ProviderPurchaseID,
		&o.ProviderReference,
		&o.ProviderRemainingBalance,
		&o.ProviderResponse,
		&o.Status,
		&o.FailureReason,
		&o.RefundAmount,
		&refunded,
		&o.RetryOf,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		o.FulfillmentClaimedAt = &t
	}
	if refunded.Valid {
		t := refunded.Time
		o.RefundedAt = &t
	}
	return o, nil
}

func getOne(ctx context.Context, db utils.DBTX, q string, args ...any) (Order, error) {
	o, err := scanOrder(db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

func listOrders(ctx context.Context, db utils.DBTX, q string, args ...any) ([]Order, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id string) (Order, error) {
	return getOne(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *SQLStore) GetByReference(ctx context.Context, reference string) (Order, error) {
	return getOne(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, reference)
}

func (s *SQLStore) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return listOrders(ctx, s.db, q, userID, limit)
}

func (s *SQLStore) ListStaleCheckouts(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE payment_method = 'gateway' AND status = 'processing'
  AND fulfillment_claimed_at IS NULL AND created_at < $1
ORDER BY created_at
LIMIT $2`
	return listOrders(ctx, s.db, q, createdBefore, limit)
}

func (s *SQLStore) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE status = 'processing' AND fulfillment_claimed_at < $1
ORDER BY fulfillment_claimed_at
LIMIT $2`
	return listOrders(ctx, s.db, q, claimedBefore, limit)
}

func (s *SQLStore) ListUnrefunded(ctx context.Context, limit int) ([]Order, error) {
	q := `SELECT ` + orderColumns + `
FROM orders
WHERE status = 'failed' AND paid_from_wallet AND refunded_at IS NULL
ORDER BY updated_at
LIMIT $1`
	return listOrders(ctx, s.db, q, limit)
}

func (s *SQLStore) ListBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`
	return listOrders(ctx, s.db, q, from, to)
}

type sqlTx struct {
	tx     *sql.Tx
	ledger *wallet.SQLLedger
}

func (t *sqlTx) Ledger() wallet.Ledger { return t.ledger }

func (t *sqlTx) Get(ctx context.Context, id string) (Order, error) {
	return getOne(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *sqlTx) Insert(ctx context.Context, o Order) error {
	const q = `
INSERT INTO orders (
  id, user_id, network, bundle_id, capacity, bundle_price, phone_number, amount,
  payment_method, paid_from_wallet, payment_reference, payer_email, status, retry_of,
  created_at, updated_at
) VALUES (
  $1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11,''), NULLIF($12,''), $13,
  NULLIF($14,'')::uuid, $15, $16
)
`
	_, err := t.tx.ExecContext(ctx, q,
		o.ID,
		o.UserID,
		o.Network,
		o.BundleID,
		o.Capacity,
		o.BundlePrice,
		o.Phone,
		o.Amount,
		o.PaymentMethod,
		o.PaidFromWallet,
		o.PaymentReference,
		o.PayerEmail,
		o.Status,
		o.RetryOf,
		o.CreatedAt,
		o.UpdatedAt,
	)
	return err
}

// Update never touches amount, bundle or identity columns.
func (t *sqlTx) Update(ctx context.Context, o Order, from Status) (bool, error) {
	const q = `
UPDATE orders SET
  status = $3,
  paid_from_wallet = $4,
  wallet_balance_before = $5,
  wallet_balance_after = $6,
  payment_reference = NULLIF($7,''),
  authorization_url = NULLIF($8,''),
  fulfillment_claimed_at = $9,
  purchase_id = NULLIF($10,''),
  transaction_reference = NULLIF($11,''),
  remaining_balance = $12,
  api_response = NULLIF($13,''),
  failure_reason = NULLIF($14,''),
  refund_amount = $15,
  refunded_at = $16,
  updated_at = $17
WHERE id = $1 AND status = $2
`
	res, err := t.tx.ExecContext(ctx, q,
		o.ID,
		from,
		o.Status,
		o.PaidFromWallet,
		o.WalletBalanceBefore,
		o.WalletBalanceAfter,
		o.PaymentReference,
		o.AuthorizationURL,
		o.FulfillmentClaimedAt,
		o.ProviderPurchaseID,
		o.ProviderReference,
		o.ProviderRemainingBalance,
		o.ProviderResponse,
		o.FailureReason,
		o.RefundAmount,
		o.RefundedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *sqlTx) ClaimFulfillment(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
UPDATE orders SET fulfillment_claimed_at = $2, updated_at = $2
WHERE id = $1 AND status = 'processing' AND fulfillment_claimed_at IS NULL
`
	res, err := t.tx.ExecContext(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *sqlTx) DeletePending(ctx context.Context, id string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *sqlTx) Enqueue(ctx context.Context, m events.Message) error {
	return events.Insert(ctx, t.tx, m)
}
