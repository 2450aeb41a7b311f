package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bundle-platform/pkg/utils"

	"github.com/shopspring/decimal"
)

// Store owns wallet persistence. InTx runs fn inside one database transaction;
// every Ledger call made through fn commits or rolls back together.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error

	GetWallet(ctx context.Context, userID string) (Wallet, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (Transaction, error)
	ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

// NOTE: This repository assumes the following tables exist:
// - wallets (one row per user, CHECK balance >= 0)
// - wallet_transactions (append-only, UNIQUE payment_reference)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, NewSQLLedger(tx))
	})
}

const walletColumns = `user_id, balance, total_deposited, total_spent, total_refunded, created_at, updated_at`

func (s *SQLStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	var w Wallet
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&w.UserID,
		&w.Balance,
		&w.TotalDeposited,
		&w.TotalSpent,
		&w.TotalRefunded,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

const transactionColumns = `id, user_id, type, amount, balance_before, balance_after,
       COALESCE(order_id::text, ''), status, COALESCE(payment_reference, ''),
       COALESCE(payment_method, ''), description, COALESCE(metadata::text, ''),
       created_at, updated_at`

func scanTransaction(row interface{ Scan(dest ...any) error }) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Type,
		&t.Amount,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.OrderID,
		&t.Status,
		&t.PaymentReference,
		&t.PaymentMethod,
		&t.Description,
		&t.Metadata,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func queryTransactions(ctx context.Context, db utils.DBTX, q string, args ...any) ([]Transaction, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := `SELECT ` + transactionColumns + `
FROM wallet_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`
	return queryTransactions(ctx, s.db, q, userID, limit)
}

func (s *SQLStore) ListTransactionsBetween(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	q := `SELECT ` + transactionColumns + `
FROM wallet_transactions
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at`
	return queryTransactions(ctx, s.db, q, from, to)
}

func (s *SQLStore) GetTransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	return getTransactionByReference(ctx, s.db, reference)
}

func getTransactionByReference(ctx context.Context, db utils.DBTX, reference string) (Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE payment_reference = $1`
	t, err := scanTransaction(db.QueryRowContext(ctx, q, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

// SQLLedger implements Ledger on top of an open transaction (or any DBTX).
// Each mutation is a single UPDATE ... RETURNING against the wallet row, so
// concurrent writers serialize on the row lock.
type SQLLedger struct {
	tx utils.DBTX
}

func NewSQLLedger(tx utils.DBTX) *SQLLedger {
	return &SQLLedger{tx: tx}
}

func (l *SQLLedger) ensureWallet(ctx context.Context, userID string) error {
	const q = `
INSERT INTO wallets (user_id, balance, total_deposited, total_spent, total_refunded, created_at, updated_at)
VALUES ($1, 0, 0, 0, 0, now(), now())
ON CONFLICT (user_id) DO NOTHING
`
	_, err := l.tx.ExecContext(ctx, q, userID)
	return err
}

func (l *SQLLedger) credit(ctx context.Context, q, userID string, amount decimal.Decimal) (Mutation, error) {
	if err := validateAmount(amount); err != nil {
		return Mutation{}, err
	}
	if err := l.ensureWallet(ctx, userID); err != nil {
		return Mutation{}, err
	}
	var after decimal.Decimal
	if err := l.tx.QueryRowContext(ctx, q, userID, amount).Scan(&after); err != nil {
		return Mutation{}, err
	}
	return Mutation{Before: after.Sub(amount), After: after}, nil
}

func (l *SQLLedger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error) {
	const q = `
UPDATE wallets
SET balance = balance + $2, total_deposited = total_deposited + $2, updated_at = now()
WHERE user_id = $1
RETURNING balance
`
	return l.credit(ctx, q, userID, amount)
}

func (l *SQLLedger) Refund(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error) {
	const q = `
UPDATE wallets
SET balance = balance + $2, total_refunded = total_refunded + $2, updated_at = now()
WHERE user_id = $1
RETURNING balance
`
	return l.credit(ctx, q, userID, amount)
}

func (l *SQLLedger) Deduct(ctx context.Context, userID string, amount decimal.Decimal) (Mutation, error) {
	if err := validateAmount(amount); err != nil {
		return Mutation{}, err
	}
	// The balance check and the mutation are the same statement.
	const q = `
UPDATE wallets
SET balance = balance - $2, total_spent = total_spent + $2, updated_at = now()
WHERE user_id = $1 AND balance >= $2
RETURNING balance
`
	var after decimal.Decimal
	if err := l.tx.QueryRowContext(ctx, q, userID, amount).Scan(&after); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Mutation{}, ErrInsufficientBalance
		}
		return Mutation{}, err
	}
	return Mutation{Before: after.Add(amount), After: after}, nil
}

func (l *SQLLedger) InsertTransaction(ctx context.Context, t Transaction) error {
	const q = `
INSERT INTO wallet_transactions (
  id, user_id, type, amount, balance_before, balance_after, order_id, status,
  payment_reference, payment_method, description, metadata, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,NULLIF($7,'')::uuid,$8,NULLIF($9,''),NULLIF($10,''),$11,NULLIF($12,'')::jsonb,$13,$14
)
`
	_, err := l.tx.ExecContext(ctx, q,
		t.ID,
		t.UserID,
		t.Type,
		t.Amount,
		t.BalanceBefore,
		t.BalanceAfter,
		t.OrderID,
		t.Status,
		t.PaymentReference,
		t.PaymentMethod,
		t.Description,
		t.Metadata,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrDuplicateReference
	}
	return err
}

func (l *SQLLedger) CompleteTransaction(ctx context.Context, id string, m Mutation, now time.Time) (bool, error) {
	const q = `
UPDATE wallet_transactions
SET status = 'completed', balance_before = $2, balance_after = $3, updated_at = $4
WHERE id = $1 AND status = 'pending'
`
	return execAffected(ctx, l.tx, q, id, m.Before, m.After, now)
}

func (l *SQLLedger) FailTransaction(ctx context.Context, id string, now time.Time) (bool, error) {
	const q = `
UPDATE wallet_transactions
SET status = 'failed', updated_at = $2
WHERE id = $1 AND status = 'pending'
`
	return execAffected(ctx, l.tx, q, id, now)
}

func (l *SQLLedger) GetTransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	return getTransactionByReference(ctx, l.tx, reference)
}

func execAffected(ctx context.Context, db utils.DBTX, q string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
