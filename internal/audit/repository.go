package audit

import (
	"context"
	"database/sql"

	"bundle-platform/pkg/utils"
)

// SQLRepo writes to transaction_logs, which carries UNIQUE (subject, attempt).
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

// Append computes the next attempt in the INSERT itself. Two concurrent writers
// for the same order can pick the same number; the loser retries once.
func (r *SQLRepo) Append(ctx context.Context, l TransactionLog) (TransactionLog, error) {
	const q = `
INSERT INTO transaction_logs (
  id, order_id, reference, subject, attempt, endpoint, method,
  request_payload, request_headers, response_payload, status_code, latency_ms, error_message, created_at
)
SELECT $1, NULLIF($2,'')::uuid, NULLIF($3,''), $4,
       COALESCE((SELECT MAX(attempt) FROM transaction_logs WHERE subject = $4), 0) + 1,
       $5, $6, $7, $8, $9, $10, $11, NULLIF($12,''), $13
RETURNING attempt
`
	var err error
	for i := 0; i < 2; i++ {
		err = r.db.QueryRowContext(ctx, q,
			l.ID,
			l.OrderID,
			l.Reference,
			l.subject(),
			l.Endpoint,
			l.Method,
			l.RequestPayload,
			l.RequestHeaders,
			l.ResponsePayload,
			l.StatusCode,
			l.LatencyMS,
			l.ErrorMessage,
			l.CreatedAt,
		).Scan(&l.Attempt)
		if err == nil || !utils.IsUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return TransactionLog{}, err
	}
	return l, nil
}

func (r *SQLRepo) ListByOrder(ctx context.Context, orderID string) ([]TransactionLog, error) {
	const q = `
SELECT id, COALESCE(order_id::text, ''), COALESCE(reference, ''), attempt, endpoint, method,
       request_payload, request_headers, response_payload, status_code, latency_ms,
       COALESCE(error_message, ''), created_at
FROM transaction_logs
WHERE order_id = $1
ORDER BY attempt
`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionLog
	for rows.Next() {
		var l TransactionLog
		if err := rows.Scan(
			&l.ID,
			&l.OrderID,
			&l.Reference,
			&l.Attempt,
			&l.Endpoint,
			&l.Method,
			&l.RequestPayload,
			&l.RequestHeaders,
			&l.ResponsePayload,
			&l.StatusCode,
			&l.LatencyMS,
			&l.ErrorMessage,
			&l.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
