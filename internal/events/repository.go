package events

import (
	"context"
	"database/sql"
	"time"

	"bundle-platform/pkg/utils"
)

// Repository is the relay's view of the outbox.
type Repository interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	// MarkRetry bumps the retry count and marks the row failed when failed is true.
	MarkRetry(ctx context.Context, id string, failed bool, now time.Time) error
}

// Insert writes m using db, which is normally the caller's open transaction.
func Insert(ctx context.Context, db utils.DBTX, m Message) error {
	const q = `
INSERT INTO outbox_messages (id, topic, message_key, payload, status, retry_count, created_at, updated_at)
VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8)
`
	_, err := db.ExecContext(ctx, q, m.ID, m.Topic, m.Key, m.Payload, m.Status, m.RetryCount, m.CreatedAt, m.UpdatedAt)
	return err
}

type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Pending(ctx context.Context, limit int) ([]Message, error) {
	const q = `
SELECT id, topic, message_key, payload::text, status, retry_count, created_at, updated_at
FROM outbox_messages
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &m.Status, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLRepo) MarkSent(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE outbox_messages SET status = 'sent', updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, now)
	return err
}

func (r *SQLRepo) MarkRetry(ctx context.Context, id string, failed bool, now time.Time) error {
	const q = `
UPDATE outbox_messages
SET retry_count = retry_count + 1,
    status = CASE WHEN $2 THEN 'failed' ELSE status END,
    updated_at = $3
WHERE id = $1
`
	_, err := r.db.ExecContext(ctx, q, id, failed, now)
	return err
}
