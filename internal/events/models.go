package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is an outbox row. It is written in the same database transaction
// as the state change it announces and relayed to Kafka afterwards.
type Message struct {
	ID         string    `json:"id" db:"id"`
	Topic      string    `json:"topic" db:"topic"`
	Key        string    `json:"key" db:"message_key"`
	Payload    string    `json:"payload" db:"payload"`
	Status     Status    `json:"status" db:"status"`
	RetryCount int       `json:"retry_count" db:"retry_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// OrderEvent is the payload published for every terminal order transition.
type OrderEvent struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	FailureReason string          `json:"failure_reason,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewOrderMessage builds a pending outbox message keyed by order id so all
// events of one order land on the same partition.
func NewOrderMessage(topic string, ev OrderEvent) (Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       ev.OrderID,
		Payload:   string(b),
		Status:    StatusPending,
		CreatedAt: ev.OccurredAt,
		UpdatedAt: ev.OccurredAt,
	}, nil
}
