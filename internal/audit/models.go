package audit

import "time"

// TransactionLog is one outbound call attempt tied to an order (or, for wallet
// top-ups, to a deposit reference).
//
// Invariants:
// - Rows are never updated or deleted.
// - Attempt numbers are strictly increasing per order.
// - Payloads and headers are stored already redacted.
type TransactionLog struct {
	ID        string `json:"id" db:"id"`
	OrderID   string `json:"order_id,omitempty" db:"order_id"`
	Reference string `json:"reference,omitempty" db:"reference"`
	Attempt   int    `json:"attempt" db:"attempt"`

	Endpoint string `json:"endpoint" db:"endpoint"`
	Method   string `json:"method" db:"method"`

	RequestPayload  string `json:"request_payload,omitempty" db:"request_payload"`
	RequestHeaders  string `json:"request_headers,omitempty" db:"request_headers"`
	ResponsePayload string `json:"response_payload,omitempty" db:"response_payload"`

	StatusCode   int    `json:"status_code" db:"status_code"`
	LatencyMS    int64  `json:"latency_ms" db:"latency_ms"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// subject is the key attempts are counted under.
func (l TransactionLog) subject() string {
	if l.OrderID != "" {
		return l.OrderID
	}
	return l.Reference
}

// Entry is what callers hand to Record.
type Entry struct {
	OrderID         string
	Reference       string
	Endpoint        string
	Method          string
	RequestPayload  string
	RequestHeaders  string
	ResponsePayload string
	StatusCode      int
	Latency         time.Duration
	ErrorMessage    string
}
