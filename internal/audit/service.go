package audit

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"bundle-platform/internal/metrics"
	"bundle-platform/pkg/logger"

	"github.com/oklog/ulid/v2"
)

// Repository is the persistence contract for transaction logs.
//
// It MUST be append-only. Append assigns the next attempt number for the
// log's order and returns the stored row.
type Repository interface {
	Append(ctx context.Context, l TransactionLog) (TransactionLog, error)
	ListByOrder(ctx context.Context, orderID string) ([]TransactionLog, error)
}

// Service records outbound calls.
//
// IMPORTANT:
// - Record never fails the caller; write errors are logged and counted.
// - Audit writes happen outside the business transaction.
type Service struct {
	repo  Repository
	clock func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:    repo,
		clock:   time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

// newID returns a ULID; ids sort by creation time and are monotonic within
// a millisecond.
func (s *Service) newID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// Append stores e and returns the row or an error. Most callers want Record.
func (s *Service) Append(ctx context.Context, e Entry) (TransactionLog, error) {
	if s.repo == nil {
		return TransactionLog{}, errors.New("audit: repository not configured")
	}
	if (e.OrderID == "" && e.Reference == "") || e.Endpoint == "" {
		return TransactionLog{}, ErrInvalidEntry
	}

	now := s.clock().UTC()
	return s.repo.Append(ctx, TransactionLog{
		ID:              s.newID(now),
		OrderID:         e.OrderID,
		Reference:       e.Reference,
		Endpoint:        e.Endpoint,
		Method:          e.Method,
		RequestPayload:  e.RequestPayload,
		RequestHeaders:  e.RequestHeaders,
		ResponsePayload: e.ResponsePayload,
		StatusCode:      e.StatusCode,
		LatencyMS:       e.Latency.Milliseconds(),
		ErrorMessage:    e.ErrorMessage,
		CreatedAt:       now,
	})
}

// Record is the best-effort form of Append.
func (s *Service) Record(ctx context.Context, e Entry) {
	if _, err := s.Append(ctx, e); err != nil {
		metrics.AuditWriteFailures.Inc()
		logger.From(ctx).Error("audit write failed",
			"order_id", e.OrderID,
			"reference", e.Reference,
			"endpoint", e.Endpoint,
			"err", err,
		)
	}
}

// ListByOrder returns the order's attempts, oldest first.
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]TransactionLog, error) {
	if orderID == "" {
		return nil, ErrInvalidEntry
	}
	return s.repo.ListByOrder(ctx, orderID)
}
