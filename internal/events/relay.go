package events

import (
	"context"
	"time"

	"bundle-platform/internal/metrics"
	"bundle-platform/pkg/logger"
)

// Relay moves pending outbox messages to the publisher.
type Relay struct {
	repo       Repository
	pub        Publisher
	interval   time.Duration
	batchSize  int
	maxRetries int
	clock      func() time.Time
}

func NewRelay(repo Repository, pub Publisher, interval time.Duration, batchSize, maxRetries int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &Relay{repo: repo, pub: pub, interval: interval, batchSize: batchSize, maxRetries: maxRetries, clock: time.Now}
}

// Start runs until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	log := logger.From(ctx).With("job", "outbox_relay")
	log.Info("outbox relay started", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.Error("outbox poll failed", "err", err)
			}
		}
	}
}

// RunOnce publishes one batch and returns how many messages were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	msgs, err := r.repo.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		if r.send(ctx, m) {
			sent++
		}
	}
	return sent, nil
}

func (r *Relay) send(ctx context.Context, m Message) bool {
	log := logger.From(ctx)
	err := r.pub.Publish(ctx, m.Topic, m.Key, []byte(m.Payload))
	now := r.clock().UTC()
	if err == nil {
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if uerr := r.repo.MarkSent(ctx, m.ID, now); uerr != nil {
			log.Error("outbox mark sent failed", "message_id", m.ID, "err", uerr)
		}
		return true
	}

	failed := m.RetryCount+1 >= r.maxRetries
	outcome := "retry"
	if failed {
		outcome = "failed"
	}
	metrics.OutboxPublished.WithLabelValues(outcome).Inc()
	log.Warn("outbox publish failed", "message_id", m.ID, "topic", m.Topic, "retry_count", m.RetryCount+1, "gave_up", failed, "err", err)
	if uerr := r.repo.MarkRetry(ctx, m.ID, failed, now); uerr != nil {
		log.Error("outbox mark retry failed", "message_id", m.ID, "err", uerr)
	}
	return false
}
