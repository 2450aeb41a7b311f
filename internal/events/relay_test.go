package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
)

type fakePublisher struct {
	err  error
	sent []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, key)
	return nil
}

func orderMessage(t *testing.T, orderID string) Message {
	t.Helper()
	m, err := NewOrderMessage("bundle.orders", OrderEvent{
		OrderID:    orderID,
		Status:     "successful",
		Amount:     decimal.RequireFromString("25.00"),
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	return m
}

func TestNewOrderMessagePayload(t *testing.T) {
	m := orderMessage(t, "o1")
	if m.Key != "o1" || m.Status != StatusPending {
		t.Fatalf("unexpected message %+v", m)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if ev["order_id"] != "o1" || ev["amount"] != "25" || ev["status"] != "successful" {
		t.Fatalf("unexpected payload %v", ev)
	}
}

func TestRelayMarksSent(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Add(orderMessage(t, "o1"))
	repo.Add(orderMessage(t, "o2"))
	pub := &fakePublisher{}

	n, err := NewRelay(repo, pub, time.Second, 10, 3).RunOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 sent, got %d err=%v", n, err)
	}
	for _, m := range repo.Messages() {
		if m.Status != StatusSent {
			t.Fatalf("expected sent, got %s", m.Status)
		}
	}
	if pending, _ := repo.Pending(context.Background(), 10); len(pending) != 0 {
		t.Fatalf("expected nothing pending")
	}
}

func TestRelayGivesUpAfterMaxRetries(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Add(orderMessage(t, "o1"))
	relay := NewRelay(repo, &fakePublisher{err: errors.New("broker down")}, time.Second, 10, 2)

	for i := 0; i < 2; i++ {
		if _, err := relay.RunOnce(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	m := repo.Messages()[0]
	if m.Status != StatusFailed || m.RetryCount != 2 {
		t.Fatalf("expected failed after 2 retries, got %s/%d", m.Status, m.RetryCount)
	}

	// Failed messages are not picked up again.
	if _, err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if repo.Messages()[0].RetryCount != 2 {
		t.Fatalf("failed message must not be retried")
	}
}

func TestKafkaPublisherSendsKeyedMessage(t *testing.T) {
	cfg := NewSaramaConfig("test")
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"ok":true}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer)
	if err := pub.Publish(context.Background(), "bundle.orders", "o1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(context.Background(), "bundle.orders", "o2", []byte(`{}`)); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
