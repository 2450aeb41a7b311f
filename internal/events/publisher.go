package events

import (
	"context"
	"errors"

	"bundle-platform/internal/config"

	"github.com/IBM/sarama"
)

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// KafkaPublisher publishes through a sarama SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewSaramaConfig returns the producer settings used for outbox delivery.
func NewSaramaConfig(clientID string) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = clientID
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true
	return c
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: no kafka brokers configured")
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg.ClientID))
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{producer: p}, nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
