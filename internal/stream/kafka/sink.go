// Package kafka exports dispatch events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Envelope wraps every exported record.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// Config holds producer settings.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Sink writes dispatch events to Kafka through a SyncProducer, keyed by
// signal hash so one signal's events stay on one partition in order.
type Sink struct {
	topic string
	p     sarama.SyncProducer
}

// NewSink dials the brokers with an idempotent, all-acks producer.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers")
	}

	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Version = sarama.V2_1_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 200 * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return NewSinkWithProducer(p, cfg.Topic), nil
}

// NewSinkWithProducer wraps an existing producer.
func NewSinkWithProducer(p sarama.SyncProducer, topic string) *Sink {
	return &Sink{topic: topic, p: p}
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

// Emit publishes ev wrapped in an Envelope whose type is the event kind.
func (s *Sink) Emit(ctx context.Context, ev domain.DispatchEvent) error {
	// SyncProducer has no context support; honour cancellation up front.
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	b, err := json.Marshal(Envelope{
		Type: string(ev.Kind),
		TS:   ev.At.UnixMilli(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("kafka: marshal envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.SignalHash.Hex()),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: emit %s: %w", ev.Kind, err)
	}
	return nil
}
