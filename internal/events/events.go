// Package events publishes quote updates to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"quotehub/internal/provider"
)

// Publisher announces freshly fetched quotes.
type Publisher interface {
	Publish(ctx context.Context, q provider.Quote, fetchedAt time.Time) error
	Close() error
}

// QuoteEvent is the message body written for every fetched quote.
type QuoteEvent struct {
	Type      string         `json:"type"`
	Quote     provider.Quote `json:"quote"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
}

// Kafka publishes QuoteEvents keyed by symbol, so one symbol's updates stay
// in order on one partition.
type Kafka struct {
	w   MessageWriter
	log zerolog.Logger
}

// NewKafka builds an asynchronous writer; delivery failures are logged.
func NewKafka(cfg Config, log zerolog.Logger) *Kafka {
	log = log.With().Str("component", "events").Str("topic", cfg.Topic).Logger()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("messages", len(messages)).Msg("kafka delivery failed")
			}
		},
	}
	log.Info().Strs("brokers", cfg.Brokers).Msg("kafka publisher created")
	return NewKafkaWithWriter(w, log)
}

func NewKafkaWithWriter(w MessageWriter, log zerolog.Logger) *Kafka {
	return &Kafka{w: w, log: log}
}

func (k *Kafka) Publish(ctx context.Context, q provider.Quote, fetchedAt time.Time) error {
	data, err := json.Marshal(QuoteEvent{Type: "quote", Quote: q, FetchedAt: fetchedAt})
	if err != nil {
		return fmt.Errorf("marshal quote event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(q.Symbol),
		Value: data,
		Time:  fetchedAt,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", q.Symbol, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, provider.Quote, time.Time) error { return nil }
func (Noop) Close() error { return nil }
