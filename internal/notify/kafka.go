package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// producer is the slice of *kgo.Client the Kafka sink uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Kafka publishes notifications to one topic, keyed by Notification.Key so that all changes to an
// event land on the same partition in order.
type Kafka struct {
	client producer
	clock  clock.Clock
	logger *zap.Logger
}

func NewKafka(ctx context.Context, cfg KafkaConfig, clk clock.Clock, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}
	return newKafka(client, clk, logger), nil
}

func newKafka(client producer, clk clock.Clock, logger *zap.Logger) *Kafka {
	return &Kafka{client: client, clock: clk, logger: logger.Named("notify.kafka")}
}

func (k *Kafka) Notify(ctx context.Context, n domain.Notification) {
	env, err := newEnvelope(n, k.clock.Now())
	if err != nil {
		k.logger.Error("encode notification", zap.Error(err))
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		k.logger.Error("encode envelope", zap.String("kind", env.Kind), zap.Error(err))
		return
	}

	record := &kgo.Record{
		Key:   []byte(env.Key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "id", Value: []byte(env.ID)},
			{Key: "kind", Value: []byte(env.Kind)},
		},
		Timestamp: env.OccurredAt,
	}
	// The request context may be cancelled as soon as the handler returns.
	k.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("produce notification",
				zap.String("kind", env.Kind),
				zap.String("id", env.ID),
				zap.Error(err),
			)
		}
	})
}

// Close flushes buffered records and closes the client.
func (k *Kafka) Close(ctx context.Context) error {
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}
