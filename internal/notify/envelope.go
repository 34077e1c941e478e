// Package notify delivers ledger notifications to external consumers: the process log, a Kafka topic
// or a Redis stream. Every sink is fire-and-forget; failures are logged and never reach the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-ledger/internal/app"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

// Envelope is the wire form shared by every sink.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func newEnvelope(n domain.Notification, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", n.Kind(), err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       n.Kind(),
		Key:        n.Key(),
		OccurredAt: now.UTC(),
		Payload:    payload,
	}, nil
}

// FanOut forwards each notification to every sink in order.
type FanOut []app.Notifier

func (f FanOut) Notify(ctx context.Context, n domain.Notification) {
	for _, sink := range f {
		sink.Notify(ctx, n)
	}
}

// Log writes notifications to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(_ context.Context, n domain.Notification) {
	l.logger.Info("notification",
		zap.String("kind", n.Kind()),
		zap.String("key", n.Key()),
		zap.Any("payload", n),
	)
}
