package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

const defaultStreamMaxLen = 100_000

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends notifications to a capped Redis stream.
type RedisStream struct {
	client streamAdder
	stream string
	maxLen int64
	clock  clock.Clock
	logger *zap.Logger
}

func NewRedisStream(client streamAdder, stream string, clk clock.Clock, logger *zap.Logger) *RedisStream {
	return &RedisStream{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
		clock:  clk,
		logger: logger.Named("notify.redis"),
	}
}

func (s *RedisStream) Notify(ctx context.Context, n domain.Notification) {
	env, err := newEnvelope(n, s.clock.Now())
	if err != nil {
		s.logger.Error("encode notification", zap.Error(err))
		return
	}

	err = s.client.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          env.ID,
			"kind":        env.Kind,
			"key":         env.Key,
			"occurred_at": env.OccurredAt.Format(time.RFC3339Nano),
			"payload":     string(env.Payload),
		},
	}).Err()
	if err != nil {
		s.logger.Error("append notification",
			zap.String("stream", s.stream),
			zap.String("kind", env.Kind),
			zap.Error(err),
		)
	}
}
