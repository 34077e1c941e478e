package app

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

const tracerName = "github.com/cimillas/ticket-ledger/internal/app"

// Notifier receives notifications after the state change that produced them has committed.
// Delivery is fire-and-forget: implementations report their own failures.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Recorder observes operation outcomes, typically to export metrics.
type Recorder interface {
	EventCreated()
	TicketsPurchased(eventID int64, quantity int)
	TicketRedeemed(eventID int64)
	TicketTransferred()
	Rejected(op string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notification) {}

type nopRecorder struct{}

func (nopRecorder) EventCreated()               {}
func (nopRecorder) TicketsPurchased(int64, int) {}
func (nopRecorder) TicketRedeemed(int64)        {}
func (nopRecorder) TicketTransferred()          {}
func (nopRecorder) Rejected(string, error)      {}

type observers struct {
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
}

func defaultObservers() observers {
	return observers{
		notifier: nopNotifier{},
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
}

// Option configures a CatalogService or LedgerService.
type Option func(*observers)

func WithNotifier(n Notifier) Option {
	return func(o *observers) {
		if n != nil {
			o.notifier = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *observers) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *observers) {
		if l != nil {
			o.logger = l
		}
	}
}

func (o observers) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// finish closes the span and reports the outcome of op.
func (o observers) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	if domain.IsRejection(err) {
		o.recorder.Rejected(op, err)
		span.SetAttributes(attribute.String("ledger.rejection", domain.Reason(err)))
		o.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
}

func (o observers) publish(ctx context.Context, pending []domain.Notification) {
	for _, n := range pending {
		o.notifier.Notify(ctx, n)
	}
}
