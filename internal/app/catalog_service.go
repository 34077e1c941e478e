package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/domain"
)

type CatalogRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	NextEventID(ctx context.Context) (int64, error)
	InsertEvent(ctx context.Context, event domain.Event) error
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	GetEventForUpdate(ctx context.Context, id int64) (domain.Event, error)
	SetEventActive(ctx context.Context, id int64, active bool) error
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

// CatalogService owns events: creation, activation and lookup.
type CatalogService struct {
	repo   CatalogRepository
	clock  clock.Clock
	policy auth.Policy
	obs    observers
}

func NewCatalogService(repo CatalogRepository, clk clock.Clock, policy auth.Policy, opts ...Option) *CatalogService {
	obs := defaultObservers()
	for _, opt := range opts {
		opt(&obs)
	}
	return &CatalogService{
		repo:   repo,
		clock:  clk,
		policy: policy,
		obs:    obs,
	}
}

type CreateEventInput struct {
	Name       string
	Price      int64
	MaxTickets int
	StartsAt   time.Time
}

func (s *CatalogService) CreateEvent(ctx context.Context, caller auth.Principal, in CreateEventInput) (event domain.Event, err error) {
	const op = "catalog.CreateEvent"
	ctx, span := s.obs.start(ctx, op)
	defer func() { s.obs.finish(span, op, err) }()

	if err := s.policy.Authorize(caller, auth.ActionManageEvents); err != nil {
		return domain.Event{}, err
	}

	event, err = domain.NewEvent(in.Name, in.Price, in.MaxTickets, in.StartsAt, s.clock.Now())
	if err != nil {
		return domain.Event{}, err
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		id, err := s.repo.NextEventID(txCtx)
		if err != nil {
			return err
		}
		event.ID = id
		return s.repo.InsertEvent(txCtx, event)
	})
	if err != nil {
		return domain.Event{}, err
	}

	span.SetAttributes(attribute.Int64("ledger.event_id", event.ID))
	s.obs.recorder.EventCreated()
	s.obs.publish(ctx, []domain.Notification{domain.EventCreated{
		EventID:    event.ID,
		Name:       event.Name,
		Price:      event.Price,
		MaxTickets: event.MaxTickets,
		StartsAt:   event.StartsAt,
	}})
	return event, nil
}

// ToggleActive flips the event's active flag and returns the updated event.
func (s *CatalogService) ToggleActive(ctx context.Context, caller auth.Principal, eventID int64) (event domain.Event, err error) {
	const op = "catalog.ToggleActive"
	ctx, span := s.obs.start(ctx, op, attribute.Int64("ledger.event_id", eventID))
	defer func() { s.obs.finish(span, op, err) }()

	if err := s.policy.Authorize(caller, auth.ActionManageEvents); err != nil {
		return domain.Event{}, err
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetEventForUpdate(txCtx, eventID)
		if err != nil {
			return err
		}
		current.Active = !current.Active
		if err := s.repo.SetEventActive(txCtx, eventID, current.Active); err != nil {
			return err
		}
		event = current
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	s.obs.publish(ctx, []domain.Notification{domain.EventActivityChanged{
		EventID: event.ID,
		Active:  event.Active,
	}})
	return event, nil
}

func (s *CatalogService) GetEvent(ctx context.Context, eventID int64) (domain.Event, error) {
	return s.repo.GetEvent(ctx, eventID)
}

func (s *CatalogService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx)
}
