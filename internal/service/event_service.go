package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/repository"
)

// EventService manages the event catalog. Listings carry derived
// availability: remaining capacity is computed from the owned-ticket count on
// every read so refunds free capacity with no stored counter to drift.
type EventService struct {
	eventRepo         repository.EventRepository
	waitlist          repository.WaitlistRepository
	logger            *zap.Logger
	almostSoldOutFrac float64
}

// EventDependencies bundles collaborators for the event service.
type EventDependencies struct {
	EventRepo    repository.EventRepository
	WaitlistRepo repository.WaitlistRepository
	Logger       *zap.Logger
	// AlmostSoldOutRatio marks an event "almost sold out" when remaining
	// capacity is at or below this fraction of total capacity.
	AlmostSoldOutRatio float64
}

// EventView is an event plus its derived availability.
type EventView struct {
	domain.Event
	AvailableTickets int
	AlmostSoldOut    bool
}

// EventInput carries organizer-supplied event fields.
type EventInput struct {
	Title           string
	StartsAt        time.Time
	Price           int64
	Location        string
	Description     string
	ImageURL        string
	TotalTickets    int
	ContractAddress string
}

// EventUpdateInput carries optional field updates; nil leaves a field as is.
type EventUpdateInput struct {
	Title        *string
	StartsAt     *time.Time
	Price        *int64
	Location     *string
	Description  *string
	ImageURL     *string
	TotalTickets *int
}

// NewEventService constructs the service.
func NewEventService(deps EventDependencies) *EventService {
	ratio := deps.AlmostSoldOutRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.10
	}
	return &EventService{
		eventRepo:         deps.EventRepo,
		waitlist:          deps.WaitlistRepo,
		logger:            deps.Logger,
		almostSoldOutFrac: ratio,
	}
}

// Create registers a new event.
func (s *EventService) Create(ctx context.Context, input EventInput) (*EventView, error) {
	event := &domain.Event{
		Title:           input.Title,
		StartsAt:        input.StartsAt,
		Price:           input.Price,
		Location:        input.Location,
		Description:     input.Description,
		ImageURL:        input.ImageURL,
		TotalTickets:    input.TotalTickets,
		ContractAddress: input.ContractAddress,
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, err
	}
	s.logger.Info("event created", zap.String("event_id", event.ID), zap.String("title", event.Title))
	return s.view(event, 0), nil
}

// Get returns a single event with availability.
func (s *EventService) Get(ctx context.Context, id string) (*EventView, error) {
	event, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	owned, err := s.eventRepo.CountOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(event, owned), nil
}

// List returns all events with availability.
func (s *EventService) List(ctx context.Context) ([]EventView, error) {
	all, err := s.eventRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]EventView, 0, len(all))
	for i := range all {
		owned, err := s.eventRepo.CountOwned(ctx, all[i].ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *s.view(&all[i], owned))
	}
	return views, nil
}

// Update applies the provided fields to an existing event.
func (s *EventService) Update(ctx context.Context, id string, input EventUpdateInput) (*EventView, error) {
	event, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Title != nil {
		event.Title = *input.Title
	}
	if input.StartsAt != nil {
		event.StartsAt = *input.StartsAt
	}
	if input.Price != nil {
		event.Price = *input.Price
	}
	if input.Location != nil {
		event.Location = *input.Location
	}
	if input.Description != nil {
		event.Description = *input.Description
	}
	if input.ImageURL != nil {
		event.ImageURL = *input.ImageURL
	}
	if input.TotalTickets != nil {
		event.TotalTickets = *input.TotalTickets
	}
	if err := s.eventRepo.Update(ctx, event); err != nil {
		return nil, err
	}
	owned, err := s.eventRepo.CountOwned(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(event, owned), nil
}

// Delete removes an event. Events with live tickets or an active waitlist
// cannot be deleted; they represent obligations to holders.
func (s *EventService) Delete(ctx context.Context, id string) error {
	if _, err := s.eventRepo.GetByID(ctx, id); err != nil {
		return err
	}
	owned, err := s.eventRepo.CountOwned(ctx, id)
	if err != nil {
		return err
	}
	if owned > 0 {
		return domain.ErrEventHasTickets
	}
	waiting, err := s.waitlist.CountWaiting(ctx, id)
	if err != nil {
		return err
	}
	if waiting > 0 {
		return domain.ErrEventHasWaitlist
	}
	return s.eventRepo.Delete(ctx, id)
}

func (s *EventService) view(event *domain.Event, owned int) *EventView {
	available := event.TotalTickets - owned
	if available < 0 {
		available = 0
	}
	threshold := int(math.Ceil(float64(event.TotalTickets) * s.almostSoldOutFrac))
	return &EventView{
		Event:            *event,
		AvailableTickets: available,
		AlmostSoldOut:    available > 0 && available <= threshold,
	}
}
