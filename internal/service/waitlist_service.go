package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/events"
	"github.com/ticketguard/ticketing/internal/observability"
	"github.com/ticketguard/ticketing/internal/repository"
)

// Purchaser issues a ticket for a user. The waitlist lottery goes through the
// same purchase path as a direct buyer so that capacity and minting rules are
// enforced identically.
type Purchaser interface {
	Purchase(ctx context.Context, userID, eventID string) (PurchaseResult, error)
}

// WaitlistService manages the per-event FIFO waitlist and runs the
// re-lottery that hands freed capacity to the head of the queue.
type WaitlistService struct {
	entries    repository.WaitlistRepository
	eventRepo  repository.EventRepository
	tickets    repository.TicketRepository
	purchaser  Purchaser
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// WaitlistDependencies bundles collaborators for the waitlist service.
type WaitlistDependencies struct {
	WaitlistRepo repository.WaitlistRepository
	EventRepo    repository.EventRepository
	TicketRepo   repository.TicketRepository
	Purchaser    Purchaser
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// WaitlistStatus describes a user's place on an event waitlist.
type WaitlistStatus struct {
	Entry    *domain.WaitlistEntry
	Position int
}

// NewWaitlistService constructs the service.
func NewWaitlistService(deps WaitlistDependencies) *WaitlistService {
	return &WaitlistService{
		entries:    deps.WaitlistRepo,
		eventRepo:  deps.EventRepo,
		tickets:    deps.TicketRepo,
		purchaser:  deps.Purchaser,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
	}
}

// Join puts the user on the event's waitlist and returns their position,
// counted from 1 at the head of the queue.
func (s *WaitlistService) Join(ctx context.Context, userID, eventID string) (WaitlistStatus, error) {
	if _, err := s.eventRepo.GetByID(ctx, eventID); err != nil {
		return WaitlistStatus{}, err
	}

	owns, err := s.tickets.OwnsForEvent(ctx, userID, eventID)
	if err != nil {
		return WaitlistStatus{}, err
	}
	if owns {
		return WaitlistStatus{}, domain.ErrAlreadyOwns
	}

	existing, err := s.entries.GetByUserAndEvent(ctx, userID, eventID)
	if err != nil && !errors.Is(err, domain.ErrWaitlistNotFound) {
		return WaitlistStatus{}, err
	}
	if existing != nil && existing.Status == domain.WaitlistStatusWaiting {
		return WaitlistStatus{}, domain.ErrAlreadyWaiting
	}

	entry, err := s.entries.UpsertWaiting(ctx, userID, eventID)
	if err != nil {
		return WaitlistStatus{}, err
	}
	position, err := s.entries.Position(ctx, entry)
	if err != nil {
		return WaitlistStatus{}, err
	}

	s.publish(ctx, events.Event{
		Type:    events.EventWaitlistJoined,
		EventID: eventID,
		UserID:  userID,
		Payload: events.WaitlistJoinedPayload{EntryID: entry.ID, Position: position},
	})
	return WaitlistStatus{Entry: entry, Position: position}, nil
}

// Leave cancels the user's waiting entry for the event.
func (s *WaitlistService) Leave(ctx context.Context, userID, eventID string) error {
	return s.entries.Cancel(ctx, userID, eventID)
}

// MyStatus reports the user's waitlist standing for an event. A user with no
// active entry gets a zero status, not an error.
func (s *WaitlistService) MyStatus(ctx context.Context, userID, eventID string) (WaitlistStatus, error) {
	entry, err := s.entries.GetByUserAndEvent(ctx, userID, eventID)
	if errors.Is(err, domain.ErrWaitlistNotFound) {
		return WaitlistStatus{}, nil
	}
	if err != nil {
		return WaitlistStatus{}, err
	}
	if entry.Status != domain.WaitlistStatusWaiting {
		return WaitlistStatus{Entry: entry}, nil
	}
	position, err := s.entries.Position(ctx, entry)
	if err != nil {
		return WaitlistStatus{}, err
	}
	return WaitlistStatus{Entry: entry, Position: position}, nil
}

// EventWaitlist lists the active queue for an event in FIFO order.
func (s *WaitlistService) EventWaitlist(ctx context.Context, eventID string) ([]domain.WaitlistEntry, error) {
	if _, err := s.eventRepo.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.entries.ListWaiting(ctx, eventID)
}

// ProcessLottery offers freed capacity to the head of the event's waitlist.
// It makes exactly one attempt: if the head's purchase fails the queue does
// not advance, so the head keeps their position for the next run. Returns
// true only when a ticket was issued to a waiting user.
func (s *WaitlistService) ProcessLottery(ctx context.Context, eventID string) (bool, error) {
	waiting, err := s.entries.ListWaiting(ctx, eventID)
	if err != nil {
		return false, err
	}
	if len(waiting) == 0 {
		observability.LotteryRunsTotal.WithLabelValues("empty").Inc()
		return false, nil
	}

	head := waiting[0]
	result, err := s.purchaser.Purchase(ctx, head.UserID, eventID)
	if err != nil {
		observability.LotteryRunsTotal.WithLabelValues("failed").Inc()
		s.publish(ctx, events.Event{
			Type:    events.EventLotteryFailed,
			EventID: eventID,
			UserID:  head.UserID,
			Payload: events.LotteryFailedPayload{EntryID: head.ID, Reason: err.Error()},
		})
		return false, fmt.Errorf("waitlist purchase for entry %s: %w", head.ID, err)
	}

	if result.Reconciling {
		// The mint outcome is unconfirmed and no local ticket exists yet. The
		// entry stays WAITING so an unconfirmed mint can never cost the user
		// their place; reconciliation fulfills it once the ticket is recorded.
		observability.LotteryRunsTotal.WithLabelValues("pending").Inc()
		s.logger.Warn("lottery purchase pending reconciliation; entry left waiting",
			zap.String("entry_id", head.ID), zap.String("event_id", eventID))
		return false, nil
	}

	fulfilled, err := s.entries.MarkFulfilledIfWaiting(ctx, head.ID)
	if err != nil {
		return true, err
	}
	if !fulfilled {
		// The user left the queue between the listing and the purchase. The
		// token is already theirs; only the entry state is surprising.
		s.logger.Warn("lottery winner no longer waiting; ticket issued anyway",
			zap.String("entry_id", head.ID), zap.String("event_id", eventID))
	}

	payload := events.WaitlistFulfilledPayload{EntryID: head.ID}
	if result.Ticket != nil {
		payload.TicketID = result.Ticket.ID
		payload.TokenID = result.Ticket.TokenID
	}
	observability.LotteryRunsTotal.WithLabelValues("fulfilled").Inc()
	s.publish(ctx, events.Event{
		Type:    events.EventWaitlistFulfilled,
		EventID: eventID,
		UserID:  head.UserID,
		Payload: payload,
	})
	return true, nil
}

func (s *WaitlistService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
