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
	"github.com/ticketguard/ticketing/internal/ledger"
	"github.com/ticketguard/ticketing/internal/observability"
	"github.com/ticketguard/ticketing/internal/repository"
)

// TicketService orchestrates ticket issuance: it owns the commit protocol
// between the irreversible ledger mint and the local ticket record.
//
// The mint call is the point of no return. Everything before it is plain
// validation and safe to abort; once the mint confirms, a local record MUST
// eventually exist, so any later failure moves the operation into
// reconciliation instead of being rolled back.
type TicketService struct {
	eventRepo   repository.EventRepository
	users       repository.UserRepository
	tickets     repository.TicketRepository
	intents     repository.MintIntentRepository
	ledger      ledger.Client
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	mintRetries int
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	EventRepo  repository.EventRepository
	UserRepo   repository.UserRepository
	TicketRepo repository.TicketRepository
	IntentRepo repository.MintIntentRepository
	Ledger     ledger.Client
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	// MintRetries bounds retries of the mint call on transient ledger
	// failures; each retry observes a fresh nonce inside the ledger client.
	MintRetries int
}

// PurchaseResult is the outcome of a purchase.
type PurchaseResult struct {
	Ticket *domain.Ticket
	TxRef  string
	// Reconciling marks a purchase whose external write confirmed (or may
	// have confirmed) but whose local record is pending a reconciliation
	// pass. The caller did not lose their money or their token.
	Reconciling bool
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	retries := deps.MintRetries
	if retries <= 0 {
		retries = 3
	}
	return &TicketService{
		eventRepo:   deps.EventRepo,
		users:       deps.UserRepo,
		tickets:     deps.TicketRepo,
		intents:     deps.IntentRepo,
		ledger:      deps.Ledger,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		mintRetries: retries,
	}
}

// Purchase mints a ticket for the user and persists the local record.
func (s *TicketService) Purchase(ctx context.Context, userID, eventID string) (PurchaseResult, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return PurchaseResult{}, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return PurchaseResult{}, err
	}

	// Advisory availability check. The authoritative check is the atomic
	// count-and-insert in CreateWithinCapacity; this one only avoids minting
	// for an event that is already visibly full.
	owned, err := s.eventRepo.CountOwned(ctx, eventID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if owned >= event.TotalTickets {
		observability.PurchasesTotal.WithLabelValues("sold_out").Inc()
		return PurchaseResult{}, domain.ErrSoldOut
	}

	intent := &domain.MintIntent{UserID: userID, EventID: eventID}
	if err := s.intents.Create(ctx, intent); err != nil {
		return PurchaseResult{}, err
	}

	mint, err := s.mintWithRetry(ctx, intent, user.WalletAddress, event)
	if err != nil {
		if errors.Is(err, ledger.ErrOutcomeUnknown) {
			// Broadcast but unconfirmed: the token may still land. Park the
			// intent for reconciliation and report the purchase as pending
			// rather than failed.
			reason := err.Error()
			if markErr := s.intents.MarkReconcile(ctx, intent.ID, nil, nil, reason); markErr != nil {
				s.logger.Error("failed to park ambiguous mint for reconciliation",
					zap.String("intent_id", intent.ID), zap.Error(markErr))
			}
			observability.PurchasesTotal.WithLabelValues("reconcile").Inc()
			s.logger.Warn("mint outcome unknown; purchase pending reconciliation",
				zap.String("intent_id", intent.ID), zap.String("user_id", userID))
			s.publish(ctx, events.Event{
				Type:    events.EventTicketPurchased,
				EventID: eventID,
				UserID:  userID,
				Payload: events.TicketPurchasedPayload{Reconciling: true},
			})
			return PurchaseResult{Reconciling: true}, nil
		}
		// Nothing irreversible happened: the mint never confirmed.
		if closeErr := s.intents.Close(ctx, intent.ID, "mint failed: "+err.Error()); closeErr != nil {
			s.logger.Error("failed to close mint intent", zap.String("intent_id", intent.ID), zap.Error(closeErr))
		}
		observability.PurchasesTotal.WithLabelValues("mint_failed").Inc()
		return PurchaseResult{}, err
	}

	ticket := &domain.Ticket{
		TokenID: mint.TokenID,
		Status:  domain.TicketStatusOwned,
		OwnerID: &userID,
		EventID: eventID,
	}
	if err := s.tickets.CreateWithinCapacity(ctx, ticket); err != nil {
		// Dangerous window: the mint confirmed, the local write failed. The
		// external effect cannot be undone, so this is a reconciliation
		// state, never a rollback.
		reason := "persist after confirmed mint failed: " + err.Error()
		if markErr := s.intents.MarkReconcile(ctx, intent.ID, &mint.TokenID, &mint.TxRef, reason); markErr != nil {
			s.logger.Error("failed to park confirmed mint for reconciliation",
				zap.String("intent_id", intent.ID), zap.Int64("token_id", mint.TokenID), zap.Error(markErr))
		}
		observability.PurchasesTotal.WithLabelValues("reconcile").Inc()
		s.logger.Error("ticket persisted on ledger but not locally; queued for reconciliation",
			zap.String("intent_id", intent.ID),
			zap.Int64("token_id", mint.TokenID),
			zap.Error(err),
		)

		if errors.Is(err, domain.ErrSoldOut) {
			// Lost the capacity race after minting: the caller gets the
			// sold-out rejection and the reconciliation worker reclaims the
			// token to the custodian.
			return PurchaseResult{}, domain.ErrSoldOut
		}
		return PurchaseResult{TxRef: mint.TxRef, Reconciling: true}, nil
	}

	if err := s.intents.MarkRecorded(ctx, intent.ID, mint.TokenID, mint.TxRef); err != nil {
		s.logger.Error("failed to mark mint intent recorded", zap.String("intent_id", intent.ID), zap.Error(err))
	}

	observability.PurchasesTotal.WithLabelValues("success").Inc()
	s.publish(ctx, events.Event{
		Type:    events.EventTicketPurchased,
		EventID: eventID,
		UserID:  userID,
		Payload: events.TicketPurchasedPayload{
			TicketID: ticket.ID,
			TokenID:  ticket.TokenID,
			TxRef:    mint.TxRef,
		},
	})
	return PurchaseResult{Ticket: ticket, TxRef: mint.TxRef}, nil
}

// ListUserTickets returns the user's currently owned tickets.
func (s *TicketService) ListUserTickets(ctx context.Context, userID string) ([]domain.Ticket, error) {
	return s.tickets.ListOwnedByUser(ctx, userID)
}

// GetTicket fetches a single ticket.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.tickets.GetByID(ctx, ticketID)
}

// mintWithRetry submits the mint, retrying transient failures a bounded
// number of times. An unknown outcome aborts immediately: retrying a possibly
// confirmed mint risks double issuance.
func (s *TicketService) mintWithRetry(ctx context.Context, intent *domain.MintIntent, recipient string, event *domain.Event) (ledger.MintResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.mintRetries; attempt++ {
		result, err := s.ledger.Mint(ctx, recipient, event.Title, event.StartsAt.Unix(), event.Price)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.Is(err, ledger.ErrUnavailable) || errors.Is(err, ledger.ErrOutcomeUnknown) {
			return ledger.MintResult{}, err
		}
		if incErr := s.intents.IncrementAttempts(ctx, intent.ID); incErr != nil {
			s.logger.Warn("failed to record mint attempt", zap.String("intent_id", intent.ID), zap.Error(incErr))
		}
		s.logger.Warn("mint attempt failed; retrying with fresh nonce",
			zap.Int("attempt", attempt), zap.Error(err))
	}
	return ledger.MintResult{}, fmt.Errorf("mint retries exhausted: %w", lastErr)
}

func (s *TicketService) publish(ctx context.Context, event events.Event) {
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
