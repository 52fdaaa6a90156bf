package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/custody"
	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/events"
	"github.com/ticketguard/ticketing/internal/ledger"
	"github.com/ticketguard/ticketing/internal/observability"
	"github.com/ticketguard/ticketing/internal/repository"
)

// mintNotFoundGrace is how long an intent with no observed token id is left
// open before it is closed as never-landed. A broadcast transaction can still
// confirm minutes after the submitter gave up waiting.
const mintNotFoundGrace = 10 * time.Minute

// errStillPending marks an intent that cannot be resolved yet and should be
// revisited on a later pass without counting as a failure.
var errStillPending = errors.New("intent not resolvable yet")

// ReconcileService resolves mint intents stranded between the ledger and the
// local store. For each intent it establishes ledger truth first, then drives
// the local state to match: forward-insert the missing ticket when capacity
// allows, reclaim the token to the custodian when it does not, or close the
// intent when the mint never landed.
type ReconcileService struct {
	intents    repository.MintIntentRepository
	tickets    repository.TicketRepository
	users      repository.UserRepository
	eventRepo  repository.EventRepository
	waitlist   repository.WaitlistRepository
	custody    *custody.Custody
	ledger     ledger.Client
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// ReconcileDependencies bundles collaborators for the reconciliation service.
type ReconcileDependencies struct {
	IntentRepo   repository.MintIntentRepository
	TicketRepo   repository.TicketRepository
	UserRepo     repository.UserRepository
	EventRepo    repository.EventRepository
	WaitlistRepo repository.WaitlistRepository
	Custody      *custody.Custody
	Ledger       ledger.Client
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// NewReconcileService constructs the service.
func NewReconcileService(deps ReconcileDependencies) *ReconcileService {
	return &ReconcileService{
		intents:    deps.IntentRepo,
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		eventRepo:  deps.EventRepo,
		waitlist:   deps.WaitlistRepo,
		custody:    deps.Custody,
		ledger:     deps.Ledger,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
	}
}

// Run resolves up to batch stranded intents and returns how many it settled.
func (s *ReconcileService) Run(ctx context.Context, batch int) (int, error) {
	stranded, err := s.intents.ListReconcilable(ctx, batch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stranded {
		intent := &stranded[i]
		if err := s.resolve(ctx, intent); err != nil {
			if errors.Is(err, errStillPending) {
				continue
			}
			s.logger.Error("failed to resolve mint intent",
				zap.String("intent_id", intent.ID), zap.Error(err))
			if incErr := s.intents.IncrementAttempts(ctx, intent.ID); incErr != nil {
				s.logger.Warn("failed to record reconcile attempt",
					zap.String("intent_id", intent.ID), zap.Error(incErr))
			}
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *ReconcileService) resolve(ctx context.Context, intent *domain.MintIntent) error {
	user, err := s.users.GetByID(ctx, intent.UserID)
	if err != nil {
		return err
	}
	event, err := s.eventRepo.GetByID(ctx, intent.EventID)
	if err != nil {
		return err
	}

	tokenID := intent.TokenID
	if tokenID == nil {
		tokenID, err = s.findMintedToken(ctx, user, event)
		if err != nil {
			return err
		}
		if tokenID == nil {
			if time.Since(intent.CreatedAt) < mintNotFoundGrace {
				return errStillPending
			}
			if err := s.intents.Close(ctx, intent.ID, "mint not found on ledger"); err != nil {
				return err
			}
			s.finish(ctx, intent, "mint_not_found", nil)
			return nil
		}
	}

	// Token confirmed on the ledger. If a local record already exists the
	// intent just lagged behind a successful purchase.
	if _, err := s.tickets.GetByTokenID(ctx, *tokenID); err == nil {
		if err := s.intents.MarkRecorded(ctx, intent.ID, *tokenID, stringValue(intent.TxRef)); err != nil {
			return err
		}
		s.fulfillWaiting(ctx, intent, *tokenID)
		s.finish(ctx, intent, "already_recorded", tokenID)
		return nil
	} else if !errors.Is(err, domain.ErrTicketNotFound) {
		return err
	}

	info, err := s.ledger.TicketInfo(ctx, *tokenID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(info.Owner, user.WalletAddress) {
		// The token moved since the intent was parked, possibly reclaimed by
		// an earlier pass that crashed before closing the intent.
		if err := s.intents.Close(ctx, intent.ID, "token no longer held by user"); err != nil {
			return err
		}
		s.finish(ctx, intent, "token_moved", tokenID)
		return nil
	}

	ticket := &domain.Ticket{
		TokenID: *tokenID,
		Status:  domain.TicketStatusOwned,
		OwnerID: &user.ID,
		EventID: intent.EventID,
	}
	err = s.tickets.CreateWithinCapacity(ctx, ticket)
	if err == nil {
		if err := s.intents.MarkRecorded(ctx, intent.ID, *tokenID, stringValue(intent.TxRef)); err != nil {
			return err
		}
		s.fulfillWaiting(ctx, intent, *tokenID)
		s.finish(ctx, intent, "recorded", tokenID)
		return nil
	}
	if !errors.Is(err, domain.ErrSoldOut) {
		return err
	}

	// Capacity is gone: the user holds a token the event cannot honor. Move
	// it back to the custodian so inventory and ledger agree again.
	credential, err := s.custody.Decrypt(user.EncryptedPrivateKey)
	if err != nil {
		return err
	}
	if _, err := s.ledger.TransferToCustodian(ctx, credential, *tokenID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			if _, topErr := s.ledger.TopUpGas(ctx, user.WalletAddress); topErr != nil {
				return topErr
			}
			if _, err = s.ledger.TransferToCustodian(ctx, credential, *tokenID); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	if err := s.intents.Close(ctx, intent.ID, "capacity exceeded; token reclaimed"); err != nil {
		return err
	}
	s.finish(ctx, intent, "reclaimed", tokenID)
	return nil
}

// fulfillWaiting flips the user's WAITING entry for the event once a ticket
// record exists for them. A lottery whose purchase ended up in reconciliation
// leaves the entry WAITING; this is where it is finally settled.
func (s *ReconcileService) fulfillWaiting(ctx context.Context, intent *domain.MintIntent, tokenID int64) {
	if s.waitlist == nil {
		return
	}
	entry, err := s.waitlist.GetByUserAndEvent(ctx, intent.UserID, intent.EventID)
	if err != nil {
		if !errors.Is(err, domain.ErrWaitlistNotFound) {
			s.logger.Warn("failed to look up waitlist entry after reconciliation",
				zap.String("intent_id", intent.ID), zap.Error(err))
		}
		return
	}
	if entry.Status != domain.WaitlistStatusWaiting {
		return
	}
	fulfilled, err := s.waitlist.MarkFulfilledIfWaiting(ctx, entry.ID)
	if err != nil {
		s.logger.Warn("failed to fulfill waitlist entry after reconciliation",
			zap.String("entry_id", entry.ID), zap.Error(err))
		return
	}
	if !fulfilled {
		return
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventWaitlistFulfilled,
			EventID:   intent.EventID,
			UserID:    intent.UserID,
			Timestamp: time.Now(),
			Payload:   events.WaitlistFulfilledPayload{EntryID: entry.ID, TokenID: tokenID},
		})
	}
}

// findMintedToken looks for a token minted to the user that has no local
// record and matches the event's metadata. Returns nil when no candidate
// exists, which either means the mint never landed or has not confirmed yet.
func (s *ReconcileService) findMintedToken(ctx context.Context, user *domain.User, event *domain.Event) (*int64, error) {
	minted, err := s.ledger.MintedTokenIDs(ctx, user.WalletAddress)
	if err != nil {
		return nil, err
	}
	held, err := s.tickets.ListTokenIDsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	recorded := make(map[int64]bool, len(held))
	for _, id := range held {
		recorded[id] = true
	}
	for _, id := range minted {
		if recorded[id] {
			continue
		}
		// Refunded rows lose their owner, so ids outside the user's current
		// holdings still need a row lookup before they count as unrecorded.
		if _, err := s.tickets.GetByTokenID(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrTicketNotFound) {
			return nil, err
		}
		info, err := s.ledger.TicketInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		if info.Label == event.Title && info.EventTime == event.StartsAt.Unix() {
			candidate := id
			return &candidate, nil
		}
	}
	return nil, nil
}

func (s *ReconcileService) finish(ctx context.Context, intent *domain.MintIntent, resolution string, tokenID *int64) {
	observability.ReconcileIntentsTotal.WithLabelValues(resolution).Inc()
	s.logger.Info("mint intent resolved",
		zap.String("intent_id", intent.ID),
		zap.String("resolution", resolution),
	)
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventReconciliationResolved,
		EventID:   intent.EventID,
		UserID:    intent.UserID,
		Timestamp: time.Now(),
		Payload: events.ReconciliationResolvedPayload{
			IntentID:   intent.ID,
			Resolution: resolution,
			TokenID:    tokenID,
		},
	})
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
