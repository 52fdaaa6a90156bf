package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
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

// RefundService returns tickets to the platform. A refund transfers the token
// from the holder's custodial wallet back to the custodian, marks the local
// record refunded, and then offers the freed capacity to the waitlist.
//
// The lottery is strictly decoupled: its failure never affects the refund
// outcome, which is decided the moment the token transfer confirms.
type RefundService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	custody    *custody.Custody
	ledger     ledger.Client
	waitlist   *WaitlistService
	dispatcher events.Dispatcher
	logger     *zap.Logger
	gasReserve *big.Int
	retries    int
}

// RefundDependencies bundles collaborators for the refund service.
type RefundDependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Custody    *custody.Custody
	Ledger     ledger.Client
	Waitlist   *WaitlistService
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	// GasReserve is the minimum native balance the holder's wallet must have
	// before the transfer is attempted; below it the custodian tops up first.
	GasReserve *big.Int
	// TransferRetries bounds retries of the custodian transfer on transient
	// ledger failures; each retry observes a fresh nonce inside the client.
	TransferRetries int
}

// RefundResult is the outcome of a refund.
type RefundResult struct {
	Ticket *domain.Ticket
	TxRef  string
	// LotteryCompleted reports whether the freed capacity was handed to a
	// waiting user in the same pass.
	LotteryCompleted bool
}

// NewRefundService constructs the service.
func NewRefundService(deps RefundDependencies) *RefundService {
	reserve := deps.GasReserve
	if reserve == nil {
		reserve = big.NewInt(0)
	}
	retries := deps.TransferRetries
	if retries <= 0 {
		retries = 3
	}
	return &RefundService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		custody:    deps.Custody,
		ledger:     deps.Ledger,
		waitlist:   deps.Waitlist,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		gasReserve: reserve,
		retries:    retries,
	}
}

// Refund returns the caller's ticket to the platform.
func (s *RefundService) Refund(ctx context.Context, userID, ticketID string) (RefundResult, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return RefundResult{}, err
	}
	// Ownership is checked first so a non-owner probing a foreign ticket
	// learns nothing about its state. A refunded ticket has no owner, so a
	// repeat refund also resolves here.
	if ticket.OwnerID == nil || *ticket.OwnerID != userID {
		observability.RefundsTotal.WithLabelValues("not_owner").Inc()
		return RefundResult{}, domain.ErrNotOwner
	}
	if ticket.Status == domain.TicketStatusRefunded {
		observability.RefundsTotal.WithLabelValues("already_refunded").Inc()
		return RefundResult{}, domain.ErrAlreadyRefunded
	}

	owner, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return RefundResult{}, err
	}
	credential, err := s.custody.Decrypt(owner.EncryptedPrivateKey)
	if err != nil {
		return RefundResult{}, err
	}

	if err := s.ensureGas(ctx, owner.WalletAddress); err != nil {
		return RefundResult{}, err
	}

	txRef, err := s.transfer(ctx, owner, credential, ticket.TokenID)
	if err != nil {
		observability.RefundsTotal.WithLabelValues("transfer_failed").Inc()
		return RefundResult{}, err
	}

	if err := s.tickets.MarkRefunded(ctx, ticketID, userID); err != nil {
		// The token is already back with the custodian. Surface the error but
		// log loudly: the local record now lags the ledger.
		s.logger.Error("token returned to custodian but local refund mark failed",
			zap.String("ticket_id", ticketID), zap.Int64("token_id", ticket.TokenID), zap.Error(err))
		return RefundResult{}, err
	}
	ticket.Status = domain.TicketStatusRefunded
	ticket.OwnerID = nil
	observability.RefundsTotal.WithLabelValues("success").Inc()

	completed := s.runLottery(ctx, ticket.EventID)

	s.publish(ctx, events.Event{
		Type:    events.EventTicketRefunded,
		EventID: ticket.EventID,
		UserID:  userID,
		Payload: events.TicketRefundedPayload{
			TicketID:         ticket.ID,
			TokenID:          ticket.TokenID,
			TxRef:            txRef,
			LotteryCompleted: completed,
		},
	})
	return RefundResult{Ticket: ticket, TxRef: txRef, LotteryCompleted: completed}, nil
}

// ensureGas tops up the wallet from the custodian when its balance cannot
// cover the transfer's execution cost.
func (s *RefundService) ensureGas(ctx context.Context, address string) error {
	balance, err := s.ledger.BalanceOf(ctx, address)
	if err != nil {
		return err
	}
	if balance.Cmp(s.gasReserve) >= 0 {
		return nil
	}
	s.logger.Info("wallet below gas reserve; topping up before refund transfer",
		zap.String("address", address), zap.String("balance", balance.String()))
	if _, err := s.ledger.TopUpGas(ctx, address); err != nil {
		return err
	}
	return nil
}

// transfer moves the token back to the custodian. Three recoveries:
//   - transient ledger failures get a bounded number of retries
//   - insufficient funds mid-flight gets one top-up and one retry
//   - an ownership rejection is rechecked against live state, because a prior
//     attempt with an unknown outcome may in fact have landed
func (s *RefundService) transfer(ctx context.Context, owner *domain.User, credential string, tokenID int64) (string, error) {
	toppedUp := false
	attempt := 0
	for {
		txRef, err := s.ledger.TransferToCustodian(ctx, credential, tokenID)
		if err == nil {
			return txRef, nil
		}
		if errors.Is(err, ledger.ErrUnavailable) {
			attempt++
			if attempt >= s.retries {
				return "", fmt.Errorf("transfer retries exhausted: %w", err)
			}
			s.logger.Warn("transfer attempt failed; retrying with fresh nonce",
				zap.Int64("token_id", tokenID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) && !toppedUp {
			toppedUp = true
			if _, topErr := s.ledger.TopUpGas(ctx, owner.WalletAddress); topErr != nil {
				return "", topErr
			}
			continue
		}
		if errors.Is(err, ledger.ErrNotOwner) {
			info, infoErr := s.ledger.TicketInfo(ctx, tokenID)
			if infoErr == nil && strings.EqualFold(info.Owner, s.ledger.CustodianAddress()) {
				s.logger.Warn("token already held by custodian; treating transfer as landed",
					zap.Int64("token_id", tokenID))
				return "", nil
			}
			return "", err
		}
		return "", err
	}
}

// runLottery offers the freed capacity to the waitlist. Isolation contract:
// this never fails the refund, it only reports whether a winner was served.
func (s *RefundService) runLottery(ctx context.Context, eventID string) bool {
	if s.waitlist == nil {
		return false
	}
	completed, err := s.waitlist.ProcessLottery(ctx, eventID)
	if err != nil {
		s.logger.Error("waitlist lottery failed after refund; queue left intact",
			zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return completed
}

func (s *RefundService) publish(ctx context.Context, event events.Event) {
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
