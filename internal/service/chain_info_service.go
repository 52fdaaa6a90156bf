package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/ledger"
	"github.com/ticketguard/ticketing/internal/repository"
)

// chainInfoTTL bounds staleness of cached on-chain reads. Label, event time
// and price never change after mint; only the used flag and owner can drift
// within the window.
const chainInfoTTL = 30 * time.Second

// ChainInfoService serves the on-chain view of a ticket through a Redis
// read-through cache, sparing the ledger node a call per page view. The cache
// is best effort: any Redis failure falls through to a live read.
type ChainInfoService struct {
	tickets repository.TicketRepository
	ledger  ledger.Client
	cache   *redis.Client
	logger  *zap.Logger
}

// NewChainInfoService constructs the service. cache may be nil, which
// disables caching and reads live on every call.
func NewChainInfoService(tickets repository.TicketRepository, lc ledger.Client, cache *redis.Client, logger *zap.Logger) *ChainInfoService {
	return &ChainInfoService{tickets: tickets, ledger: lc, cache: cache, logger: logger}
}

// TicketChainInfo returns the ledger's view of the ticket.
func (s *ChainInfoService) TicketChainInfo(ctx context.Context, ticketID string) (ledger.TicketInfo, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return ledger.TicketInfo{}, err
	}

	key := fmt.Sprintf("chain:ticket:%d", ticket.TokenID)
	if info, ok := s.fromCache(ctx, key); ok {
		return info, nil
	}

	info, err := s.ledger.TicketInfo(ctx, ticket.TokenID)
	if err != nil {
		return ledger.TicketInfo{}, err
	}
	s.toCache(ctx, key, info)
	return info, nil
}

func (s *ChainInfoService) fromCache(ctx context.Context, key string) (ledger.TicketInfo, bool) {
	if s.cache == nil {
		return ledger.TicketInfo{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("chain info cache read failed", zap.String("key", key), zap.Error(err))
		}
		return ledger.TicketInfo{}, false
	}
	var info ledger.TicketInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return ledger.TicketInfo{}, false
	}
	return info, true
}

func (s *ChainInfoService) toCache(ctx context.Context, key string, info ledger.TicketInfo) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, chainInfoTTL).Err(); err != nil {
		s.logger.Warn("chain info cache write failed", zap.String("key", key), zap.Error(err))
	}
}
