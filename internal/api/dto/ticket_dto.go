package dto

import (
	"time"

	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/ledger"
)

// PurchaseRequest payload for buying a ticket.
type PurchaseRequest struct {
	EventID string `json:"event_id"`
}

// TicketResponse is the local view of a ticket.
type TicketResponse struct {
	ID        string    `json:"id"`
	TokenID   int64     `json:"token_id"`
	Status    string    `json:"status"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTicketResponse maps a ticket to the wire shape.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:        ticket.ID,
		TokenID:   ticket.TokenID,
		Status:    string(ticket.Status),
		EventID:   ticket.EventID,
		CreatedAt: ticket.CreatedAt,
	}
}

// PurchaseResponse reports the issuance outcome. Reconciling marks a purchase
// whose ticket record is still pending a background pass.
type PurchaseResponse struct {
	Ticket      *TicketResponse `json:"ticket,omitempty"`
	TxRef       string          `json:"tx_ref,omitempty"`
	Reconciling bool            `json:"reconciling,omitempty"`
}

// RefundResponse reports the refund outcome.
type RefundResponse struct {
	Ticket           TicketResponse `json:"ticket"`
	TxRef            string         `json:"tx_ref,omitempty"`
	LotteryCompleted bool           `json:"lottery_completed"`
}

// ChainInfoResponse is the ledger's view of a ticket.
type ChainInfoResponse struct {
	Label     string `json:"label"`
	EventTime int64  `json:"event_time"`
	Price     int64  `json:"price"`
	Used      bool   `json:"used"`
	Owner     string `json:"owner"`
}

// NewChainInfoResponse maps ledger info to the wire shape.
func NewChainInfoResponse(info ledger.TicketInfo) ChainInfoResponse {
	return ChainInfoResponse{
		Label:     info.Label,
		EventTime: info.EventTime,
		Price:     info.Price,
		Used:      info.Used,
		Owner:     info.Owner,
	}
}
