package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketPurchased        EventType = "ticket_purchased"
	EventTicketRefunded         EventType = "ticket_refunded"
	EventWaitlistJoined         EventType = "waitlist_joined"
	EventWaitlistFulfilled      EventType = "waitlist_fulfilled"
	EventLotteryFailed          EventType = "lottery_failed"
	EventReconciliationResolved EventType = "reconciliation_resolved"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	EventID   string      `json:"event_id"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketPurchasedPayload payload.
type TicketPurchasedPayload struct {
	TicketID string `json:"ticket_id,omitempty"`
	TokenID  int64  `json:"token_id"`
	TxRef    string `json:"tx_ref"`
	// Reconciling marks a purchase whose local record is pending a
	// reconciliation pass.
	Reconciling bool `json:"reconciling,omitempty"`
}

// TicketRefundedPayload payload.
type TicketRefundedPayload struct {
	TicketID         string `json:"ticket_id"`
	TokenID          int64  `json:"token_id"`
	TxRef            string `json:"tx_ref"`
	LotteryCompleted bool   `json:"lottery_completed"`
}

// WaitlistJoinedPayload payload.
type WaitlistJoinedPayload struct {
	EntryID  string `json:"entry_id"`
	Position int    `json:"position"`
}

// WaitlistFulfilledPayload payload.
type WaitlistFulfilledPayload struct {
	EntryID  string `json:"entry_id"`
	TicketID string `json:"ticket_id,omitempty"`
	TokenID  int64  `json:"token_id"`
}

// LotteryFailedPayload payload.
type LotteryFailedPayload struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// ReconciliationResolvedPayload payload.
type ReconciliationResolvedPayload struct {
	IntentID   string `json:"intent_id"`
	Resolution string `json:"resolution"`
	TokenID    *int64 `json:"token_id,omitempty"`
}
