package domain

import "time"

// TicketStatus enumerates lifecycle states for issued tickets.
type TicketStatus string

const (
	TicketStatusOwned    TicketStatus = "OWNED"
	TicketStatusRefunded TicketStatus = "REFUNDED"
)

// Ticket is the local record of a confirmed on-chain mint. TokenID is set
// exactly once and never changes. A ticket transitions OWNED to REFUNDED at
// most once; a re-sale after refund is a brand-new row backed by a new mint,
// never a reactivation of this one.
type Ticket struct {
	ID        string
	TokenID   int64
	Status    TicketStatus
	OwnerID   *string // nil exactly when Status is REFUNDED
	EventID   string
	CreatedAt time.Time
}
