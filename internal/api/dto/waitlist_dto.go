package dto

import (
	"time"

	"github.com/ticketguard/ticketing/internal/domain"
)

// WaitlistJoinRequest payload for joining an event's waitlist.
type WaitlistJoinRequest struct {
	EventID string `json:"event_id"`
}

// WaitlistEntryResponse is one queue entry. Position counts from 1 at the
// head and is present only for waiting entries.
type WaitlistEntryResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Status    string    `json:"status"`
	Position  int       `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewWaitlistEntryResponse maps an entry to the wire shape.
func NewWaitlistEntryResponse(entry *domain.WaitlistEntry, position int) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:        entry.ID,
		UserID:    entry.UserID,
		EventID:   entry.EventID,
		Status:    string(entry.Status),
		Position:  position,
		CreatedAt: entry.CreatedAt,
	}
}

// WaitlistStatusResponse reports the caller's standing; Waiting is false when
// the user has no active entry.
type WaitlistStatusResponse struct {
	Waiting bool                   `json:"waiting"`
	Entry   *WaitlistEntryResponse `json:"entry,omitempty"`
}
