package domain

import "time"

// WaitlistStatus enumerates waitlist entry states.
type WaitlistStatus string

const (
	WaitlistStatusWaiting   WaitlistStatus = "WAITING"
	WaitlistStatusFulfilled WaitlistStatus = "FULFILLED"
	WaitlistStatusCancelled WaitlistStatus = "CANCELLED"
)

// WaitlistEntry is a user's place in an event's FIFO waiting queue. At most
// one entry exists per (user, event); re-joining after a cancellation
// reactivates the same row. Position is never stored - it is always computed
// as the rank by CreatedAt (ties by ID) among WAITING entries.
type WaitlistEntry struct {
	ID        string
	UserID    string
	EventID   string
	Status    WaitlistStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
