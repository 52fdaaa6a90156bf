package domain

import "errors"

// Validation failures. Reported synchronously to the caller; no external side
// effect has occurred when one of these is returned.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrWaitlistNotFound = errors.New("not in waitlist")

	ErrNotOwner        = errors.New("not the owner of this ticket")
	ErrAlreadyRefunded = errors.New("ticket already refunded")
	ErrSoldOut         = errors.New("event is sold out")

	ErrAlreadyWaiting = errors.New("already in waitlist")
	ErrAlreadyOwns    = errors.New("already owns a ticket for this event")

	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEventHasTickets  = errors.New("event still has active tickets")
	ErrEventHasWaitlist = errors.New("event still has waitlist entries")
)
