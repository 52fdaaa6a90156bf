package domain

import "time"

// Event is a sellable performance backed by an on-chain ticket collection.
// TotalTickets is the fixed capacity set by the organizer; availability is
// always derived from it, never stored.
type Event struct {
	ID              string
	Title           string
	StartsAt        time.Time
	Price           int64
	Location        string
	Description     string
	ImageURL        string
	TotalTickets    int
	ContractAddress string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
