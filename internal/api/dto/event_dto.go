package dto

import (
	"time"

	"github.com/ticketguard/ticketing/internal/service"
)

// EventCreateRequest payload for new events.
type EventCreateRequest struct {
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"`
	Price           int64     `json:"price"`
	Location        string    `json:"location"`
	Description     string    `json:"description"`
	ImageURL        string    `json:"image_url"`
	TotalTickets    int       `json:"total_tickets"`
	ContractAddress string    `json:"contract_address"`
}

// EventUpdateRequest payload for partial updates; omitted fields are kept.
type EventUpdateRequest struct {
	Title        *string    `json:"title"`
	StartsAt     *time.Time `json:"starts_at"`
	Price        *int64     `json:"price"`
	Location     *string    `json:"location"`
	Description  *string    `json:"description"`
	ImageURL     *string    `json:"image_url"`
	TotalTickets *int       `json:"total_tickets"`
}

// EventResponse is an event with derived availability.
type EventResponse struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	StartsAt         time.Time `json:"starts_at"`
	Price            int64     `json:"price"`
	Location         string    `json:"location"`
	Description      string    `json:"description"`
	ImageURL         string    `json:"image_url"`
	TotalTickets     int       `json:"total_tickets"`
	AvailableTickets int       `json:"available_tickets"`
	AlmostSoldOut    bool      `json:"almost_sold_out"`
	ContractAddress  string    `json:"contract_address"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewEventResponse maps a service view to the wire shape.
func NewEventResponse(view *service.EventView) EventResponse {
	return EventResponse{
		ID:               view.ID,
		Title:            view.Title,
		StartsAt:         view.StartsAt,
		Price:            view.Price,
		Location:         view.Location,
		Description:      view.Description,
		ImageURL:         view.ImageURL,
		TotalTickets:     view.TotalTickets,
		AvailableTickets: view.AvailableTickets,
		AlmostSoldOut:    view.AlmostSoldOut,
		ContractAddress:  view.ContractAddress,
		CreatedAt:        view.CreatedAt,
	}
}
