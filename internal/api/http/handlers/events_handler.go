package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ticketguard/ticketing/internal/api/dto"
	"github.com/ticketguard/ticketing/internal/service"
	apperrors "github.com/ticketguard/ticketing/pkg/util"
)

// EventsHandler exposes the event catalog.
type EventsHandler struct {
	events *service.EventService
}

// NewEventsHandler constructs handler.
func NewEventsHandler(events *service.EventService) *EventsHandler {
	return &EventsHandler{events: events}
}

// List handles GET /events.
func (h *EventsHandler) List(c *fiber.Ctx) error {
	views, err := h.events.List(c.Context())
	if err != nil {
		return apperrors.MapError(err)
	}
	responses := make([]dto.EventResponse, 0, len(views))
	for i := range views {
		responses = append(responses, dto.NewEventResponse(&views[i]))
	}
	return c.JSON(fiber.Map{"data": responses})
}

// Get handles GET /events/:id.
func (h *EventsHandler) Get(c *fiber.Ctx) error {
	view, err := h.events.Get(c.Context(), c.Params("id"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewEventResponse(view)})
}

// Create handles POST /events.
func (h *EventsHandler) Create(c *fiber.Ctx) error {
	var req dto.EventCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Title == "" || req.StartsAt.IsZero() {
		return apperrors.NewValidationError("title and starts_at required", nil)
	}
	if req.TotalTickets <= 0 {
		return apperrors.NewValidationError("total_tickets must be positive", nil)
	}

	view, err := h.events.Create(c.Context(), service.EventInput{
		Title:           req.Title,
		StartsAt:        req.StartsAt,
		Price:           req.Price,
		Location:        req.Location,
		Description:     req.Description,
		ImageURL:        req.ImageURL,
		TotalTickets:    req.TotalTickets,
		ContractAddress: req.ContractAddress,
	})
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewEventResponse(view)})
}

// Update handles PATCH /events/:id.
func (h *EventsHandler) Update(c *fiber.Ctx) error {
	var req dto.EventUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.TotalTickets != nil && *req.TotalTickets <= 0 {
		return apperrors.NewValidationError("total_tickets must be positive", nil)
	}

	view, err := h.events.Update(c.Context(), c.Params("id"), service.EventUpdateInput{
		Title:        req.Title,
		StartsAt:     req.StartsAt,
		Price:        req.Price,
		Location:     req.Location,
		Description:  req.Description,
		ImageURL:     req.ImageURL,
		TotalTickets: req.TotalTickets,
	})
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewEventResponse(view)})
}

// Delete handles DELETE /events/:id.
func (h *EventsHandler) Delete(c *fiber.Ctx) error {
	if err := h.events.Delete(c.Context(), c.Params("id")); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}
