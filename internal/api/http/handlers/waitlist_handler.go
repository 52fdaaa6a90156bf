package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ticketguard/ticketing/internal/api/dto"
	"github.com/ticketguard/ticketing/internal/auth"
	"github.com/ticketguard/ticketing/internal/service"
	apperrors "github.com/ticketguard/ticketing/pkg/util"
)

// WaitlistHandler exposes waitlist membership and the admin queue view.
type WaitlistHandler struct {
	waitlist *service.WaitlistService
}

// NewWaitlistHandler constructs handler.
func NewWaitlistHandler(waitlist *service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// Join handles POST /waitlist.
func (h *WaitlistHandler) Join(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}

	var req dto.WaitlistJoinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.EventID == "" {
		return apperrors.NewValidationError("event_id required", nil)
	}

	status, err := h.waitlist.Join(c.Context(), principal.User.ID, req.EventID)
	if err != nil {
		return apperrors.MapError(err)
	}
	entry := dto.NewWaitlistEntryResponse(status.Entry, status.Position)
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": entry})
}

// Leave handles DELETE /waitlist/:eventId.
func (h *WaitlistHandler) Leave(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}

	if err := h.waitlist.Leave(c.Context(), principal.User.ID, c.Params("eventId")); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// MyStatus handles GET /waitlist/:eventId.
func (h *WaitlistHandler) MyStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}

	status, err := h.waitlist.MyStatus(c.Context(), principal.User.ID, c.Params("eventId"))
	if err != nil {
		return apperrors.MapError(err)
	}

	response := dto.WaitlistStatusResponse{Waiting: status.Position > 0}
	if status.Entry != nil {
		entry := dto.NewWaitlistEntryResponse(status.Entry, status.Position)
		response.Entry = &entry
	}
	return c.JSON(fiber.Map{"data": response})
}

// EventQueue handles GET /events/:id/waitlist. Admin view of the full queue.
func (h *WaitlistHandler) EventQueue(c *fiber.Ctx) error {
	entries, err := h.waitlist.EventWaitlist(c.Context(), c.Params("id"))
	if err != nil {
		return apperrors.MapError(err)
	}
	responses := make([]dto.WaitlistEntryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, dto.NewWaitlistEntryResponse(&entries[i], i+1))
	}
	return c.JSON(fiber.Map{"data": responses})
}
