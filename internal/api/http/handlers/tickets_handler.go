package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ticketguard/ticketing/internal/api/dto"
	"github.com/ticketguard/ticketing/internal/auth"
	"github.com/ticketguard/ticketing/internal/service"
	apperrors "github.com/ticketguard/ticketing/pkg/util"
)

// TicketsHandler exposes purchase, refund and ticket queries.
type TicketsHandler struct {
	tickets   *service.TicketService
	refunds   *service.RefundService
	chainInfo *service.ChainInfoService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, refunds *service.RefundService, chainInfo *service.ChainInfoService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, refunds: refunds, chainInfo: chainInfo}
}

// Purchase handles POST /tickets.
func (h *TicketsHandler) Purchase(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}

	var req dto.PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.EventID == "" {
		return apperrors.NewValidationError("event_id required", nil)
	}

	result, err := h.tickets.Purchase(c.Context(), principal.User.ID, req.EventID)
	if err != nil {
		return apperrors.MapError(err)
	}

	response := dto.PurchaseResponse{TxRef: result.TxRef, Reconciling: result.Reconciling}
	status := http.StatusCreated
	if result.Ticket != nil {
		ticket := dto.NewTicketResponse(result.Ticket)
		response.Ticket = &ticket
	} else {
		// Confirmed-or-pending on the ledger, record still materializing.
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"data": response})
}

// ListMine handles GET /tickets.
func (h *TicketsHandler) ListMine(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}

	owned, err := h.tickets.ListUserTickets(c.Context(), principal.User.ID)
	if err != nil {
		return apperrors.MapError(err)
	}
	responses := make([]dto.TicketResponse, 0, len(owned))
	for i := range owned {
		responses = append(responses, dto.NewTicketResponse(&owned[i]))
	}
	return c.JSON(fiber.Map{"data": responses})
}

// Get handles GET /tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	ticket, err := h.tickets.GetTicket(c.Context(), c.Params("id"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ChainInfo handles GET /tickets/:id/chain.
func (h *TicketsHandler) ChainInfo(c *fiber.Ctx) error {
	info, err := h.chainInfo.TicketChainInfo(c.Context(), c.Params("id"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.NewChainInfoResponse(info)})
}

// Refund handles POST /tickets/:id/refund.
func (h *TicketsHandler) Refund(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("not authenticated")
	}

	result, err := h.refunds.Refund(c.Context(), principal.User.ID, c.Params("id"))
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.RefundResponse{
		Ticket:           dto.NewTicketResponse(result.Ticket),
		TxRef:            result.TxRef,
		LotteryCompleted: result.LotteryCompleted,
	}})
}
