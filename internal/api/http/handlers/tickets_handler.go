package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-service/internal/api/dto"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/service"
)

// TicketService is the ticket use-case surface the handlers call.
type TicketService interface {
	CreateTicket(ctx context.Context, requesterID int64, input service.TicketCreateInput) (*service.TicketView, error)
	GetTicket(ctx context.Context, actorID, ticketID int64) (*service.TicketView, error)
	ListRequesterTickets(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Ticket, error)
	ListPendingApprovals(ctx context.Context, approverID int64, limit, offset int) ([]domain.Ticket, error)
	ListHistory(ctx context.Context, actorID, ticketID int64) ([]domain.TicketHistory, error)
	ListTriggerLogs(ctx context.Context, actorID, ticketID int64) ([]domain.TriggerExecutionLog, error)
	Fulfil(ctx context.Context, ticketID, actorID int64, comment string) (*domain.Ticket, error)
	Cancel(ctx context.Context, ticketID, actorID int64) (*domain.Ticket, error)
}

// TicketsHandler serves ticket endpoints.
type TicketsHandler struct {
	service TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	view, err := h.service.CreateTicket(c.UserContext(), accountID, service.TicketCreateInput{
		ServiceID: req.ServiceID,
		Details:   req.Details,
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "ticket created", dto.CreateTicketResponse{
		TicketID:    view.Ticket.ID,
		TicketKey:   view.Ticket.ExternalKey,
		Status:      view.Ticket.Status,
		CurrentStep: view.Ticket.CurrentStep,
	})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	page := parsePage(c)
	tickets, err := h.service.ListRequesterTickets(c.UserContext(), accountID, page.PageSize, page.Offset())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", ticketResponses(tickets))
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	view, err := h.service.GetTicket(c.UserContext(), accountID, ticketID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", ticketDetail(view.Ticket, view.Approvals))
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	history, err := h.service.ListHistory(c.UserContext(), accountID, ticketID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", historyResponses(history))
}

// TriggerLogs GET /tickets/:id/trigger-logs.
func (h *TicketsHandler) TriggerLogs(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	logs, err := h.service.ListTriggerLogs(c.UserContext(), accountID, ticketID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", triggerLogResponses(logs))
}

// Fulfil POST /tickets/:id/fulfil.
func (h *TicketsHandler) Fulfil(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.FulfilRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Fulfil(c.UserContext(), ticketID, accountID, req.Comment)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "ticket fulfilled", ticketResponse(ticket))
}

// Cancel POST /tickets/:id/cancel.
func (h *TicketsHandler) Cancel(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Cancel(c.UserContext(), ticketID, accountID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "ticket cancelled", ticketResponse(ticket))
}

// PendingApprovals GET /approvals/pending.
func (h *TicketsHandler) PendingApprovals(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	page := parsePage(c)
	tickets, err := h.service.ListPendingApprovals(c.UserContext(), accountID, page.PageSize, page.Offset())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "", ticketResponses(tickets))
}
