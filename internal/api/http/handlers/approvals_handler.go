package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-service/internal/api/dto"
	"github.com/spec-kit/approval-service/internal/service"
)

// ApprovalService is the decision surface the handlers call.
type ApprovalService interface {
	Approve(ctx context.Context, ticketID, approverID int64, comment *string) (*service.ApprovalResult, error)
	Reject(ctx context.Context, ticketID, approverID int64, remark string) (*service.RejectResult, error)
}

// ApprovalsHandler serves approve and reject.
type ApprovalsHandler struct {
	service ApprovalService
}

// NewApprovalsHandler constructs handler.
func NewApprovalsHandler(approvalService ApprovalService) *ApprovalsHandler {
	return &ApprovalsHandler{service: approvalService}
}

// Approve POST /tickets/:id/approve.
func (h *ApprovalsHandler) Approve(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.ApproveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.service.Approve(c.UserContext(), ticketID, accountID, req.Comment)
	if err != nil {
		return err
	}
	message := "step approved"
	if result.IsFinal {
		message = "ticket fully approved"
	}
	return respond(c, http.StatusOK, message, dto.ApprovalResponse{
		TicketID:    result.TicketID,
		CurrentStep: result.CurrentStep,
		IsFinal:     result.IsFinal,
	})
}

// Reject POST /tickets/:id/reject.
func (h *ApprovalsHandler) Reject(c *fiber.Ctx) error {
	accountID, err := currentAccount(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.RejectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.service.Reject(c.UserContext(), ticketID, accountID, req.Remark)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "ticket rejected", dto.RejectResponse{TicketID: result.TicketID})
}
