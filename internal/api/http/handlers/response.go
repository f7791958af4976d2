package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-service/internal/api/dto"
	"github.com/spec-kit/approval-service/internal/auth"
	"github.com/spec-kit/approval-service/internal/domain"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func currentAccount(c *fiber.Ctx) (int64, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return 0, apperrors.NewUnauthorized("authentication required")
	}
	return principal.AccountID, nil
}

func ticketIDParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

// parseBody decodes the JSON body into dst and validates it. An empty body
// is treated as an empty object.
func parseBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	return dto.Validate(dst)
}

func parsePage(c *fiber.Ctx) dto.PageQuery {
	return dto.PageQuery{
		Page:     parseInt(c.Query("page"), 1),
		PageSize: parseInt(c.Query("page_size"), 20),
	}
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	details := ticket.Details
	if details == nil {
		details = map[string]string{}
	}
	return dto.TicketResponse{
		ID:                 ticket.ID,
		TicketKey:          ticket.ExternalKey,
		ServiceID:          ticket.ServiceID,
		Status:             ticket.Status,
		RequesterID:        ticket.RequesterID,
		AssignedTeamID:     ticket.AssignedTeamID,
		AssigneeID:         ticket.AssigneeID,
		CurrentStep:        ticket.CurrentStep,
		Details:            details,
		RejectReason:       ticket.RejectReason,
		FulfillmentComment: ticket.FulfillmentComment,
		CreatedAt:          ticket.CreatedAt,
		UpdatedAt:          ticket.UpdatedAt,
	}
}

func ticketResponses(tickets []domain.Ticket) []dto.TicketResponse {
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return items
}

func ticketDetail(ticket *domain.Ticket, ledger []domain.ApprovalEvent) dto.TicketDetailResponse {
	approvals := make([]dto.ApprovalEventResponse, 0, len(ledger))
	for _, ev := range ledger {
		approvals = append(approvals, dto.ApprovalEventResponse{
			ID:           ev.ID,
			ApproverID:   ev.ApproverID,
			StepOrder:    ev.StepOrder,
			StepType:     ev.StepType,
			StepValue:    ev.StepValue,
			Status:       ev.Status.String(),
			ApprovedAt:   ev.ApprovedAt,
			Comment:      ev.Comment,
			RejectRemark: ev.RejectRemark,
		})
	}
	return dto.TicketDetailResponse{TicketResponse: ticketResponse(ticket), Approvals: approvals}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:          entry.ID,
			ChangeType:  entry.ChangeType,
			ChangedByID: entry.ChangedByID,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return resp
}

func triggerLogResponses(logs []domain.TriggerExecutionLog) []dto.TriggerLogResponse {
	resp := make([]dto.TriggerLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, dto.TriggerLogResponse{
			ID:           l.ID,
			HandlerName:  l.HandlerName,
			TriggerEvent: l.TriggerEvent,
			Status:       l.Status,
			Input:        l.Input,
			Output:       l.Output,
			ErrorDetail:  l.ErrorDetail,
			ActorID:      l.ActorID,
			CreatedAt:    l.CreatedAt,
		})
	}
	return resp
}
