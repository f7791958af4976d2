package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/approval-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	ServiceID int64             `json:"service_id" validate:"required,gt=0"`
	Details   map[string]string `json:"details" validate:"omitempty,max=100,dive,keys,max=200,endkeys,max=5000"`
}

// ApproveRequest payload.
type ApproveRequest struct {
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

// RejectRequest payload.
type RejectRequest struct {
	Remark string `json:"remark" validate:"required,max=2000"`
}

// FulfilRequest payload.
type FulfilRequest struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// CreateTicketResponse is returned after creation.
type CreateTicketResponse struct {
	TicketID    int64               `json:"ticket_id"`
	TicketKey   string              `json:"ticket_key"`
	Status      domain.TicketStatus `json:"status"`
	CurrentStep *int                `json:"current_step"`
}

// ApprovalResponse is returned after an approval.
type ApprovalResponse struct {
	TicketID    int64 `json:"ticket_id"`
	CurrentStep *int  `json:"current_step"`
	IsFinal     bool  `json:"is_final"`
}

// RejectResponse is returned after a rejection.
type RejectResponse struct {
	TicketID int64 `json:"ticket_id"`
}

// TicketResponse is the public ticket shape.
type TicketResponse struct {
	ID                 int64               `json:"id"`
	TicketKey          string              `json:"ticket_key"`
	ServiceID          int64               `json:"service_id"`
	Status             domain.TicketStatus `json:"status"`
	RequesterID        int64               `json:"requester_id"`
	AssignedTeamID     *int64              `json:"assigned_team_id"`
	AssigneeID         *int64              `json:"assignee_id"`
	CurrentStep        *int                `json:"current_step"`
	Details            map[string]string   `json:"details"`
	RejectReason       *string             `json:"reject_reason,omitempty"`
	FulfillmentComment *string             `json:"fulfillment_comment,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// ApprovalEventResponse is one ledger row.
type ApprovalEventResponse struct {
	ID           int64           `json:"id"`
	ApproverID   int64           `json:"approver_id"`
	StepOrder    int             `json:"step_order"`
	StepType     domain.StepType `json:"step_type"`
	StepValue    *int64          `json:"step_value"`
	Status       string          `json:"status"`
	ApprovedAt   *time.Time      `json:"approved_at"`
	Comment      *string         `json:"comment,omitempty"`
	RejectRemark *string         `json:"reject_remark,omitempty"`
}

// TicketDetailResponse is a ticket with its approval ledger.
type TicketDetailResponse struct {
	TicketResponse
	Approvals []ApprovalEventResponse `json:"approvals"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID          int64                   `json:"id"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	ChangedByID *int64                  `json:"changed_by_id"`
	OldValue    map[string]any          `json:"old_value"`
	NewValue    map[string]any          `json:"new_value"`
	CreatedAt   time.Time               `json:"created_at"`
}

// TriggerLogResponse is one handler execution record.
type TriggerLogResponse struct {
	ID           string                 `json:"id"`
	HandlerName  string                 `json:"handler_name"`
	TriggerEvent domain.TriggerEvent    `json:"trigger_event"`
	Status       domain.ExecutionStatus `json:"status"`
	Input        json.RawMessage        `json:"input,omitempty"`
	Output       json.RawMessage        `json:"output,omitempty"`
	ErrorDetail  *string                `json:"error_detail,omitempty"`
	ActorID      *int64                 `json:"actor_id"`
	CreatedAt    time.Time              `json:"created_at"`
}

// PageQuery captures pagination for list endpoints.
type PageQuery struct {
	Page     int
	PageSize int
}

// Offset returns the row offset of the page.
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}
