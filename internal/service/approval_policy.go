package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

const (
	policyOrdered = "ordered"
	policyCounter = "counter"
)

// ApprovalPolicy decides how one approval moves a locked ticket forward.
type ApprovalPolicy interface {
	Name() string
	Approve(ctx context.Context, d *decision) (*ApprovalResult, error)
}

// orderedPolicy walks the ledger step by step. Approving one event closes
// every pending sibling of the same order.
type orderedPolicy struct{}

func (orderedPolicy) Name() string { return policyOrdered }

func (orderedPolicy) Approve(ctx context.Context, d *decision) (*ApprovalResult, error) {
	ticket := d.ticket
	if ticket.Status != domain.TicketStatusPending || ticket.CurrentStep == nil {
		return nil, noPending(ticket, d.actorID, "ticket_not_pending")
	}
	current := *ticket.CurrentStep

	ev, err := d.tx.Approvals().FindPendingForUpdate(ctx, ticket.ID, d.actorID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, noPending(ticket, d.actorID, "not_an_approver_at_current_step")
		}
		return nil, fmt.Errorf("find pending approval: %w", err)
	}
	if err := d.markApproved(ctx, ev); err != nil {
		return nil, err
	}

	closed, err := d.tx.Approvals().ApproveSiblings(ctx, ticket.ID, current, d.now)
	if err != nil {
		return nil, fmt.Errorf("approve co-approvers: %w", err)
	}
	d.siblingsClosed = closed

	if err := d.emit(ctx, events.EventStepApproved, events.StepApprovedPayload{StepOrder: current, ApproverID: d.actorID}); err != nil {
		return nil, err
	}

	next, err := d.tx.Approvals().LowestPendingStep(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("find next step: %w", err)
	}
	if next == nil {
		if err := d.finalize(ctx); err != nil {
			return nil, err
		}
		return &ApprovalResult{TicketID: ticket.ID, IsFinal: true}, nil
	}
	if *next <= current {
		return nil, apperrors.NewInternalError(fmt.Errorf("ticket %d: next step %d does not advance past %d", ticket.ID, *next, current))
	}

	ticket.CurrentStep = next
	if err := d.tx.Tickets().Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("advance ticket: %w", err)
	}
	if err := d.record(ctx, domain.ChangeTypeStep, map[string]any{"current_step": current}, map[string]any{"current_step": *next}); err != nil {
		return nil, err
	}
	return &ApprovalResult{TicketID: ticket.ID, CurrentStep: next}, nil
}

// counterPolicy approves the caller's own obligation at any order and
// finalizes once every obligation is approved. Step pointers and co-approval
// do not apply, so the ticket's current step stays nil.
type counterPolicy struct{}

func (counterPolicy) Name() string { return policyCounter }

func (counterPolicy) Approve(ctx context.Context, d *decision) (*ApprovalResult, error) {
	ticket := d.ticket
	if ticket.Status != domain.TicketStatusPending {
		return nil, noPending(ticket, d.actorID, "ticket_not_pending")
	}

	ev, err := d.tx.Approvals().FindPendingForUpdate(ctx, ticket.ID, d.actorID, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, noPending(ticket, d.actorID, "no_pending_event")
		}
		return nil, fmt.Errorf("find pending approval: %w", err)
	}
	if err := d.markApproved(ctx, ev); err != nil {
		return nil, err
	}
	if err := d.emit(ctx, events.EventStepApproved, events.StepApprovedPayload{StepOrder: ev.StepOrder, ApproverID: d.actorID}); err != nil {
		return nil, err
	}

	approved, total, err := d.tx.Approvals().Counts(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("count approvals: %w", err)
	}
	if approved < total {
		return &ApprovalResult{TicketID: ticket.ID}, nil
	}
	if err := d.finalize(ctx); err != nil {
		return nil, err
	}
	return &ApprovalResult{TicketID: ticket.ID, IsFinal: true}, nil
}

func noPending(ticket *domain.Ticket, approverID int64, reason string) error {
	return apperrors.NewNoPendingApproval(map[string]any{
		"ticket_id":   ticket.ID,
		"approver_id": approverID,
		"status":      string(ticket.Status),
		"reason":      reason,
	})
}
