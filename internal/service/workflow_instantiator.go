package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/repository"
)

// WorkflowInstantiator materializes a service's workflow into a ticket's
// approval ledger.
type WorkflowInstantiator struct {
	resolver *ApproverResolver
	workflow config.WorkflowConfig
}

// NewWorkflowInstantiator builds an instantiator around resolver.
func NewWorkflowInstantiator(resolver *ApproverResolver, workflow config.WorkflowConfig) *WorkflowInstantiator {
	return &WorkflowInstantiator{resolver: resolver, workflow: workflow}
}

// Instantiate persists ticket together with its ledger using tx. It must run
// inside the ticket creation transaction so a resolution failure leaves
// nothing behind. Tickets whose service has no workflow, or whose workflow
// resolves to nobody, are created already approved and assigned to the
// requester. Legacy counter tickets carry no current step.
func (w *WorkflowInstantiator) Instantiate(ctx context.Context, tx repository.Store, ticket *domain.Ticket, svc *domain.Service, requester *domain.Account) ([]domain.ApprovalEvent, error) {
	var ledger []domain.ApprovalEvent
	if svc.WorkflowGroupID != nil {
		steps, err := tx.Workflows().ListSteps(ctx, *svc.WorkflowGroupID)
		if err != nil {
			return nil, fmt.Errorf("list workflow steps: %w", err)
		}
		for _, step := range steps {
			approvers, err := w.resolver.Resolve(ctx, tx.Directory(), step, requester)
			if err != nil {
				return nil, err
			}
			for _, approverID := range approvers {
				ledger = append(ledger, domain.ApprovalEvent{
					ApproverID: approverID,
					StepOrder:  step.StepOrder,
					Status:     domain.ApprovalStatusPending,
					StepType:   step.StepType.Normalize(),
					StepValue:  step.AssignedValue,
				})
			}
		}
	}

	if len(ledger) == 0 {
		requesterID := ticket.RequesterID
		ticket.Status = domain.TicketStatusFullyApproved
		ticket.CurrentStep = nil
		ticket.AssigneeID = &requesterID
		ticket.AssignedTeamID = svc.FulfillmentTeamID
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
		return nil, nil
	}

	ticket.Status = domain.TicketStatusPending
	ticket.CurrentStep = nil
	if !w.workflow.IsLegacy(svc.ServiceType) {
		first := lowestStep(ledger)
		ticket.CurrentStep = &first
	}
	if err := tx.Tickets().Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	for i := range ledger {
		ledger[i].TicketID = ticket.ID
	}
	if err := tx.Approvals().CreateBatch(ctx, ledger); err != nil {
		return nil, fmt.Errorf("create approval events: %w", err)
	}
	return ledger, nil
}

func lowestStep(ledger []domain.ApprovalEvent) int {
	lowest := ledger[0].StepOrder
	for _, ev := range ledger[1:] {
		if ev.StepOrder < lowest {
			lowest = ev.StepOrder
		}
	}
	return lowest
}
