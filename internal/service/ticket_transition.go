package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/repository"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

// decision carries one locked ticket through a state transition and collects
// the trigger events it emits.
type decision struct {
	tx      repository.Store
	ticket  *domain.Ticket
	service *domain.Service
	actorID int64
	comment *string
	now     time.Time

	emitted        []events.EventType
	siblingsClosed int64
}

func (d *decision) markApproved(ctx context.Context, ev *domain.ApprovalEvent) error {
	ok, err := d.tx.Approvals().MarkApproved(ctx, ev.ID, d.comment, d.now)
	if err != nil {
		return fmt.Errorf("mark approved: %w", err)
	}
	if !ok {
		return noPending(d.ticket, d.actorID, "already_resolved")
	}
	return d.record(ctx, domain.ChangeTypeApproval,
		map[string]any{"event_id": ev.ID, "status": domain.ApprovalStatusPending.String()},
		map[string]any{"event_id": ev.ID, "status": domain.ApprovalStatusApproved.String(), "step_order": ev.StepOrder},
	)
}

// finalize moves the ticket to FULLY_APPROVED and hands it to fulfilment.
func (d *decision) finalize(ctx context.Context) error {
	ticket := d.ticket
	oldStatus := ticket.Status
	oldAssignee := ticket.AssigneeID

	assignee := fulfilmentAssignee(d.service, ticket)
	ticket.Status = domain.TicketStatusFullyApproved
	ticket.CurrentStep = nil
	ticket.AssigneeID = &assignee
	ticket.AssignedTeamID = d.service.FulfillmentTeamID
	if err := d.tx.Tickets().Update(ctx, ticket); err != nil {
		return fmt.Errorf("finalize ticket: %w", err)
	}

	if err := d.record(ctx, domain.ChangeTypeStatus,
		map[string]any{"status": oldStatus},
		map[string]any{"status": ticket.Status},
	); err != nil {
		return err
	}
	if err := d.record(ctx, domain.ChangeTypeAssignee,
		map[string]any{"assignee_id": oldAssignee},
		map[string]any{"assignee_id": assignee, "team_id": ticket.AssignedTeamID},
	); err != nil {
		return err
	}

	if err := d.emit(ctx, events.EventFinalApproved, nil); err != nil {
		return err
	}
	return d.emit(ctx, events.EventTicketApproved, nil)
}

// fulfilmentAssignee picks the service's default assignee, else the requester.
func fulfilmentAssignee(svc *domain.Service, ticket *domain.Ticket) int64 {
	if svc != nil && svc.DefaultAssigneeID != nil {
		return *svc.DefaultAssigneeID
	}
	return ticket.RequesterID
}

// emit enqueues a trigger event in the current transaction.
func (d *decision) emit(ctx context.Context, eventType events.EventType, payload any) error {
	msg, err := events.ToOutbox(events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  d.ticket.ID,
		ServiceID: d.ticket.ServiceID,
		Actor:     events.AccountActor(d.actorID),
		Timestamp: d.now,
		Payload:   events.PayloadOf(payload),
	})
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := d.tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	d.emitted = append(d.emitted, eventType)
	return nil
}

func (d *decision) record(ctx context.Context, changeType domain.TicketChangeType, oldValue, newValue map[string]any) error {
	actorID := d.actorID
	entry := &domain.TicketHistory{
		TicketID:    d.ticket.ID,
		ChangedByID: &actorID,
		ChangeType:  changeType,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	if err := d.tx.History().Create(ctx, entry); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// announce counts the committed outbox rows and wakes the relay.
func announce(metrics *observability.Metrics, notifier RelayNotifier, d *decision) {
	if d == nil || len(d.emitted) == 0 {
		return
	}
	for _, eventType := range d.emitted {
		metrics.RecordEnqueue(string(eventType))
	}
	if notifier != nil {
		notifier.Notify()
	}
}
