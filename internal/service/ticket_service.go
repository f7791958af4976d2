package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/repository"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	store        repository.Store
	instantiator *WorkflowInstantiator
	workflow     config.WorkflowConfig
	metrics      *observability.Metrics
	notifier     RelayNotifier
	logger       *zap.Logger
	now          func() time.Time
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	Store    repository.Store
	Resolver *ApproverResolver
	Workflow config.WorkflowConfig
	Metrics  *observability.Metrics
	Notifier RelayNotifier
	Logger   *zap.Logger
	Clock    func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	ServiceID int64
	Details   map[string]string
}

// TicketView is a ticket together with its approval ledger.
type TicketView struct {
	Ticket    *domain.Ticket
	Approvals []domain.ApprovalEvent
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	resolver := deps.Resolver
	if resolver == nil {
		resolver = NewApproverResolver(deps.Workflow.FallbackRoleID)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &TicketService{
		store:        deps.Store,
		instantiator: NewWorkflowInstantiator(resolver, deps.Workflow),
		workflow:     deps.Workflow,
		metrics:      deps.Metrics,
		notifier:     deps.Notifier,
		logger:       logger,
		now:          clock,
	}
}

// CreateTicket creates a ticket and its approval ledger in one transaction.
func (s *TicketService) CreateTicket(ctx context.Context, requesterID int64, input TicketCreateInput) (*TicketView, error) {
	details := make(map[string]string, len(input.Details))
	for label, value := range input.Details {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		details[label] = strings.TrimSpace(value)
	}

	view := &TicketView{}
	var d *decision
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		svc, err := tx.Workflows().GetService(ctx, input.ServiceID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("service", map[string]any{"service_id": input.ServiceID})
			}
			return fmt.Errorf("load service: %w", err)
		}
		if !svc.IsActive {
			return apperrors.NewValidationError("service is not active", map[string]any{"service_id": svc.ID})
		}
		requester, err := tx.Directory().GetAccount(ctx, requesterID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewNotFound("account", map[string]any{"account_id": requesterID})
			}
			return fmt.Errorf("load requester: %w", err)
		}

		ticket := &domain.Ticket{
			ExternalKey: generateTicketKey(),
			ServiceID:   svc.ID,
			RequesterID: requester.ID,
			Details:     details,
		}
		ledger, err := s.instantiator.Instantiate(ctx, tx, ticket, svc, requester)
		if err != nil {
			return err
		}
		view.Ticket = ticket
		view.Approvals = ledger

		d = &decision{tx: tx, ticket: ticket, service: svc, actorID: requesterID, now: s.now()}
		if err := d.record(ctx, domain.ChangeTypeStatus, nil, map[string]any{
			"status":       ticket.Status,
			"current_step": ticket.CurrentStep,
		}); err != nil {
			return err
		}
		return d.emit(ctx, events.EventTicketCreated, nil)
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeResolution) {
			s.logger.Warn("workflow resolution failed",
				zap.Int64("service_id", input.ServiceID),
				zap.Int64("requester_id", requesterID),
				zap.Error(err))
		}
		return nil, apperrors.MapError(err)
	}

	announce(s.metrics, s.notifier, d)
	s.logger.Info("ticket created",
		zap.Int64("ticket_id", view.Ticket.ID),
		zap.String("ticket_key", view.Ticket.ExternalKey),
		zap.String("status", string(view.Ticket.Status)),
		zap.Int("approval_events", len(view.Approvals)),
	)
	return view, nil
}

// GetTicket returns the ticket and its ledger when actorID may see it.
func (s *TicketService) GetTicket(ctx context.Context, actorID, ticketID int64) (*TicketView, error) {
	ticket, ledger, err := s.loadVisible(ctx, actorID, ticketID)
	if err != nil {
		return nil, err
	}
	return &TicketView{Ticket: ticket, Approvals: ledger}, nil
}

// ListRequesterTickets returns paginated tickets for a requester.
func (s *TicketService) ListRequesterTickets(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Ticket, error) {
	tickets, err := s.store.Tickets().ListByRequester(ctx, requesterID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListPendingApprovals returns tickets currently waiting on approverID.
func (s *TicketService) ListPendingApprovals(ctx context.Context, approverID int64, limit, offset int) ([]domain.Ticket, error) {
	legacy := make([]string, 0, len(s.workflow.LegacyServiceTypes))
	for _, t := range s.workflow.LegacyServiceTypes {
		legacy = append(legacy, strings.ToLower(t))
	}
	tickets, err := s.store.Tickets().ListAwaitingApprover(ctx, approverID, legacy, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListTriggerLogs returns the execution log of a ticket the actor may see.
func (s *TicketService) ListTriggerLogs(ctx context.Context, actorID, ticketID int64) ([]domain.TriggerExecutionLog, error) {
	if _, _, err := s.loadVisible(ctx, actorID, ticketID); err != nil {
		return nil, err
	}
	logs, err := s.store.Triggers().ListExecutionLogs(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return logs, nil
}

// ListHistory returns the audit trail of a ticket the actor may see.
func (s *TicketService) ListHistory(ctx context.Context, actorID, ticketID int64) ([]domain.TicketHistory, error) {
	if _, _, err := s.loadVisible(ctx, actorID, ticketID); err != nil {
		return nil, err
	}
	history, err := s.store.History().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return history, nil
}

// Fulfil closes a fully approved ticket. Only the assignee or a member of the
// assigned team may fulfil.
func (s *TicketService) Fulfil(ctx context.Context, ticketID, actorID int64, comment string) (*domain.Ticket, error) {
	comment = strings.TrimSpace(comment)
	var ticket *domain.Ticket
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		ticket, err = lockForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if ticket.Status != domain.TicketStatusFullyApproved {
			return apperrors.NewConflict("ticket is not awaiting fulfilment", map[string]any{"status": string(ticket.Status)})
		}
		allowed, err := canFulfil(ctx, tx, ticket, actorID)
		if err != nil {
			return err
		}
		if !allowed {
			return apperrors.NewForbidden("only the assignee or assigned team may fulfil this ticket")
		}

		ticket.Status = domain.TicketStatusFulfilled
		if comment != "" {
			ticket.FulfillmentComment = &comment
		}
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			return fmt.Errorf("fulfil ticket: %w", err)
		}
		d := &decision{tx: tx, ticket: ticket, actorID: actorID}
		return d.record(ctx, domain.ChangeTypeStatus,
			map[string]any{"status": domain.TicketStatusFullyApproved},
			map[string]any{"status": ticket.Status, "comment": comment},
		)
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("ticket fulfilled", zap.Int64("ticket_id", ticketID), zap.Int64("actor_id", actorID))
	return ticket, nil
}

// Cancel withdraws a ticket that has not been approved yet. Requester only.
func (s *TicketService) Cancel(ctx context.Context, ticketID, actorID int64) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		ticket, err = lockForUpdate(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if ticket.RequesterID != actorID {
			return apperrors.NewForbidden("only the requester may cancel this ticket")
		}
		if ticket.Status != domain.TicketStatusDraft && ticket.Status != domain.TicketStatusPending {
			return apperrors.NewConflict("ticket can no longer be cancelled", map[string]any{"status": string(ticket.Status)})
		}

		oldStatus := ticket.Status
		ticket.Status = domain.TicketStatusCancelled
		ticket.CurrentStep = nil
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			return fmt.Errorf("cancel ticket: %w", err)
		}
		d := &decision{tx: tx, ticket: ticket, actorID: actorID}
		return d.record(ctx, domain.ChangeTypeStatus,
			map[string]any{"status": oldStatus},
			map[string]any{"status": ticket.Status},
		)
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("ticket cancelled", zap.Int64("ticket_id", ticketID), zap.Int64("actor_id", actorID))
	return ticket, nil
}

// loadVisible fetches a ticket with its ledger and checks the actor is the
// requester, an approver on the ledger, the assignee or in the assigned team.
func (s *TicketService) loadVisible(ctx context.Context, actorID, ticketID int64) (*domain.Ticket, []domain.ApprovalEvent, error) {
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, nil, apperrors.MapError(err)
	}
	ledger, err := s.store.Approvals().ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}

	if ticket.RequesterID == actorID || (ticket.AssigneeID != nil && *ticket.AssigneeID == actorID) {
		return ticket, ledger, nil
	}
	for _, ev := range ledger {
		if ev.ApproverID == actorID {
			return ticket, ledger, nil
		}
	}
	if ticket.AssignedTeamID != nil {
		member, err := s.store.Directory().IsTeamMember(ctx, *ticket.AssignedTeamID, actorID)
		if err != nil {
			return nil, nil, apperrors.MapError(err)
		}
		if member {
			return ticket, ledger, nil
		}
	}
	return nil, nil, apperrors.NewForbidden("access denied")
}

func lockForUpdate(ctx context.Context, tx repository.Store, ticketID int64) (*domain.Ticket, error) {
	ticket, err := tx.Tickets().GetForUpdate(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, fmt.Errorf("lock ticket: %w", err)
	}
	return ticket, nil
}

func canFulfil(ctx context.Context, tx repository.Store, ticket *domain.Ticket, actorID int64) (bool, error) {
	if ticket.AssigneeID != nil && *ticket.AssigneeID == actorID {
		return true, nil
	}
	if ticket.AssignedTeamID == nil {
		return false, nil
	}
	member, err := tx.Directory().IsTeamMember(ctx, *ticket.AssignedTeamID, actorID)
	if err != nil {
		return false, fmt.Errorf("check team membership: %w", err)
	}
	return member, nil
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
