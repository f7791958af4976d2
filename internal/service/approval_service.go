package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/repository"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

// RelayNotifier is woken after a commit that enqueued trigger events.
type RelayNotifier interface {
	Notify()
}

// ApprovalResult is returned by Approve.
type ApprovalResult struct {
	TicketID    int64
	CurrentStep *int
	IsFinal     bool
}

// RejectResult is returned by Reject.
type RejectResult struct {
	TicketID int64
}

// ApprovalService applies approver decisions to tickets.
type ApprovalService struct {
	store    repository.Store
	workflow config.WorkflowConfig
	metrics  *observability.Metrics
	notifier RelayNotifier
	logger   *zap.Logger
	now      func() time.Time
}

// ApprovalDependencies bundles collaborators for the approval service.
type ApprovalDependencies struct {
	Store    repository.Store
	Workflow config.WorkflowConfig
	Metrics  *observability.Metrics
	Notifier RelayNotifier
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewApprovalService constructs the service.
func NewApprovalService(deps ApprovalDependencies) *ApprovalService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &ApprovalService{
		store:    deps.Store,
		workflow: deps.Workflow,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		logger:   logger,
		now:      clock,
	}
}

// PolicyFor selects the approval policy for a service.
func (s *ApprovalService) PolicyFor(svc *domain.Service) ApprovalPolicy {
	if svc != nil && s.workflow.IsLegacy(svc.ServiceType) {
		return counterPolicy{}
	}
	return orderedPolicy{}
}

// Approve records approverID's approval of the ticket's pending obligation.
func (s *ApprovalService) Approve(ctx context.Context, ticketID, approverID int64, comment *string) (*ApprovalResult, error) {
	if comment != nil {
		trimmed := strings.TrimSpace(*comment)
		comment = &trimmed
		if trimmed == "" {
			comment = nil
		}
	}

	var (
		result *ApprovalResult
		policy ApprovalPolicy = orderedPolicy{}
		d      *decision
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		d, err = s.lockTicket(ctx, tx, ticketID, approverID)
		if err != nil {
			return err
		}
		d.comment = comment
		policy = s.PolicyFor(d.service)
		result, err = policy.Approve(ctx, d)
		return err
	})
	if err != nil {
		s.metrics.RecordDecision(policy.Name(), "approve", decisionOutcome(err))
		return nil, apperrors.MapError(err)
	}

	outcome := "advanced"
	if result.IsFinal {
		outcome = "final"
	}
	s.metrics.RecordDecision(policy.Name(), "approve", outcome)
	announce(s.metrics, s.notifier, d)
	s.logger.Info("ticket approved",
		zap.Int64("ticket_id", ticketID),
		zap.Int64("approver_id", approverID),
		zap.String("policy", policy.Name()),
		zap.Int64("co_approvals_closed", d.siblingsClosed),
		zap.Bool("is_final", result.IsFinal),
		zap.Any("current_step", result.CurrentStep),
	)
	return result, nil
}

// Reject records approverID's rejection and closes the ticket.
func (s *ApprovalService) Reject(ctx context.Context, ticketID, approverID int64, remark string) (*RejectResult, error) {
	remark = strings.TrimSpace(remark)
	if remark == "" {
		return nil, apperrors.NewValidationError("remark is required", map[string]any{"field": "remark"})
	}

	var (
		policy ApprovalPolicy = orderedPolicy{}
		d      *decision
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		d, err = s.lockTicket(ctx, tx, ticketID, approverID)
		if err != nil {
			return err
		}
		policy = s.PolicyFor(d.service)
		return reject(ctx, d, remark)
	})
	if err != nil {
		s.metrics.RecordDecision(policy.Name(), "reject", decisionOutcome(err))
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordDecision(policy.Name(), "reject", "rejected")
	announce(s.metrics, s.notifier, d)
	s.logger.Info("ticket rejected",
		zap.Int64("ticket_id", ticketID),
		zap.Int64("approver_id", approverID),
	)
	return &RejectResult{TicketID: ticketID}, nil
}

func reject(ctx context.Context, d *decision, remark string) error {
	ticket := d.ticket
	if ticket.Status != domain.TicketStatusPending {
		reason := "ticket_not_pending"
		if ticket.Status.IsTerminal() {
			reason = "ticket_terminal"
		}
		return noPending(ticket, d.actorID, reason)
	}

	ev, err := d.tx.Approvals().FindPendingForUpdate(ctx, ticket.ID, d.actorID, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return noPending(ticket, d.actorID, "no_pending_event")
		}
		return fmt.Errorf("find pending approval: %w", err)
	}
	ok, err := d.tx.Approvals().MarkRejected(ctx, ev.ID, remark, d.now)
	if err != nil {
		return fmt.Errorf("mark rejected: %w", err)
	}
	if !ok {
		return noPending(ticket, d.actorID, "already_resolved")
	}

	oldStatus := ticket.Status
	ticket.Status = domain.TicketStatusRejected
	ticket.RejectReason = &remark
	ticket.CurrentStep = nil
	if err := d.tx.Tickets().Update(ctx, ticket); err != nil {
		return fmt.Errorf("reject ticket: %w", err)
	}
	if err := d.record(ctx, domain.ChangeTypeApproval,
		map[string]any{"event_id": ev.ID, "status": domain.ApprovalStatusPending.String()},
		map[string]any{"event_id": ev.ID, "status": domain.ApprovalStatusRejected.String(), "step_order": ev.StepOrder},
	); err != nil {
		return err
	}
	if err := d.record(ctx, domain.ChangeTypeStatus,
		map[string]any{"status": oldStatus},
		map[string]any{"status": ticket.Status, "reason": remark},
	); err != nil {
		return err
	}
	return d.emit(ctx, events.EventTicketRejected, events.RejectedPayload{
		StepOrder:  ev.StepOrder,
		ApproverID: d.actorID,
		Remark:     remark,
	})
}

// lockTicket loads the ticket FOR UPDATE along with its service.
func (s *ApprovalService) lockTicket(ctx context.Context, tx repository.Store, ticketID, actorID int64) (*decision, error) {
	ticket, err := lockForUpdate(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	svc, err := tx.Workflows().GetService(ctx, ticket.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	return &decision{
		tx:      tx,
		ticket:  ticket,
		service: svc,
		actorID: actorID,
		now:     s.now(),
	}, nil
}

func decisionOutcome(err error) string {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return strings.ToLower(domainErr.Code)
	}
	return "error"
}
