package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/observability"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

const (
	requesterID = int64(1)
	superiorID  = int64(42)
	roleID      = int64(5)
)

type fixture struct {
	store     *memStore
	tickets   *TicketService
	approvals *ApprovalService
	notifier  *countingNotifier
}

func newFixture(t *testing.T, workflow config.WorkflowConfig) *fixture {
	t.Helper()
	store := newMemStore()
	store.addAccount(domain.Account{ID: requesterID, Name: "Requester", SuperiorID: ptr(superiorID)})
	store.addAccount(domain.Account{ID: superiorID, Name: "Superior"})
	store.addAccount(domain.Account{ID: 7, RoleID: ptr(roleID)})
	store.addAccount(domain.Account{ID: 8, RoleID: ptr(roleID)})

	notifier := &countingNotifier{}
	metrics := observability.NewMetrics()
	clock := func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return &fixture{
		store:    store,
		notifier: notifier,
		tickets: NewTicketService(TicketDependencies{
			Store: store, Workflow: workflow, Metrics: metrics, Notifier: notifier, Clock: clock,
		}),
		approvals: NewApprovalService(ApprovalDependencies{
			Store: store, Workflow: workflow, Metrics: metrics, Notifier: notifier, Clock: clock,
		}),
	}
}

// scenarioService is a superior step followed by a role step resolving to 7 and 8.
func (f *fixture) scenarioService(serviceType string) int64 {
	group := int64(100)
	f.store.addService(domain.Service{ID: 10, Name: "Laptop request", ServiceType: serviceType, WorkflowGroupID: &group, FulfillmentTeamID: ptr(int64(77))},
		step(1, domain.StepTypeSuperior, 0),
		step(2, domain.StepTypeRole, roleID),
	)
	return 10
}

func (f *fixture) create(t *testing.T, serviceID int64) *domain.Ticket {
	t.Helper()
	view, err := f.tickets.CreateTicket(context.Background(), requesterID, TicketCreateInput{
		ServiceID: serviceID,
		Details:   map[string]string{"Title": "New laptop"},
	})
	require.NoError(t, err)
	return view.Ticket
}

func statusesByApprover(events []domain.ApprovalEvent) map[int64]domain.ApprovalStatus {
	out := map[int64]domain.ApprovalStatus{}
	for _, ev := range events {
		out[ev.ApproverID] = ev.Status
	}
	return out
}

func TestScenarioOrderedApprovalToCompletion(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))
	ctx := context.Background()

	ledger := f.store.eventsOf(ticket.ID)
	require.Len(t, ledger, 3)
	assert.Equal(t, 1, ledger[0].StepOrder)
	assert.Equal(t, superiorID, ledger[0].ApproverID)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	require.NotNil(t, ticket.CurrentStep)
	assert.Equal(t, 1, *ticket.CurrentStep)

	res, err := f.approvals.Approve(ctx, ticket.ID, superiorID, ptr("ok"))
	require.NoError(t, err)
	assert.False(t, res.IsFinal)
	require.NotNil(t, res.CurrentStep)
	assert.Equal(t, 2, *res.CurrentStep)
	assert.Equal(t, domain.TicketStatusPending, f.store.ticket(ticket.ID).Status)

	res, err = f.approvals.Approve(ctx, ticket.ID, 7, nil)
	require.NoError(t, err)
	assert.True(t, res.IsFinal)
	assert.Nil(t, res.CurrentStep)

	stored := f.store.ticket(ticket.ID)
	assert.Equal(t, domain.TicketStatusFullyApproved, stored.Status)
	assert.Nil(t, stored.CurrentStep)
	require.NotNil(t, stored.AssigneeID)
	assert.Equal(t, requesterID, *stored.AssigneeID)
	require.NotNil(t, stored.AssignedTeamID)
	assert.Equal(t, int64(77), *stored.AssignedTeamID)

	for _, status := range statusesByApprover(f.store.eventsOf(ticket.ID)) {
		assert.Equal(t, domain.ApprovalStatusApproved, status)
	}
	assert.Equal(t, []domain.TriggerEvent{
		domain.TriggerOnCreated,
		domain.TriggerOnStepApproved,
		domain.TriggerOnStepApproved,
		domain.TriggerOnFinalApproved,
		domain.TriggerOnApproved,
	}, f.store.outboxEvents(ticket.ID))
	assert.Equal(t, 3, f.notifier.count)
}

func TestScenarioRejectIsTerminal(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))
	ctx := context.Background()

	_, err := f.approvals.Reject(ctx, ticket.ID, superiorID, "budget denied")
	require.NoError(t, err)

	stored := f.store.ticket(ticket.ID)
	assert.Equal(t, domain.TicketStatusRejected, stored.Status)
	require.NotNil(t, stored.RejectReason)
	assert.Equal(t, "budget denied", *stored.RejectReason)

	_, err = f.approvals.Approve(ctx, ticket.ID, 7, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoPendingApproval))
	_, err = f.approvals.Reject(ctx, ticket.ID, 8, "too late")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoPendingApproval))
	assert.Equal(t, "ticket_terminal", apperrors.ToDomainError(err).Details["reason"])

	statuses := statusesByApprover(f.store.eventsOf(ticket.ID))
	assert.Equal(t, domain.ApprovalStatusRejected, statuses[superiorID])
	assert.Equal(t, domain.ApprovalStatusPending, statuses[7])
	assert.Equal(t, []domain.TriggerEvent{domain.TriggerOnCreated, domain.TriggerOnRejected}, f.store.outboxEvents(ticket.ID))
}

func TestScenarioEmptyTeamStepIsSkipped(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	f.store.addTeam(9)
	group := int64(200)
	f.store.addService(domain.Service{ID: 20, Name: "Pricing", WorkflowGroupID: &group},
		step(1, domain.StepTypeSpecificUser, 7),
		step(2, domain.StepTypeTeam, 9),
		step(3, domain.StepTypeSpecificUser, 8),
	)
	ticket := f.create(t, 20)
	ctx := context.Background()

	require.Len(t, f.store.eventsOf(ticket.ID), 2)

	res, err := f.approvals.Approve(ctx, ticket.ID, 7, nil)
	require.NoError(t, err)
	require.NotNil(t, res.CurrentStep)
	assert.Equal(t, 3, *res.CurrentStep)

	res, err = f.approvals.Approve(ctx, ticket.ID, 8, nil)
	require.NoError(t, err)
	assert.True(t, res.IsFinal)
}

func TestApproveTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))
	ctx := context.Background()

	_, err := f.approvals.Approve(ctx, ticket.ID, superiorID, nil)
	require.NoError(t, err)
	before := f.store.eventsOf(ticket.ID)
	outboxBefore := len(f.store.data.outbox)

	_, err = f.approvals.Approve(ctx, ticket.ID, superiorID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoPendingApproval))
	assert.Equal(t, before, f.store.eventsOf(ticket.ID))
	assert.Len(t, f.store.data.outbox, outboxBefore)
}

func TestCoApprovalClosesSiblings(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))
	ctx := context.Background()

	_, err := f.approvals.Approve(ctx, ticket.ID, superiorID, nil)
	require.NoError(t, err)
	_, err = f.approvals.Approve(ctx, ticket.ID, 8, nil)
	require.NoError(t, err)

	statuses := statusesByApprover(f.store.eventsOf(ticket.ID))
	assert.Equal(t, domain.ApprovalStatusApproved, statuses[7])
	assert.Equal(t, domain.ApprovalStatusApproved, statuses[8])

	_, err = f.approvals.Approve(ctx, ticket.ID, 7, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoPendingApproval))
}

func TestApproveOutOfTurnIsRejected(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))

	_, err := f.approvals.Approve(context.Background(), ticket.ID, 7, nil)
	require.Error(t, err)
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, apperrors.CodeNoPendingApproval, domainErr.Code)
	assert.Equal(t, "not_an_approver_at_current_step", domainErr.Details["reason"])

	stored := f.store.ticket(ticket.ID)
	assert.Equal(t, 1, *stored.CurrentStep)
}

func TestConcurrentApprovalsSucceedOnce(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))
	ctx := context.Background()
	_, err := f.approvals.Approve(ctx, ticket.ID, superiorID, nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for _, approver := range []int64{7, 8, 7, 8} {
		wg.Add(1)
		go func(approver int64) {
			defer wg.Done()
			_, err := f.approvals.Approve(ctx, ticket.ID, approver, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if apperrors.HasCode(err, apperrors.CodeNoPendingApproval) {
				failures++
			}
		}(approver)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 3, failures)
	assert.Equal(t, domain.TicketStatusFullyApproved, f.store.ticket(ticket.ID).Status)
}

func TestCurrentStepNeverRegresses(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	group := int64(300)
	f.store.addService(domain.Service{ID: 30, Name: "Sample", WorkflowGroupID: &group},
		step(10, domain.StepTypeSpecificUser, 7),
		step(20, domain.StepTypeSpecificUser, 8),
		step(30, domain.StepTypeSpecificUser, superiorID),
	)
	ticket := f.create(t, 30)
	ctx := context.Background()

	last := *ticket.CurrentStep
	for _, approver := range []int64{7, 8, superiorID} {
		res, err := f.approvals.Approve(ctx, ticket.ID, approver, nil)
		require.NoError(t, err)
		if res.CurrentStep == nil {
			assert.True(t, res.IsFinal)
			continue
		}
		assert.Greater(t, *res.CurrentStep, last)
		last = *res.CurrentStep
	}
}

func TestApproveRollsBackWhenOutboxFails(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))
	before := f.store.eventsOf(ticket.ID)
	f.store.data.failOutbox = errors.New("disk full")

	_, err := f.approvals.Approve(context.Background(), ticket.ID, superiorID, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
	assert.Equal(t, before, f.store.eventsOf(ticket.ID))
	assert.Equal(t, 1, *f.store.ticket(ticket.ID).CurrentStep)
}

func TestRejectRequiresRemark(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	ticket := f.create(t, f.scenarioService("general"))

	_, err := f.approvals.Reject(context.Background(), ticket.ID, superiorID, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Equal(t, domain.TicketStatusPending, f.store.ticket(ticket.ID).Status)
}

func TestApproveUnknownTicket(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{})
	_, err := f.approvals.Approve(context.Background(), 999, superiorID, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestCounterPolicyApprovesInAnyOrder(t *testing.T) {
	f := newFixture(t, config.WorkflowConfig{LegacyServiceTypes: []string{"PROCUREMENT"}})
	ticket := f.create(t, f.scenarioService("procurement"))
	ctx := context.Background()

	assert.IsType(t, counterPolicy{}, f.approvals.PolicyFor(&domain.Service{ServiceType: "procurement"}))
	assert.Nil(t, ticket.CurrentStep)

	res, err := f.approvals.Approve(ctx, ticket.ID, 8, nil)
	require.NoError(t, err)
	assert.False(t, res.IsFinal)
	assert.Nil(t, res.CurrentStep)
	assert.Nil(t, f.store.ticket(ticket.ID).CurrentStep)

	pending, err := f.tickets.ListPendingApprovals(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ticket.ID, pending[0].ID)

	statuses := statusesByApprover(f.store.eventsOf(ticket.ID))
	assert.Equal(t, domain.ApprovalStatusApproved, statuses[8])
	assert.Equal(t, domain.ApprovalStatusPending, statuses[7])

	_, err = f.approvals.Approve(ctx, ticket.ID, superiorID, nil)
	require.NoError(t, err)
	res, err = f.approvals.Approve(ctx, ticket.ID, 7, nil)
	require.NoError(t, err)
	assert.True(t, res.IsFinal)
	assert.Equal(t, domain.TicketStatusFullyApproved, f.store.ticket(ticket.ID).Status)

	_, err = f.approvals.Approve(ctx, ticket.ID, 7, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNoPendingApproval))
}
