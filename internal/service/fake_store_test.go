package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/repository"
)

// memData is the state behind memStore. WithinTx snapshots and restores it.
type memData struct {
	tickets    map[int64]domain.Ticket
	approvals  []domain.ApprovalEvent
	services   map[int64]domain.Service
	steps      map[int64][]domain.WorkflowStep
	accounts   map[int64]domain.Account
	teams      map[int64][]int64
	history    []domain.TicketHistory
	outbox     []domain.OutboxMessage
	logs       []domain.TriggerExecutionLog
	nextID     int64
	failOutbox error
}

func (d *memData) clone() *memData {
	c := *d
	c.tickets = make(map[int64]domain.Ticket, len(d.tickets))
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	c.approvals = append([]domain.ApprovalEvent(nil), d.approvals...)
	c.history = append([]domain.TicketHistory(nil), d.history...)
	c.outbox = append([]domain.OutboxMessage(nil), d.outbox...)
	c.logs = append([]domain.TriggerExecutionLog(nil), d.logs...)
	return &c
}

func (d *memData) id() int64 {
	d.nextID++
	return d.nextID
}

type memStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

func newMemStore() *memStore {
	data := &memData{
		tickets:  map[int64]domain.Ticket{},
		services: map[int64]domain.Service{},
		steps:    map[int64][]domain.WorkflowStep{},
		accounts: map[int64]domain.Account{},
		teams:    map[int64][]int64{},
		nextID:   1000,
	}
	return &memStore{mu: &sync.Mutex{}, data: data}
}

func (s *memStore) Tickets() repository.TicketRepository { return memTickets{s.data} }
func (s *memStore) Approvals() repository.ApprovalRepository { return memApprovals{s.data} }
func (s *memStore) Workflows() repository.WorkflowRepository { return memWorkflows{s.data} }
func (s *memStore) Directory() repository.DirectoryRepository { return memDirectory{s.data} }
func (s *memStore) Triggers() repository.TriggerRepository { return memTriggers{s.data} }
func (s *memStore) Outbox() repository.OutboxRepository { return memOutbox{s.data} }
func (s *memStore) History() repository.TicketHistoryRepository { return memHistory{s.data} }

// WithinTx serializes transactions, which stands in for row locks.
func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memStore{mu: s.mu, data: s.data, inTx: true}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

// fixtures

func (s *memStore) addAccount(acc domain.Account) {
	acc.IsActive = true
	s.data.accounts[acc.ID] = acc
}

func (s *memStore) addInactiveAccount(acc domain.Account) {
	acc.IsActive = false
	s.data.accounts[acc.ID] = acc
}

func (s *memStore) addTeam(teamID int64, members ...int64) {
	s.data.teams[teamID] = members
}

func (s *memStore) addService(svc domain.Service, steps ...domain.WorkflowStep) {
	svc.IsActive = true
	s.data.services[svc.ID] = svc
	if svc.WorkflowGroupID != nil {
		for i := range steps {
			steps[i].WorkflowGroupID = *svc.WorkflowGroupID
			steps[i].ID = s.data.id()
		}
		s.data.steps[*svc.WorkflowGroupID] = steps
	}
}

func (s *memStore) eventsOf(ticketID int64) []domain.ApprovalEvent {
	var out []domain.ApprovalEvent
	for _, ev := range s.data.approvals {
		if ev.TicketID == ticketID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *memStore) outboxEvents(ticketID int64) []domain.TriggerEvent {
	var out []domain.TriggerEvent
	for _, msg := range s.data.outbox {
		if msg.TicketID == ticketID {
			out = append(out, msg.TriggerEvent)
		}
	}
	return out
}

func (s *memStore) ticket(id int64) domain.Ticket {
	return s.data.tickets[id]
}

func step(order int, stepType domain.StepType, value int64) domain.WorkflowStep {
	ws := domain.WorkflowStep{StepOrder: order, StepType: stepType}
	if value != 0 {
		ws.AssignedValue = &value
	}
	return ws
}

func ptr[T any](v T) *T { return &v }

// repositories

type memTickets struct{ d *memData }

func (r memTickets) Create(ctx context.Context, ticket *domain.Ticket) error {
	ticket.ID = r.d.id()
	ticket.CreatedAt = time.Now().UTC()
	ticket.UpdatedAt = ticket.CreatedAt
	r.d.tickets[ticket.ID] = *ticket
	return nil
}

func (r memTickets) Update(ctx context.Context, ticket *domain.Ticket) error {
	if _, ok := r.d.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = time.Now().UTC()
	r.d.tickets[ticket.ID] = *ticket
	return nil
}

func (r memTickets) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	t, ok := r.d.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r memTickets) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r memTickets) ListByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, t := range r.d.tickets {
		if t.RequesterID == requesterID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memTickets) ListAwaitingApprover(ctx context.Context, approverID int64, legacyTypes []string, limit, offset int) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, t := range r.d.tickets {
		if t.Status != domain.TicketStatusPending {
			continue
		}
		legacy := false
		for _, lt := range legacyTypes {
			if strings.EqualFold(lt, r.d.services[t.ServiceID].ServiceType) {
				legacy = true
			}
		}
		for _, ev := range r.d.approvals {
			if ev.TicketID != t.ID || ev.ApproverID != approverID || ev.Status != domain.ApprovalStatusPending {
				continue
			}
			if legacy || (t.CurrentStep != nil && *t.CurrentStep == ev.StepOrder) {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memApprovals struct{ d *memData }

func (r memApprovals) CreateBatch(ctx context.Context, events []domain.ApprovalEvent) error {
	for i := range events {
		events[i].ID = r.d.id()
		events[i].CreatedAt = time.Now().UTC()
		r.d.approvals = append(r.d.approvals, events[i])
	}
	return nil
}

func (r memApprovals) ListByTicket(ctx context.Context, ticketID int64) ([]domain.ApprovalEvent, error) {
	var out []domain.ApprovalEvent
	for _, ev := range r.d.approvals {
		if ev.TicketID == ticketID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r memApprovals) FindPendingForUpdate(ctx context.Context, ticketID, approverID int64, stepOrder *int) (*domain.ApprovalEvent, error) {
	var found *domain.ApprovalEvent
	for i := range r.d.approvals {
		ev := r.d.approvals[i]
		if ev.TicketID != ticketID || ev.ApproverID != approverID || ev.Status != domain.ApprovalStatusPending {
			continue
		}
		if stepOrder != nil && ev.StepOrder != *stepOrder {
			continue
		}
		if found == nil || ev.StepOrder < found.StepOrder {
			found = &ev
		}
	}
	if found == nil {
		return nil, pgx.ErrNoRows
	}
	return found, nil
}

func (r memApprovals) set(id int64, fn func(ev *domain.ApprovalEvent)) bool {
	for i := range r.d.approvals {
		if r.d.approvals[i].ID == id && r.d.approvals[i].Status == domain.ApprovalStatusPending {
			fn(&r.d.approvals[i])
			return true
		}
	}
	return false
}

func (r memApprovals) MarkApproved(ctx context.Context, eventID int64, comment *string, at time.Time) (bool, error) {
	return r.set(eventID, func(ev *domain.ApprovalEvent) {
		ev.Status = domain.ApprovalStatusApproved
		ev.ApprovedAt = &at
		ev.Comment = comment
	}), nil
}

func (r memApprovals) ApproveSiblings(ctx context.Context, ticketID int64, stepOrder int, at time.Time) (int64, error) {
	var n int64
	for i := range r.d.approvals {
		ev := &r.d.approvals[i]
		if ev.TicketID == ticketID && ev.StepOrder == stepOrder && ev.Status == domain.ApprovalStatusPending {
			ev.Status = domain.ApprovalStatusApproved
			ev.ApprovedAt = &at
			n++
		}
	}
	return n, nil
}

func (r memApprovals) MarkRejected(ctx context.Context, eventID int64, remark string, at time.Time) (bool, error) {
	return r.set(eventID, func(ev *domain.ApprovalEvent) {
		ev.Status = domain.ApprovalStatusRejected
		ev.ApprovedAt = &at
		ev.RejectRemark = &remark
	}), nil
}

func (r memApprovals) LowestPendingStep(ctx context.Context, ticketID int64) (*int, error) {
	var lowest *int
	for _, ev := range r.d.approvals {
		if ev.TicketID == ticketID && ev.Status == domain.ApprovalStatusPending {
			if lowest == nil || ev.StepOrder < *lowest {
				order := ev.StepOrder
				lowest = &order
			}
		}
	}
	return lowest, nil
}

func (r memApprovals) Counts(ctx context.Context, ticketID int64) (int, int, error) {
	var approved, total int
	for _, ev := range r.d.approvals {
		if ev.TicketID != ticketID {
			continue
		}
		total++
		if ev.Status == domain.ApprovalStatusApproved {
			approved++
		}
	}
	return approved, total, nil
}

type memWorkflows struct{ d *memData }

func (r memWorkflows) GetService(ctx context.Context, id int64) (*domain.Service, error) {
	svc, ok := r.d.services[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &svc, nil
}

func (r memWorkflows) ListSteps(ctx context.Context, workflowGroupID int64) ([]domain.WorkflowStep, error) {
	steps := append([]domain.WorkflowStep(nil), r.d.steps[workflowGroupID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

type memDirectory struct{ d *memData }

func (r memDirectory) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, ok := r.d.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &acc, nil
}

func (r memDirectory) GetDepartment(ctx context.Context, id int64) (*domain.Department, error) {
	return &domain.Department{ID: id, Name: "Operations"}, nil
}

func (r memDirectory) ListTeamMemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	return append([]int64(nil), r.d.teams[teamID]...), nil
}

func (r memDirectory) ListActiveAccountIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	var ids []int64
	for _, acc := range r.d.accounts {
		if acc.IsActive && acc.RoleID != nil && *acc.RoleID == roleID {
			ids = append(ids, acc.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r memDirectory) IsTeamMember(ctx context.Context, teamID, accountID int64) (bool, error) {
	for _, id := range r.d.teams[teamID] {
		if id == accountID {
			return true, nil
		}
	}
	return false, nil
}

type memTriggers struct{ d *memData }

func (r memTriggers) ListActiveBindings(ctx context.Context, serviceID int64, event domain.TriggerEvent) ([]domain.TriggerBinding, error) {
	return nil, nil
}

func (r memTriggers) InsertExecutionLog(ctx context.Context, entry *domain.TriggerExecutionLog) error {
	r.d.logs = append(r.d.logs, *entry)
	return nil
}

func (r memTriggers) ListExecutionLogs(ctx context.Context, ticketID int64) ([]domain.TriggerExecutionLog, error) {
	var out []domain.TriggerExecutionLog
	for _, l := range r.d.logs {
		if l.TicketID == ticketID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memOutbox struct{ d *memData }

func (r memOutbox) Enqueue(ctx context.Context, msg *domain.OutboxMessage) error {
	if r.d.failOutbox != nil {
		return r.d.failOutbox
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Sequence = r.d.id()
	r.d.outbox = append(r.d.outbox, *msg)
	return nil
}

func (r memOutbox) Claim(ctx context.Context, params repository.ClaimParams) ([]domain.OutboxMessage, error) {
	return nil, nil
}

func (r memOutbox) Ack(ctx context.Context, id uuid.UUID, at time.Time) error { return nil }

func (r memOutbox) Nack(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error {
	return nil
}

func (r memOutbox) Release(ctx context.Context, id uuid.UUID) error { return nil }

type memHistory struct{ d *memData }

func (r memHistory) Create(ctx context.Context, history *domain.TicketHistory) error {
	history.ID = r.d.id()
	r.d.history = append(r.d.history, *history)
	return nil
}

func (r memHistory) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	for _, h := range r.d.history {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}
