package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/repository"
)

type nackCall struct {
	id          uuid.UUID
	availableAt time.Time
	lastError   string
}

type fakeOutbox struct {
	mu       sync.Mutex
	pending  []domain.OutboxMessage
	acked    []uuid.UUID
	nacked   []nackCall
	released []uuid.UUID
	params   repository.ClaimParams
}

func (f *fakeOutbox) Enqueue(ctx context.Context, msg *domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, *msg)
	return nil
}

func (f *fakeOutbox) Claim(ctx context.Context, params repository.ClaimParams) ([]domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
	n := params.Limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	for i := range out {
		out[i].Attempts++
	}
	return out, nil
}

func (f *fakeOutbox) Ack(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeOutbox) Nack(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, nackCall{id: id, availableAt: availableAt, lastError: lastError})
	return nil
}

func (f *fakeOutbox) Release(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func outboxMessage(t *testing.T, eventType events.EventType, ticketID int64, attempts int) domain.OutboxMessage {
	t.Helper()
	msg, err := events.ToOutbox(events.Event{Type: eventType, TicketID: ticketID, ServiceID: 3, Actor: events.AccountActor(5)})
	require.NoError(t, err)
	msg.ID = uuid.New()
	msg.Attempts = attempts
	return *msg
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRelay(outbox *fakeOutbox, dispatcher events.Dispatcher, maxAttempts int) *Relay {
	return NewRelay(RelayDependencies{
		Outbox:     outbox,
		Dispatcher: dispatcher,
		Config:     config.OutboxConfig{BatchSize: 10, MaxAttempts: maxAttempts, LockTTLSeconds: 30, PollIntervalMS: 10},
		Metrics:    observability.NewMetrics(),
		Clock:      func() time.Time { return fixedNow },
	})
}

func TestProcessBatchPublishesInOrderAndAcks(t *testing.T) {
	outbox := &fakeOutbox{}
	first := outboxMessage(t, events.EventTicketCreated, 1, 0)
	second := outboxMessage(t, events.EventStepApproved, 1, 0)
	outbox.pending = []domain.OutboxMessage{first, second}

	dispatcher := events.NewInMemoryDispatcher()
	var seen []events.EventType
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, func(ctx context.Context, e events.Event) error {
			seen = append(seen, e.Type)
			require.NotNil(t, e.Actor.AccountID)
			assert.Equal(t, int64(5), *e.Actor.AccountID)
			return nil
		})
	}

	n, err := newTestRelay(outbox, dispatcher, 5).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventStepApproved}, seen)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, outbox.acked)
	assert.Empty(t, outbox.nacked)

	assert.Equal(t, fixedNow.Add(-30*time.Second), outbox.params.LockExpiry)
	assert.Equal(t, 5, outbox.params.MaxAttempts)
}

func TestProcessBatchRetriesWithBackoff(t *testing.T) {
	outbox := &fakeOutbox{}
	msg := outboxMessage(t, events.EventTicketRejected, 2, 1)
	outbox.pending = []domain.OutboxMessage{msg}

	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventTicketRejected, func(ctx context.Context, e events.Event) error {
		return errors.New("bindings unavailable")
	})

	_, err := newTestRelay(outbox, dispatcher, 5).ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, outbox.nacked, 1)
	assert.Empty(t, outbox.acked)

	call := outbox.nacked[0]
	assert.Equal(t, "bindings unavailable", call.lastError)
	delay := call.availableAt.Sub(fixedNow)
	assert.GreaterOrEqual(t, delay, 2*time.Second)
	assert.LessOrEqual(t, delay, 2*time.Second+maxJitter)
}

func TestProcessBatchStopsAfterMaxAttempts(t *testing.T) {
	outbox := &fakeOutbox{}
	msg := outboxMessage(t, events.EventTicketCreated, 3, 2)
	outbox.pending = []domain.OutboxMessage{msg}

	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventTicketCreated, func(ctx context.Context, e events.Event) error {
		return errors.New(strings.Repeat("x", 2000))
	})

	_, err := newTestRelay(outbox, dispatcher, 3).ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, outbox.nacked, 1)
	assert.Equal(t, fixedNow, outbox.nacked[0].availableAt)
	assert.Len(t, outbox.nacked[0].lastError, maxErrorLength)
}

func TestProcessBatchHoldsLaterMessagesOfFailedTicket(t *testing.T) {
	outbox := &fakeOutbox{}
	final := outboxMessage(t, events.EventFinalApproved, 6, 0)
	approved := outboxMessage(t, events.EventTicketApproved, 6, 0)
	other := outboxMessage(t, events.EventTicketCreated, 7, 0)
	outbox.pending = []domain.OutboxMessage{final, approved, other}

	dispatcher := events.NewInMemoryDispatcher()
	var seen []events.EventType
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, func(ctx context.Context, e events.Event) error {
			seen = append(seen, e.Type)
			if e.Type == events.EventFinalApproved {
				return context.DeadlineExceeded
			}
			return nil
		})
	}

	n, err := newTestRelay(outbox, dispatcher, 5).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []events.EventType{events.EventFinalApproved, events.EventTicketCreated}, seen)
	require.Len(t, outbox.nacked, 1)
	assert.Equal(t, final.ID, outbox.nacked[0].id)
	assert.Equal(t, []uuid.UUID{approved.ID}, outbox.released)
	assert.Equal(t, []uuid.UUID{other.ID}, outbox.acked)
}

func TestRunProcessesOnNotify(t *testing.T) {
	outbox := &fakeOutbox{}
	dispatcher := events.NewInMemoryDispatcher()
	done := make(chan struct{})
	dispatcher.Subscribe(events.EventFinalApproved, func(ctx context.Context, e events.Event) error {
		close(done)
		return nil
	})
	relay := newTestRelay(outbox, dispatcher, 5)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- relay.Run(ctx) }()

	require.NoError(t, outbox.Enqueue(ctx, ptrMsg(outboxMessage(t, events.EventFinalApproved, 4, 0))))
	relay.Notify()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not publish")
	}
	cancel()
	assert.NoError(t, <-errCh)
}

type stubLease struct {
	acquired bool
	released bool
}

func (l *stubLease) TryAcquire(ctx context.Context) (bool, error) { return l.acquired, nil }
func (l *stubLease) Release(ctx context.Context) error {
	l.released = true
	return nil
}

func TestRunSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	outbox := &fakeOutbox{}
	outbox.pending = []domain.OutboxMessage{outboxMessage(t, events.EventTicketCreated, 5, 0)}
	lease := &stubLease{acquired: false}
	relay := NewRelay(RelayDependencies{
		Outbox:     outbox,
		Dispatcher: events.NewInMemoryDispatcher(),
		Lease:      lease,
		Config:     config.OutboxConfig{BatchSize: 10, MaxAttempts: 5, LockTTLSeconds: 30, PollIntervalMS: 5, SingleActive: true},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))

	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	assert.Len(t, outbox.pending, 1)
	assert.False(t, lease.released)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), backoff(0))
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 8*time.Second, backoff(4))
	assert.Equal(t, maxBackoff, backoff(20))
	assert.Equal(t, maxBackoff, backoff(500))
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abé", 3))
}

func ptrMsg(m domain.OutboxMessage) *domain.OutboxMessage { return &m }
