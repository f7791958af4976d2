package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/config"
	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/repository"
)

const (
	maxBackoff     = 5 * time.Minute
	maxJitter      = 500 * time.Millisecond
	maxErrorLength = 1024
)

// Lease keeps a single relay active across replicas.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Relay publishes committed outbox rows to the event dispatcher.
type Relay struct {
	outbox     repository.OutboxRepository
	dispatcher events.Dispatcher
	lease      Lease
	cfg        config.OutboxConfig
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	wake  chan struct{}
	rngMu sync.Mutex
	rng   *rand.Rand
}

// RelayDependencies bundles collaborators for the relay. Lease is only
// consulted when Config.SingleActive is set.
type RelayDependencies struct {
	Outbox     repository.OutboxRepository
	Dispatcher events.Dispatcher
	Lease      Lease
	Config     config.OutboxConfig
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewRelay constructs the relay.
func NewRelay(deps RelayDependencies) *Relay {
	cfg := deps.Config
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.LockTTLSeconds <= 0 {
		cfg.LockTTLSeconds = 60
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Relay{
		outbox:     deps.Outbox,
		dispatcher: deps.Dispatcher,
		lease:      deps.Lease,
		cfg:        cfg,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        clock,
		wake:       make(chan struct{}, 1),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Notify wakes the relay without waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval())
	defer ticker.Stop()

	leader := false
	defer func() {
		if leader && r.lease != nil {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.lease.Release(releaseCtx); err != nil {
				r.logger.Warn("outbox relay lease release failed", zap.Error(err))
			}
		}
	}()

	r.logger.Info("outbox relay started",
		zap.Duration("poll_interval", r.cfg.PollInterval()),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Bool("single_active", r.cfg.SingleActive))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}

		if r.cfg.SingleActive && r.lease != nil {
			ok, err := r.lease.TryAcquire(ctx)
			if err != nil {
				r.logger.Warn("outbox relay lease acquire failed", zap.Error(err))
				continue
			}
			if ok != leader {
				r.logger.Info("outbox relay leadership changed", zap.Bool("leader", ok))
			}
			leader = ok
			if !leader {
				continue
			}
		}

		for {
			n, err := r.ProcessBatch(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					break
				}
				r.logger.Warn("outbox relay tick failed", zap.Error(err))
				break
			}
			if n < r.cfg.BatchSize {
				break
			}
		}
	}
}

// ProcessBatch claims one batch and publishes each message in sequence order.
// Once a ticket's message fails, its later messages in the batch are released
// untouched so they never overtake it. It returns how many messages were claimed.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	now := r.now()
	claimed, err := r.outbox.Claim(ctx, repository.ClaimParams{
		Now:         now,
		Limit:       r.cfg.BatchSize,
		MaxAttempts: r.cfg.MaxAttempts,
		LockExpiry:  now.Add(-r.cfg.LockTTL()),
	})
	if err != nil {
		return 0, err
	}

	held := make(map[int64]struct{})
	for _, msg := range claimed {
		if _, ok := held[msg.TicketID]; ok {
			if err := r.outbox.Release(ctx, msg.ID); err != nil {
				r.logger.Warn("outbox release failed", zap.String("event_id", msg.EventID.String()), zap.Error(err))
			}
			continue
		}
		if !r.publish(ctx, msg) {
			held[msg.TicketID] = struct{}{}
		}
	}
	return len(claimed), nil
}

// publish dispatches one message and reports whether it was acked.
func (r *Relay) publish(ctx context.Context, msg domain.OutboxMessage) bool {
	logger := r.logger.With(
		zap.String("event_id", msg.EventID.String()),
		zap.String("trigger_event", string(msg.TriggerEvent)),
		zap.Int64("ticket_id", msg.TicketID),
		zap.Int("attempt", msg.Attempts),
	)

	event, err := events.FromOutbox(msg)
	if err == nil {
		dispatchCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTTL())
		err = r.dispatcher.Publish(dispatchCtx, event)
		cancel()
	}

	if err == nil {
		r.metrics.RecordDispatch(string(msg.TriggerEvent), "success")
		if ackErr := r.outbox.Ack(ctx, msg.ID, r.now()); ackErr != nil {
			logger.Warn("outbox ack failed", zap.Error(ackErr))
		}
		return true
	}

	lastError := truncate(err.Error(), maxErrorLength)
	if msg.Attempts >= r.cfg.MaxAttempts {
		r.metrics.RecordDead(string(msg.TriggerEvent))
		logger.Error("outbox message exhausted retries", zap.Error(err))
		if nackErr := r.outbox.Nack(ctx, msg.ID, r.now(), lastError); nackErr != nil {
			logger.Warn("outbox nack failed", zap.Error(nackErr))
		}
		return false
	}

	r.metrics.RecordDispatch(string(msg.TriggerEvent), "retry")
	next := r.now().Add(backoff(msg.Attempts) + r.jitter())
	logger.Warn("outbox dispatch failed; scheduling retry", zap.Error(err), zap.Time("available_at", next))
	if nackErr := r.outbox.Nack(ctx, msg.ID, next, lastError); nackErr != nil {
		logger.Warn("outbox nack failed", zap.Error(nackErr))
	}
	return false
}

func (r *Relay) jitter() time.Duration {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return time.Duration(r.rng.Int63n(int64(maxJitter) + 1))
}

// backoff is 1s * 2^(attempts-1), capped at maxBackoff.
func backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	if attempts > 30 {
		return maxBackoff
	}
	seconds := math.Pow(2, float64(attempts-1))
	d := time.Duration(seconds * float64(time.Second))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s[:maxBytes])
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}
