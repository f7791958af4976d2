package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/observability"
	"github.com/spec-kit/approval-service/internal/repository"
)

// logWriteTimeout bounds an execution log insert once the dispatch context is done.
const logWriteTimeout = 5 * time.Second

// Dispatcher runs the handlers bound to a service lifecycle event and records
// one execution log entry per attempt. Handler failures never escape Dispatch.
// Failures to load bindings or ticket context are returned, and so is an
// expired or cancelled ctx, so the caller retries instead of acking a
// partially run binding list.
type Dispatcher struct {
	store    repository.Store
	registry *Registry
	cache    *gocache.Cache
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// DispatcherDependencies bundles collaborators for the dispatcher.
type DispatcherDependencies struct {
	Store          repository.Store
	Registry       *Registry
	HandlerTimeout time.Duration
	CacheTTL       time.Duration
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewDispatcher constructs the dispatcher. A zero CacheTTL disables binding caching.
func NewDispatcher(deps DispatcherDependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	d := &Dispatcher{
		store:    deps.Store,
		registry: registry,
		timeout:  deps.HandlerTimeout,
		metrics:  deps.Metrics,
		logger:   logger,
	}
	if deps.CacheTTL > 0 {
		d.cache = gocache.New(deps.CacheTTL, 2*deps.CacheTTL)
	}
	return d
}

// Dispatch invokes every active binding of (serviceID, event) in execution order.
func (d *Dispatcher) Dispatch(ctx context.Context, serviceID, ticketID int64, event domain.TriggerEvent, extra map[string]any, actorID *int64) error {
	bindings, err := d.bindings(ctx, serviceID, event)
	if err != nil {
		return fmt.Errorf("load trigger bindings: %w", err)
	}
	if len(bindings) == 0 {
		return nil
	}

	vars, err := d.variables(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("build trigger variables: %w", err)
	}
	for k, v := range extra {
		vars[k] = v
	}

	for _, binding := range bindings {
		d.invoke(ctx, binding, Invocation{
			TicketID:  ticketID,
			Event:     event,
			ActorID:   actorID,
			Config:    binding.Config,
			Variables: vars,
		})
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch %s interrupted after binding %d: %w", event, binding.ID, err)
		}
	}
	return nil
}

// InvalidateService drops cached bindings of a service.
func (d *Dispatcher) InvalidateService(serviceID int64) {
	if d.cache == nil {
		return
	}
	for _, event := range []domain.TriggerEvent{
		domain.TriggerOnCreated, domain.TriggerOnStepApproved, domain.TriggerOnFinalApproved,
		domain.TriggerOnApproved, domain.TriggerOnRejected,
	} {
		d.cache.Delete(cacheKey(serviceID, event))
	}
}

func (d *Dispatcher) bindings(ctx context.Context, serviceID int64, event domain.TriggerEvent) ([]domain.TriggerBinding, error) {
	key := cacheKey(serviceID, event)
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			return cached.([]domain.TriggerBinding), nil
		}
	}
	bindings, err := d.store.Triggers().ListActiveBindings(ctx, serviceID, event)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		d.cache.SetDefault(key, bindings)
	}
	return bindings, nil
}

func (d *Dispatcher) variables(ctx context.Context, ticketID int64) (map[string]any, error) {
	ticket, err := d.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	tc := TicketContext{Ticket: ticket}

	requester, err := d.store.Directory().GetAccount(ctx, ticket.RequesterID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	tc.Requester = requester

	if requester != nil && requester.DepartmentID != nil {
		dept, err := d.store.Directory().GetDepartment(ctx, *requester.DepartmentID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load department: %w", err)
		}
		tc.Department = dept
	}

	svc, err := d.store.Workflows().GetService(ctx, ticket.ServiceID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load service: %w", err)
	}
	tc.Service = svc

	return BuildVariables(tc), nil
}

func (d *Dispatcher) invoke(ctx context.Context, binding domain.TriggerBinding, inv Invocation) {
	logger := d.logger.With(
		zap.Int64("ticket_id", inv.TicketID),
		zap.String("trigger_event", string(inv.Event)),
		zap.String("handler", binding.HandlerName),
		zap.Int64("binding_id", binding.ID),
	)

	start := time.Now()
	output, err := d.run(ctx, binding.HandlerName, inv)
	elapsed := time.Since(start)

	entry := &domain.TriggerExecutionLog{
		ID:           uuid.NewString(),
		TicketID:     inv.TicketID,
		HandlerName:  binding.HandlerName,
		TriggerEvent: inv.Event,
		Status:       domain.ExecutionStatusSuccess,
		Input:        encodeJSON(map[string]any{"config": json.RawMessage(orEmptyObject(binding.Config)), "variables": inv.Variables}),
		ActorID:      inv.ActorID,
	}
	if output != nil {
		entry.Output = encodeJSON(output)
	}
	if err != nil {
		detail := err.Error()
		entry.Status = domain.ExecutionStatusFailed
		entry.ErrorDetail = &detail
		logger.Warn("trigger handler failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	} else {
		logger.Info("trigger handler succeeded", zap.Duration("elapsed", elapsed))
	}
	d.metrics.ObserveHandler(binding.HandlerName, string(entry.Status), elapsed)

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := d.store.Triggers().InsertExecutionLog(logCtx, entry); err != nil {
		logger.Error("write trigger execution log", zap.Error(err))
	}
}

// run executes one handler under the configured timeout and turns panics into errors.
func (d *Dispatcher) run(ctx context.Context, name string, inv Invocation) (map[string]any, error) {
	handler, ok := d.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown handler %q", name)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type result struct {
		output map[string]any
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("handler panic: %v", rec)}
			}
		}()
		out, err := handler.Execute(ctx, inv)
		done <- result{output: out, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("handler %q: %w", name, ctx.Err())
	}
}

func cacheKey(serviceID int64, event domain.TriggerEvent) string {
	return fmt.Sprintf("%d:%s", serviceID, event)
}

func encodeJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
