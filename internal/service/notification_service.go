package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/observability"
)

// NotificationService follows relayed lifecycle events: it logs each one and
// records how long it waited in the outbox.
type NotificationService struct {
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, metrics *observability.Metrics, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandlers subscribes to every lifecycle event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handleEvent)
	}
}

func (n *NotificationService) handleEvent(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("ticket_id", event.TicketID),
		zap.Int64("service_id", event.ServiceID),
	}
	if event.Actor.AccountID != nil {
		fields = append(fields, zap.Int64("actor_id", *event.Actor.AccountID))
	}

	switch event.Type {
	case events.EventStepApproved:
		fields = append(fields, zap.Any("step_order", event.Payload["step_order"]))
	case events.EventTicketRejected:
		fields = append(fields, zap.Any("step_order", event.Payload["step_order"]), zap.Any("remark", event.Payload["remark"]))
	}

	if !event.Timestamp.IsZero() {
		lag := n.now().Sub(event.Timestamp)
		n.metrics.ObserveRelayLag(string(event.Type), lag)
		fields = append(fields, zap.Duration("relay_lag", lag))
	}
	n.logger.Info("lifecycle event delivered", fields...)
	return nil
}
