package worker

import (
	"context"

	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/events"
	"github.com/spec-kit/approval-service/internal/service"
)

// TriggerRunner executes the handlers bound to a lifecycle event.
type TriggerRunner interface {
	Dispatch(ctx context.Context, serviceID, ticketID int64, event domain.TriggerEvent, extra map[string]any, actorID *int64) error
}

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartTriggerWorker routes every relayed event to the trigger runner.
func StartTriggerWorker(dispatcher events.Dispatcher, runner TriggerRunner) {
	if dispatcher == nil || runner == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			return runner.Dispatch(ctx, event.ServiceID, event.TicketID, event.Type, event.Payload, event.Actor.AccountID)
		})
	}
}
