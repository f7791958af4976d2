package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/approval-service/internal/domain"
)

// EventType enumerates supported event identifiers. Each one is a trigger point.
type EventType = domain.TriggerEvent

const (
	EventTicketCreated  EventType = domain.TriggerOnCreated
	EventStepApproved   EventType = domain.TriggerOnStepApproved
	EventFinalApproved  EventType = domain.TriggerOnFinalApproved
	EventTicketApproved EventType = domain.TriggerOnApproved
	EventTicketRejected EventType = domain.TriggerOnRejected
)

// AllEventTypes lists every event a subscriber may bind to.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventStepApproved,
	EventFinalApproved,
	EventTicketApproved,
	EventTicketRejected,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	AccountID *int64 `json:"account_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TicketID  int64          `json:"ticket_id"`
	ServiceID int64          `json:"service_id"`
	Actor     Actor          `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// StepApprovedPayload payload.
type StepApprovedPayload struct {
	StepOrder  int   `json:"step_order"`
	ApproverID int64 `json:"approver_id"`
}

// RejectedPayload payload.
type RejectedPayload struct {
	StepOrder  int    `json:"step_order"`
	ApproverID int64  `json:"approver_id"`
	Remark     string `json:"remark"`
}

// AccountActor builds an actor for the account.
func AccountActor(accountID int64) Actor {
	return Actor{AccountID: &accountID}
}

// PayloadOf flattens a typed payload into the map carried on the event.
func PayloadOf(v any) map[string]any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

type envelope struct {
	Actor     Actor          `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ToOutbox converts an event into an outbox row ready to be enqueued.
func ToOutbox(event Event) (*domain.OutboxMessage, error) {
	if !event.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
	eventID := uuid.New()
	if event.ID != "" {
		parsed, err := uuid.Parse(event.ID)
		if err != nil {
			return nil, fmt.Errorf("event id: %w", err)
		}
		eventID = parsed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(envelope{Actor: event.Actor, Timestamp: event.Timestamp, Payload: event.Payload})
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return &domain.OutboxMessage{
		EventID:      eventID,
		TicketID:     event.TicketID,
		ServiceID:    event.ServiceID,
		TriggerEvent: event.Type,
		Payload:      raw,
	}, nil
}

// FromOutbox restores the event carried by an outbox row.
func FromOutbox(msg domain.OutboxMessage) (Event, error) {
	var env envelope
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return Event{}, fmt.Errorf("decode event payload: %w", err)
		}
	}
	return Event{
		ID:        msg.EventID.String(),
		Type:      msg.TriggerEvent,
		TicketID:  msg.TicketID,
		ServiceID: msg.ServiceID,
		Actor:     env.Actor,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	}, nil
}
