package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is a trigger dispatch recorded in the same transaction as the
// state change that caused it.
type OutboxMessage struct {
	ID           uuid.UUID
	EventID      uuid.UUID
	TicketID     int64
	ServiceID    int64
	TriggerEvent TriggerEvent
	Payload      json.RawMessage
	Sequence     int64
	Attempts     int
	AvailableAt  time.Time
	LastError    *string
	CreatedAt    time.Time
}
