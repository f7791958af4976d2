package domain

import (
	"encoding/json"
	"time"
)

// TriggerEvent names a lifecycle point at which bound handlers run.
type TriggerEvent string

const (
	TriggerOnCreated       TriggerEvent = "on_created"
	TriggerOnStepApproved  TriggerEvent = "on_step_approved"
	TriggerOnFinalApproved TriggerEvent = "on_final_approved"
	TriggerOnApproved      TriggerEvent = "on_approved"
	TriggerOnRejected      TriggerEvent = "on_rejected"
)

// Valid reports whether the event is one the dispatcher understands.
func (e TriggerEvent) Valid() bool {
	switch e {
	case TriggerOnCreated, TriggerOnStepApproved, TriggerOnFinalApproved, TriggerOnApproved, TriggerOnRejected:
		return true
	}
	return false
}

// TriggerBinding attaches a registered handler to a service lifecycle event.
type TriggerBinding struct {
	ID             int64
	ServiceID      int64
	HandlerName    string
	TriggerEvent   TriggerEvent
	ExecutionOrder int
	Config         json.RawMessage
	IsActive       bool
}

// ExecutionStatus is the outcome of one handler invocation.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// TriggerExecutionLog records one dispatch attempt. Rows are never updated.
type TriggerExecutionLog struct {
	ID           string
	TicketID     int64
	HandlerName  string
	TriggerEvent TriggerEvent
	Status       ExecutionStatus
	Input        json.RawMessage
	Output       json.RawMessage
	ErrorDetail  *string
	ActorID      *int64
	CreatedAt    time.Time
}
