package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusDraft         TicketStatus = "DRAFT"
	TicketStatusPending       TicketStatus = "PENDING"
	TicketStatusFullyApproved TicketStatus = "FULLY_APPROVED"
	TicketStatusRejected      TicketStatus = "REJECTED"
	TicketStatusFulfilled     TicketStatus = "FULFILLED"
	TicketStatusCancelled     TicketStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s TicketStatus) IsTerminal() bool {
	switch s {
	case TicketStatusRejected, TicketStatusFulfilled, TicketStatusCancelled:
		return true
	}
	return false
}

// Ticket is the aggregate for service requests.
type Ticket struct {
	ID                 int64
	ExternalKey        string
	ServiceID          int64
	Status             TicketStatus
	RequesterID        int64
	AssignedTeamID     *int64
	AssigneeID         *int64
	CurrentStep        *int
	Details            map[string]string
	RejectReason       *string
	FulfillmentComment *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
