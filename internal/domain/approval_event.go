package domain

import "time"

// ApprovalStatus is the resolution state of one approval obligation.
type ApprovalStatus int16

const (
	ApprovalStatusPending  ApprovalStatus = 0
	ApprovalStatusApproved ApprovalStatus = 1
	ApprovalStatusRejected ApprovalStatus = 2
)

func (s ApprovalStatus) String() string {
	switch s {
	case ApprovalStatusPending:
		return "pending"
	case ApprovalStatusApproved:
		return "approved"
	case ApprovalStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ApprovalEvent is one approver's obligation for one ticket at one step order.
type ApprovalEvent struct {
	ID           int64
	TicketID     int64
	ApproverID   int64
	StepOrder    int
	Status       ApprovalStatus
	ApprovedAt   *time.Time
	Comment      *string
	RejectRemark *string
	StepType     StepType
	StepValue    *int64
	CreatedAt    time.Time
}
