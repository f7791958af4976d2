package domain

import "strings"

// StepType selects how a workflow step resolves to approvers.
type StepType string

const (
	StepTypeSpecificUser StepType = "specific_user"
	StepTypeUser         StepType = "user"
	StepTypeTeam         StepType = "team"
	StepTypeRole         StepType = "role"
	StepTypeSuperior     StepType = "superior"
)

// Normalize folds aliases and casing onto the canonical step type.
func (t StepType) Normalize() StepType {
	normalized := StepType(strings.ToLower(strings.TrimSpace(string(t))))
	if normalized == StepTypeUser {
		return StepTypeSpecificUser
	}
	return normalized
}

// WorkflowStep is one ordered approval gate of a workflow group.
type WorkflowStep struct {
	ID              int64
	WorkflowGroupID int64
	StepOrder       int
	StepType        StepType
	AssignedValue   *int64
}

// Service is a requestable offering; it may reference a workflow group.
type Service struct {
	ID                int64
	Name              string
	ServiceType       string
	WorkflowGroupID   *int64
	FulfillmentTeamID *int64
	DefaultAssigneeID *int64
	IsActive          bool
}
