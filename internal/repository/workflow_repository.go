package repository

import (
	"context"

	"github.com/spec-kit/approval-service/internal/domain"
)

// WorkflowRepository reads service and workflow definitions.
type WorkflowRepository interface {
	GetService(ctx context.Context, id int64) (*domain.Service, error)
	ListSteps(ctx context.Context, workflowGroupID int64) ([]domain.WorkflowStep, error)
}

type workflowRepository struct {
	db DBTX
}

// NewWorkflowRepository constructs repository.
func NewWorkflowRepository(db DBTX) WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) GetService(ctx context.Context, id int64) (*domain.Service, error) {
	const query = `
        SELECT id, name, service_type, workflow_group_id, fulfillment_team_id, default_assignee_id, is_active
        FROM services WHERE id=$1`
	var svc domain.Service
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&svc.ID,
		&svc.Name,
		&svc.ServiceType,
		&svc.WorkflowGroupID,
		&svc.FulfillmentTeamID,
		&svc.DefaultAssigneeID,
		&svc.IsActive,
	); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *workflowRepository) ListSteps(ctx context.Context, workflowGroupID int64) ([]domain.WorkflowStep, error) {
	const query = `
        SELECT id, workflow_group_id, step_order, step_type, assigned_value
        FROM workflow_steps WHERE workflow_group_id=$1 ORDER BY step_order ASC`
	rows, err := r.db.Query(ctx, query, workflowGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WorkflowStep
	for rows.Next() {
		var step domain.WorkflowStep
		if err := rows.Scan(
			&step.ID,
			&step.WorkflowGroupID,
			&step.StepOrder,
			&step.StepType,
			&step.AssignedValue,
		); err != nil {
			return nil, err
		}
		result = append(result, step)
	}
	return result, rows.Err()
}
