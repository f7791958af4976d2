package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/approval-service/internal/domain"
	"github.com/spec-kit/approval-service/internal/repository"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

// resolveFunc turns one workflow step into candidate approver ids.
type resolveFunc func(ctx context.Context, dir repository.DirectoryRepository, step domain.WorkflowStep, requester *domain.Account) ([]int64, error)

// ApproverResolver maps workflow steps to the accounts that must approve them.
type ApproverResolver struct {
	fallbackRoleID int64
	strategies     map[domain.StepType]resolveFunc
}

// NewApproverResolver builds a resolver. fallbackRoleID is used by superior
// steps when the requester has no superior; zero disables the fallback.
func NewApproverResolver(fallbackRoleID int64) *ApproverResolver {
	r := &ApproverResolver{fallbackRoleID: fallbackRoleID}
	r.strategies = map[domain.StepType]resolveFunc{
		domain.StepTypeSpecificUser: resolveSpecificUser,
		domain.StepTypeTeam:         resolveTeam,
		domain.StepTypeRole:         resolveRole,
		domain.StepTypeSuperior:     r.resolveSuperior,
	}
	return r
}

// Resolve returns the distinct approver ids for step, in resolution order. An
// empty result is valid and means the step contributes no obligations.
func (r *ApproverResolver) Resolve(ctx context.Context, dir repository.DirectoryRepository, step domain.WorkflowStep, requester *domain.Account) ([]int64, error) {
	strategy, ok := r.strategies[step.StepType.Normalize()]
	if !ok {
		return nil, resolutionError(step, "unknown step type")
	}
	ids, err := strategy(ctx, dir, step, requester)
	if err != nil {
		return nil, err
	}
	return dedupeIDs(ids), nil
}

func resolveSpecificUser(_ context.Context, _ repository.DirectoryRepository, step domain.WorkflowStep, _ *domain.Account) ([]int64, error) {
	if step.AssignedValue == nil {
		return nil, resolutionError(step, "step has no assigned user")
	}
	return []int64{*step.AssignedValue}, nil
}

func resolveTeam(ctx context.Context, dir repository.DirectoryRepository, step domain.WorkflowStep, _ *domain.Account) ([]int64, error) {
	if step.AssignedValue == nil {
		return nil, resolutionError(step, "step has no assigned team")
	}
	ids, err := dir.ListTeamMemberIDs(ctx, *step.AssignedValue)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	return ids, nil
}

func resolveRole(ctx context.Context, dir repository.DirectoryRepository, step domain.WorkflowStep, _ *domain.Account) ([]int64, error) {
	if step.AssignedValue == nil {
		return nil, resolutionError(step, "step has no assigned role")
	}
	ids, err := dir.ListActiveAccountIDsByRole(ctx, *step.AssignedValue)
	if err != nil {
		return nil, fmt.Errorf("list role holders: %w", err)
	}
	return ids, nil
}

func (r *ApproverResolver) resolveSuperior(ctx context.Context, dir repository.DirectoryRepository, step domain.WorkflowStep, requester *domain.Account) ([]int64, error) {
	if requester != nil && requester.SuperiorID != nil {
		return []int64{*requester.SuperiorID}, nil
	}
	if r.fallbackRoleID <= 0 {
		return nil, resolutionError(step, "requester has no superior")
	}
	ids, err := dir.ListActiveAccountIDsByRole(ctx, r.fallbackRoleID)
	if err != nil {
		return nil, fmt.Errorf("list fallback approvers: %w", err)
	}
	if len(ids) == 0 {
		return nil, resolutionError(step, "requester has no superior and no fallback approver is active")
	}
	return ids[:1], nil
}

func resolutionError(step domain.WorkflowStep, message string) error {
	return apperrors.NewResolutionError(message, map[string]any{
		"step_order": step.StepOrder,
		"step_type":  string(step.StepType),
	})
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
