package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-service/internal/domain"
	apperrors "github.com/spec-kit/approval-service/pkg/util/errorutil"
)

func TestApproverResolverStrategies(t *testing.T) {
	store := newMemStore()
	store.addTeam(5, 21, 22, 21)
	store.addTeam(6)
	store.addAccount(domain.Account{ID: 7, RoleID: ptr(int64(5))})
	store.addAccount(domain.Account{ID: 8, RoleID: ptr(int64(5))})
	store.addInactiveAccount(domain.Account{ID: 9, RoleID: ptr(int64(5))})

	requester := &domain.Account{ID: 1, SuperiorID: ptr(int64(42))}
	resolver := NewApproverResolver(0)

	tests := []struct {
		name string
		step domain.WorkflowStep
		want []int64
	}{
		{name: "specific user", step: step(1, domain.StepTypeSpecificUser, 11), want: []int64{11}},
		{name: "user alias with casing", step: step(1, " User ", 12), want: []int64{12}},
		{name: "team members deduplicated", step: step(1, domain.StepTypeTeam, 5), want: []int64{21, 22}},
		{name: "empty team", step: step(1, domain.StepTypeTeam, 6), want: []int64{}},
		{name: "active role holders", step: step(1, domain.StepTypeRole, 5), want: []int64{7, 8}},
		{name: "superior", step: step(1, domain.StepTypeSuperior, 0), want: []int64{42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), store.Directory(), tt.step, requester)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApproverResolverSuperiorFallback(t *testing.T) {
	store := newMemStore()
	store.addAccount(domain.Account{ID: 90, RoleID: ptr(int64(3))})
	store.addAccount(domain.Account{ID: 91, RoleID: ptr(int64(3))})
	requester := &domain.Account{ID: 1}

	got, err := NewApproverResolver(3).Resolve(context.Background(), store.Directory(), step(2, domain.StepTypeSuperior, 0), requester)
	require.NoError(t, err)
	assert.Equal(t, []int64{90}, got)

	_, err = NewApproverResolver(4).Resolve(context.Background(), store.Directory(), step(2, domain.StepTypeSuperior, 0), requester)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResolution))

	_, err = NewApproverResolver(0).Resolve(context.Background(), store.Directory(), step(2, domain.StepTypeSuperior, 0), requester)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResolution))
}

func TestApproverResolverRejectsBadSteps(t *testing.T) {
	store := newMemStore()
	resolver := NewApproverResolver(0)

	tests := []struct {
		name string
		step domain.WorkflowStep
	}{
		{name: "unknown type", step: step(3, "department_head", 1)},
		{name: "user without value", step: step(3, domain.StepTypeSpecificUser, 0)},
		{name: "team without value", step: step(3, domain.StepTypeTeam, 0)},
		{name: "role without value", step: step(3, domain.StepTypeRole, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), store.Directory(), tt.step, &domain.Account{ID: 1})
			require.Error(t, err)
			domainErr := apperrors.ToDomainError(err)
			assert.Equal(t, apperrors.CodeResolution, domainErr.Code)
			assert.Equal(t, 3, domainErr.Details["step_order"])
		})
	}
}
