package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKFLOW_LEGACY_SERVICE_TYPES", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, int64(1), cfg.Workflow.FallbackRoleID)
	assert.Empty(t, cfg.Workflow.LegacyServiceTypes)
	assert.Equal(t, 15*time.Second, cfg.Trigger.HandlerTimeout())
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval())
	assert.Equal(t, time.Minute, cfg.Outbox.LockTTL())
	assert.Equal(t, 60, cfg.Auth.TokenTTLMinutes)
	assert.Empty(t, cfg.Auth.AdminRoleIDs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKFLOW_LEGACY_SERVICE_TYPES", "sample_request, pricing_proposal ,")
	t.Setenv("WORKFLOW_FALLBACK_ROLE_ID", "9")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")
	t.Setenv("OUTBOX_SINGLE_ACTIVE", "true")
	t.Setenv("TRIGGER_HANDLER_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("AUTH_ADMIN_ROLE_IDS", "4, 8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"sample_request", "pricing_proposal"}, cfg.Workflow.LegacyServiceTypes)
	assert.True(t, cfg.Workflow.IsLegacy("SAMPLE_REQUEST"))
	assert.False(t, cfg.Workflow.IsLegacy("it_support"))
	assert.Equal(t, int64(9), cfg.Workflow.FallbackRoleID)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.True(t, cfg.Outbox.SingleActive)
	assert.Equal(t, 15*time.Second, cfg.Trigger.HandlerTimeout(), "invalid ints fall back to the default")
	assert.Equal(t, []int64{4, 8}, cfg.Auth.AdminRoleIDs)
}

func TestLoadRejectsBadFallbackRole(t *testing.T) {
	t.Setenv("WORKFLOW_FALLBACK_ROLE_ID", "admin")

	_, err := Load()
	assert.ErrorContains(t, err, "WORKFLOW_FALLBACK_ROLE_ID")
}

func TestLoadRejectsBadAdminRoles(t *testing.T) {
	t.Setenv("AUTH_ADMIN_ROLE_IDS", "1,root")

	_, err := Load()
	assert.ErrorContains(t, err, "AUTH_ADMIN_ROLE_IDS")
}
