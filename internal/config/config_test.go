package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REPOSITORY", "DEFAULT_BRANCH", "MAX_WAIT_SECONDS", "CHECK_INTERVAL_SECONDS",
		"MAX_STARTUP_WAIT_SECONDS", "APPROVAL_TIMEOUT_MINUTES", "APPROVAL_REMINDER_INTERVAL_MINUTES",
		"APPROVAL_POLL_INTERVAL_SECONDS", "POST_MERGE_SETTLE_SECONDS", "APPROVER_GROUP",
		"REQUIRED_CI_CHECK", "TRIGGER_PHRASE", "AUTOMATION_IDENTITY", "RELEASE_MERGE_STRATEGY",
		"HEALTH_ADDR", "DEBUG", "GITHUB_TOKEN", "ORIGINATOR_ID",
		"RATE_LIMIT_MAX_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOSITORY", "mattermost/mattermost")
	t.Setenv("GITHUB_TOKEN", "token")
	t.Setenv("ORIGINATOR_ID", "123")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.DefaultBranch)
	assert.Equal(t, "merge-approvals", cfg.ApproverGroup)
	assert.Equal(t, "Ok to test", cfg.TriggerPhrase)
	assert.Equal(t, 123, cfg.OriginatorID)
	assert.Equal(t, 80, cfg.RateLimitMaxRequests)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOSITORY", "mattermost/mattermost")
	t.Setenv("GITHUB_TOKEN", "token")
	t.Setenv("ORIGINATOR_ID", "123")
	t.Setenv("DEFAULT_BRANCH", "release-1.0")
	t.Setenv("TRIGGER_PHRASE", "Go ahead")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "release-1.0", cfg.DefaultBranch)
	assert.Equal(t, "Go ahead", cfg.TriggerPhrase)
}

func TestLoadYAMLOverlayThenEnvPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_branch: from-yaml\napprover_group: yaml-approvers\n"), 0o644))

	t.Setenv("REPOSITORY", "mattermost/mattermost")
	t.Setenv("GITHUB_TOKEN", "token")
	t.Setenv("ORIGINATOR_ID", "123")
	t.Setenv("APPROVER_GROUP", "env-approvers")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.DefaultBranch)
	assert.Equal(t, "env-approvers", cfg.ApproverGroup, "env vars must win over the YAML overlay")
}

func TestLoadRejectsMissingRepository(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_TOKEN", "token")
	t.Setenv("ORIGINATOR_ID", "123")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedRepository(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOSITORY", "not-owner-slash-repo")
	t.Setenv("GITHUB_TOKEN", "token")
	t.Setenv("ORIGINATOR_ID", "123")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsMissingToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOSITORY", "mattermost/mattermost")
	t.Setenv("ORIGINATOR_ID", "123")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidReleaseMergeStrategy(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPOSITORY", "mattermost/mattermost")
	t.Setenv("GITHUB_TOKEN", "token")
	t.Setenv("ORIGINATOR_ID", "123")
	t.Setenv("RELEASE_MERGE_STRATEGY", "rebase")

	_, err := Load("")
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, 2700e9, float64(cfg.MaxWait()))
	assert.Equal(t, 60e9, float64(cfg.RateLimitWindow()))
}
