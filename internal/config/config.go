// Package config builds the orchestrator's Config once, from environment
// variables with an optional YAML overlay, and hands it out by reference.
// Nothing re-reads configuration mid-cycle, mirroring the teacher's
// "built once, passed by reference" configuration discipline generalized
// from a hot-reloadable plugin setting to a one-shot process config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the orchestrator's full external configuration surface (§6 of
// the spec). It is built once by Load and never mutated afterward.
type Config struct {
	Repository string `yaml:"repository"`
	DefaultBranch string `yaml:"default_branch"`

	GitHubToken string `yaml:"-"` // never serialized; read from env only.

	OriginatorID int `yaml:"-"` // the originator issue number, supplied per run.

	// WorkflowFileName names the workflow definition the Lock Manager checks
	// for competing in-progress runs. Derived from GITHUB_WORKFLOW_REF when
	// running under GitHub Actions; never read from the YAML overlay since
	// it describes the invoking environment, not a tunable.
	WorkflowFileName string `yaml:"-"`

	MaxWaitSeconds          int `yaml:"max_wait_seconds"`
	CheckIntervalSeconds    int `yaml:"check_interval_seconds"`
	MaxStartupWaitSeconds   int `yaml:"max_startup_wait_seconds"`
	ApprovalTimeoutMinutes  int `yaml:"approval_timeout_minutes"`
	ApprovalReminderMinutes int `yaml:"approval_reminder_interval_minutes"`
	ApprovalPollSeconds     int `yaml:"approval_poll_interval_seconds"`
	PostMergeSettleSeconds  int `yaml:"post_merge_settle_seconds"`

	ApproverGroup   string `yaml:"approver_group"`
	RequiredCICheck string `yaml:"required_ci_check"`
	TriggerPhrase   string `yaml:"trigger_phrase"`

	AutomationIdentity string `yaml:"automation_identity"`

	ReleaseMergeStrategy string `yaml:"release_merge_strategy"` // "merge" or "squash"

	HealthAddr string `yaml:"health_addr"` // empty disables the health server.

	Debug bool `yaml:"debug"`

	RateLimitMaxRequests int `yaml:"rate_limit_max_requests"` // outbound calls admitted per RateLimitWindowSeconds.
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`
}

// defaults returns a Config populated with every §6 default value.
func defaults() Config {
	return Config{
		DefaultBranch:           "main",
		MaxWaitSeconds:          2700,
		CheckIntervalSeconds:    30,
		MaxStartupWaitSeconds:   300,
		ApprovalTimeoutMinutes:  60,
		ApprovalReminderMinutes: 15,
		ApprovalPollSeconds:     60,
		PostMergeSettleSeconds:  10,
		ApproverGroup:           "merge-approvals",
		RequiredCICheck:         "run-tests",
		TriggerPhrase:           "Ok to test",
		AutomationIdentity:      "github-actions[bot]",
		ReleaseMergeStrategy:    "merge",
		RateLimitMaxRequests:    80,
		RateLimitWindowSeconds:  60,
	}
}

// Load builds the Config from, in increasing precedence: built-in
// defaults, an optional YAML file, then environment variables. The
// originator issue number and GitHub token are always read from the
// environment, never the file, since they vary per invocation.
func Load(yamlPath string) (*Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %q", yamlPath)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %q", yamlPath)
		}
	}

	applyEnvOverrides(&cfg)

	cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	cfg.WorkflowFileName = workflowFileNameFromRef(os.Getenv("GITHUB_WORKFLOW_REF"))
	if v := os.Getenv("WORKFLOW_FILE_NAME"); v != "" {
		cfg.WorkflowFileName = v
	}
	if originator := os.Getenv("ORIGINATOR_ID"); originator != "" {
		id, err := strconv.Atoi(strings.TrimSpace(originator))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid ORIGINATOR_ID %q", originator)
		}
		cfg.OriginatorID = id
	}

	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Repository, "REPOSITORY")
	setString(&cfg.DefaultBranch, "DEFAULT_BRANCH")
	setInt(&cfg.MaxWaitSeconds, "MAX_WAIT_SECONDS")
	setInt(&cfg.CheckIntervalSeconds, "CHECK_INTERVAL_SECONDS")
	setInt(&cfg.MaxStartupWaitSeconds, "MAX_STARTUP_WAIT_SECONDS")
	setInt(&cfg.ApprovalTimeoutMinutes, "APPROVAL_TIMEOUT_MINUTES")
	setInt(&cfg.ApprovalReminderMinutes, "APPROVAL_REMINDER_INTERVAL_MINUTES")
	setInt(&cfg.ApprovalPollSeconds, "APPROVAL_POLL_INTERVAL_SECONDS")
	setInt(&cfg.PostMergeSettleSeconds, "POST_MERGE_SETTLE_SECONDS")
	setString(&cfg.ApproverGroup, "APPROVER_GROUP")
	setString(&cfg.RequiredCICheck, "REQUIRED_CI_CHECK")
	setString(&cfg.TriggerPhrase, "TRIGGER_PHRASE")
	setString(&cfg.AutomationIdentity, "AUTOMATION_IDENTITY")
	setString(&cfg.ReleaseMergeStrategy, "RELEASE_MERGE_STRATEGY")
	setString(&cfg.HealthAddr, "HEALTH_ADDR")
	setInt(&cfg.RateLimitMaxRequests, "RATE_LIMIT_MAX_REQUESTS")
	setInt(&cfg.RateLimitWindowSeconds, "RATE_LIMIT_WINDOW_SECONDS")
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(strings.TrimSpace(v), "true")
	}
}

// defaultWorkflowFileName is used when GITHUB_WORKFLOW_REF is absent or
// malformed (e.g. running outside GitHub Actions).
const defaultWorkflowFileName = "merge_queue.yaml"

// workflowFileNameFromRef extracts the workflow filename from GitHub
// Actions' GITHUB_WORKFLOW_REF, formatted as
// "owner/repo/.github/workflows/file.yml@refs/heads/branch".
func workflowFileNameFromRef(ref string) string {
	if ref == "" {
		return defaultWorkflowFileName
	}
	parts := strings.Split(ref, "/")
	if len(parts) < 3 {
		return defaultWorkflowFileName
	}
	filename := strings.SplitN(parts[len(parts)-3], "@", 2)[0]
	if filename == "" {
		return defaultWorkflowFileName
	}
	return filename
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

// IsValid checks that required configuration is present and well-formed.
func (c *Config) IsValid() error {
	if c.Repository == "" {
		return fmt.Errorf("repository is required (owner/repo)")
	}
	parts := strings.Split(c.Repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository must be in 'owner/repo' format, got %q", c.Repository)
	}
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.OriginatorID <= 0 {
		return fmt.Errorf("originator issue id is required and must be positive")
	}
	if c.MaxWaitSeconds <= 0 || c.CheckIntervalSeconds <= 0 || c.MaxStartupWaitSeconds <= 0 {
		return fmt.Errorf("wait/interval settings must be positive")
	}
	if c.ReleaseMergeStrategy != "merge" && c.ReleaseMergeStrategy != "squash" {
		return fmt.Errorf("release_merge_strategy must be 'merge' or 'squash', got %q", c.ReleaseMergeStrategy)
	}
	if c.RateLimitMaxRequests <= 0 || c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c *Config) MaxWait() time.Duration          { return time.Duration(c.MaxWaitSeconds) * time.Second }
func (c *Config) CheckInterval() time.Duration    { return time.Duration(c.CheckIntervalSeconds) * time.Second }
func (c *Config) MaxStartupWait() time.Duration   { return time.Duration(c.MaxStartupWaitSeconds) * time.Second }
func (c *Config) ApprovalTimeout() time.Duration  { return time.Duration(c.ApprovalTimeoutMinutes) * time.Minute }
func (c *Config) ApprovalReminder() time.Duration { return time.Duration(c.ApprovalReminderMinutes) * time.Minute }
func (c *Config) ApprovalPoll() time.Duration     { return time.Duration(c.ApprovalPollSeconds) * time.Second }
func (c *Config) PostMergeSettle() time.Duration  { return time.Duration(c.PostMergeSettleSeconds) * time.Second }
