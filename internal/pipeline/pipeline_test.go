package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/merge-queue-orchestrator/internal/config"
	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform/platformtest"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fastConfig() *config.Config {
	return &config.Config{
		DefaultBranch:          "main",
		TriggerPhrase:          "Ok to test",
		MaxStartupWaitSeconds:  300,
		MaxWaitSeconds:         2700,
		CheckIntervalSeconds:   1,
		PostMergeSettleSeconds: 0,
		ReleaseMergeStrategy:   "merge",
	}
}

func happyPathFake(t *testing.T) *platformtest.Fake {
	fake := platformtest.New()
	trigger := time.Now()
	fake.GetItemAuthorFn = func(ctx context.Context, id int) platform.Result[string] {
		return platform.Ok("alice")
	}
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{ID: 1, CreatedAt: trigger})
	}
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok([]platform.CommentSnapshot{
			{ID: 2, Body: "CI job started: https://github.com/owner/repo/actions/runs/555", CreatedAt: trigger.Add(time.Second)},
		})
	}
	fake.GetWorkflowRunFn = func(ctx context.Context, runID int64) platform.Result[platform.WorkflowRunSnapshot] {
		assert.EqualValues(t, 555, runID)
		return platform.Ok(platform.WorkflowRunSnapshot{Status: "completed", Conclusion: "success"})
	}
	fake.GetCandidateFn = func(ctx context.Context, id int) platform.Result[platform.CandidateSnapshot] {
		return platform.Ok(platform.CandidateSnapshot{ID: id, State: "OPEN", MergeableState: "MERGEABLE", HeadRef: "feature"})
	}
	fake.GetBranchProtectionFn = func(ctx context.Context, branch string) platform.Result[*platform.BranchProtection] {
		return platform.Ok[*platform.BranchProtection](nil)
	}
	fake.MergeCandidateFn = func(ctx context.Context, id int, opts platform.MergeOptions) platform.Result[platform.MergeOutcome] {
		return platform.Ok(platform.MergeOutcome{Merged: true, SHA: "abc"})
	}
	return fake
}

func TestRunMergesHappyPathCandidate(t *testing.T) {
	fake := happyPathFake(t)
	// the post-merge confirmation re-fetch reports MERGED.
	confirmCalls := 0
	orig := fake.GetCandidateFn
	fake.GetCandidateFn = func(ctx context.Context, id int) platform.Result[platform.CandidateSnapshot] {
		confirmCalls++
		if confirmCalls >= 2 {
			return platform.Ok(platform.CandidateSnapshot{ID: id, State: "MERGED"})
		}
		return orig(ctx, id)
	}

	p := New(fake, fastConfig(), discardLogger())
	outcomes, err := p.Run(context.Background(), []int{42})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeMerged, outcomes[0].Bucket)
	assert.Equal(t, "alice", outcomes[0].Author)
}

func TestRunFailsUpdateOnRebaseFailure(t *testing.T) {
	fake := platformtest.New()
	fake.RebaseCandidateFn = func(ctx context.Context, id int) platform.Result[bool] {
		return platform.HTTPError[bool](409, "conflict")
	}

	p := New(fake, fastConfig(), discardLogger())
	outcomes, err := p.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeFailedUpdate, outcomes[0].Bucket)
}

func TestRunReportsCIStartupTimeout(t *testing.T) {
	fake := platformtest.New()
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok[[]platform.CommentSnapshot](nil)
	}
	cfg := fastConfig()
	cfg.MaxStartupWaitSeconds = 0

	p := New(fake, cfg, discardLogger())
	outcomes, err := p.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeCIStartupTimeout, outcomes[0].Bucket)
}

func TestRunReportsFailedCI(t *testing.T) {
	fake := platformtest.New()
	trigger := time.Now()
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{CreatedAt: trigger})
	}
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok([]platform.CommentSnapshot{
			{Body: "CI job started: actions/runs/1", CreatedAt: trigger.Add(time.Second)},
		})
	}
	fake.GetWorkflowRunFn = func(ctx context.Context, runID int64) platform.Result[platform.WorkflowRunSnapshot] {
		return platform.Ok(platform.WorkflowRunSnapshot{Status: "completed", Conclusion: "failure"})
	}

	p := New(fake, fastConfig(), discardLogger())
	outcomes, err := p.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeFailedCI, outcomes[0].Bucket)
}

func TestRunReportsCITimeout(t *testing.T) {
	fake := platformtest.New()
	trigger := time.Now()
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{CreatedAt: trigger})
	}
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok([]platform.CommentSnapshot{
			{Body: "CI job started: actions/runs/1", CreatedAt: trigger.Add(time.Second)},
		})
	}
	fake.GetWorkflowRunFn = func(ctx context.Context, runID int64) platform.Result[platform.WorkflowRunSnapshot] {
		return platform.Ok(platform.WorkflowRunSnapshot{Status: "in_progress"})
	}

	cfg := fastConfig()
	cfg.MaxWaitSeconds = 0
	p := New(fake, cfg, discardLogger())
	outcomes, err := p.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeCITimeout, outcomes[0].Bucket)
}

func TestMergeBailsOnLateConflict(t *testing.T) {
	fake := happyPathFake(t)
	fake.GetCandidateFn = func(ctx context.Context, id int) platform.Result[platform.CandidateSnapshot] {
		return platform.Ok(platform.CandidateSnapshot{ID: id, State: "OPEN", MergeableState: "CONFLICTING"})
	}

	p := New(fake, fastConfig(), discardLogger())
	outcomes, err := p.Run(context.Background(), []int{1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeFailedMerge, outcomes[0].Bucket)
}

func TestMergeKeepsProtectedBranch(t *testing.T) {
	fake := happyPathFake(t)
	fake.GetBranchProtectionFn = func(ctx context.Context, branch string) platform.Result[*platform.BranchProtection] {
		return platform.Ok(&platform.BranchProtection{RequiredApprovingReviewCount: 1})
	}
	var gotOpts platform.MergeOptions
	fake.MergeCandidateFn = func(ctx context.Context, id int, opts platform.MergeOptions) platform.Result[platform.MergeOutcome] {
		gotOpts = opts
		return platform.Ok(platform.MergeOutcome{Merged: true})
	}

	p := New(fake, fastConfig(), discardLogger())
	_, err := p.Run(context.Background(), []int{1})
	require.NoError(t, err)
	assert.False(t, gotOpts.DeleteBranch)
}

func TestMergeReleaseUsesConfiguredStrategy(t *testing.T) {
	fake := happyPathFake(t)
	var gotStrategy platform.MergeStrategy
	fake.MergeCandidateFn = func(ctx context.Context, id int, opts platform.MergeOptions) platform.Result[platform.MergeOutcome] {
		gotStrategy = opts.Strategy
		return platform.Ok(platform.MergeOutcome{Merged: true})
	}
	// the post-merge confirmation re-fetch reports MERGED.
	fetches := 0
	orig := fake.GetCandidateFn
	fake.GetCandidateFn = func(ctx context.Context, id int) platform.Result[platform.CandidateSnapshot] {
		fetches++
		if fetches >= 2 {
			return platform.Ok(platform.CandidateSnapshot{ID: id, State: "MERGED"})
		}
		return orig(ctx, id)
	}

	cfg := fastConfig()
	cfg.ReleaseMergeStrategy = "squash"
	p := New(fake, cfg, discardLogger())
	outcome := p.MergeRelease(context.Background(), 7)
	assert.Equal(t, domain.OutcomeMerged, outcome.Bucket)
	assert.Equal(t, platform.MergeStrategySquash, gotStrategy)
}
