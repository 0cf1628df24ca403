package approval

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

func testConfig() *config.Config {
	return &config.Config{
		ApproverGroup:           "merge-approvals",
		AutomationIdentity:      "github-actions[bot]",
		ApprovalTimeoutMinutes:  60,
		ApprovalReminderMinutes: 15,
		ApprovalPollSeconds:     0,
	}
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRunReachesApprovedVerdict(t *testing.T) {
	fake := platformtest.New()
	trigger := time.Now()
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{ID: 1, CreatedAt: trigger})
	}
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok([]platform.CommentSnapshot{
			{ID: 2, Author: "alice", Body: "approved 👍", CreatedAt: trigger.Add(time.Second)},
		})
	}
	fake.IsGroupMemberFn = func(ctx context.Context, user, group string) platform.Result[bool] {
		return platform.Ok(user == "alice")
	}

	c := New(fake, testConfig(), discardLogger())
	res, err := c.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, res.Verdict)
	assert.Equal(t, "alice", res.Actor)
}

func TestRunReachesRejectedVerdict(t *testing.T) {
	fake := platformtest.New()
	trigger := time.Now()
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{ID: 1, CreatedAt: trigger})
	}
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok([]platform.CommentSnapshot{
			{ID: 2, Author: "bob", Body: "rejected, needs work", CreatedAt: trigger.Add(time.Second)},
		})
	}
	fake.IsGroupMemberFn = func(ctx context.Context, user, group string) platform.Result[bool] {
		return platform.Ok(true)
	}

	c := New(fake, testConfig(), discardLogger())
	res, err := c.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, res.Verdict)
}

func TestRunIgnoresSignalsAtOrBeforeTrigger(t *testing.T) {
	fake := platformtest.New()
	trigger := time.Now()
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{ID: 1, CreatedAt: trigger})
	}
	calls := 0
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		calls++
		if calls == 1 {
			// A stale comment timestamped exactly at the trigger must never count.
			return platform.Ok([]platform.CommentSnapshot{
				{ID: 2, Author: "alice", Body: "approved", CreatedAt: trigger},
			})
		}
		return platform.Ok([]platform.CommentSnapshot{
			{ID: 3, Author: "alice", Body: "approved", CreatedAt: trigger.Add(time.Second)},
		})
	}
	fake.IsGroupMemberFn = func(ctx context.Context, user, group string) platform.Result[bool] {
		return platform.Ok(true)
	}

	cfg := testConfig()
	c := New(fake, cfg, discardLogger())
	res, err := c.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, res.Verdict)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestRunWarnsOnceForUnauthorizedCommenter(t *testing.T) {
	fake := platformtest.New()
	trigger := time.Now()
	fake.CommentFn = func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
		return platform.Ok(platform.CommentRef{ID: 1, CreatedAt: trigger})
	}
	calls := 0
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		calls++
		if calls < 3 {
			return platform.Ok([]platform.CommentSnapshot{
				{ID: 2, Author: "eve", Body: "approved", CreatedAt: trigger.Add(time.Duration(calls) * time.Second)},
			})
		}
		return platform.Ok([]platform.CommentSnapshot{
			{ID: 5, Author: "alice", Body: "approved", CreatedAt: trigger.Add(time.Second * 10)},
		})
	}
	fake.IsGroupMemberFn = func(ctx context.Context, user, group string) platform.Result[bool] {
		return platform.Ok(user == "alice")
	}

	c := New(fake, testConfig(), discardLogger())
	res, err := c.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, res.Verdict)

	warnings := 0
	for _, call := range fake.Calls {
		if call == "Comment" {
			warnings++
		}
	}
	// one approval-requested comment + exactly one unauthorized-warning
	// comment (deduplicated across both of eve's unauthorized attempts).
	assert.Equal(t, 2, warnings)
}

func TestRunTimesOutWhenDeadlineElapses(t *testing.T) {
	fake := platformtest.New()
	fake.ListCommentsAfterFn = func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
		return platform.Ok[[]platform.CommentSnapshot](nil)
	}

	cfg := testConfig()
	cfg.ApprovalTimeoutMinutes = 0

	c := New(fake, cfg, discardLogger())
	res, err := c.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalTimeout, res.Verdict)
}

func TestLazyMembershipCachesAcrossCalls(t *testing.T) {
	fake := platformtest.New()
	lookups := 0
	fake.IsGroupMemberFn = func(ctx context.Context, user, group string) platform.Result[bool] {
		lookups++
		return platform.Ok(true)
	}

	m := newLazyMembership(fake, "merge-approvals")
	ok1, err := m.isMember(context.Background(), "alice")
	require.NoError(t, err)
	ok2, err := m.isMember(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, 1, lookups)
}
