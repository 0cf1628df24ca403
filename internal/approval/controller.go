// Package approval is the Approval Controller (C4): it tags the approver
// group, polls for authorized approval/rejection comments, posts
// reminders, and enforces a timeout.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/config"
	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
	"github.com/mattermost/merge-queue-orchestrator/internal/pollutil"
)

var (
	approvedKeywords = []string{"approved", "👍"}
	rejectedKeywords = []string{"rejected", "👎"}
)

// Controller runs the human-in-the-loop approval loop for one cycle. Its
// warning-dedup set is a field on the value, never process-wide state, so
// multiple Controllers (in tests, or future concurrent cycles) never
// interfere with each other.
type Controller struct {
	client platform.Client
	cfg    *config.Config
	log    *logrus.Entry

	warned map[string]bool // dedup key: "<author>_<commentID>"
}

func New(client platform.Client, cfg *config.Config, log *logrus.Entry) *Controller {
	return &Controller{
		client: client,
		cfg:    cfg,
		log:    log,
		warned: map[string]bool{},
	}
}

// Result is the outcome of Run.
type Result struct {
	Verdict domain.ApprovalVerdict
	Actor   string // the approver/rejecter, when a verdict was reached.
}

// Run implements §4.4 in full: setup, polling loop with reminders, and
// timeout.
func (c *Controller) Run(ctx context.Context, originatorID int) (*Result, error) {
	membership := newLazyMembership(c.client, c.cfg.ApproverGroup)

	tagLine := fmt.Sprintf("@%s", c.cfg.ApproverGroup)
	commentResult := c.client.Comment(ctx, originatorID, fmt.Sprintf(
		"Approval requested from %s to proceed with this merge queue run.\n\nReply with `approved`/`👍` or `rejected`/`👎`.",
		tagLine,
	))
	if !commentResult.IsOK() {
		return nil, fmt.Errorf("failed to post approval-requested comment: %w", commentResult.Err())
	}

	deadline := time.Now().Add(c.cfg.ApprovalTimeout())
	trigger := commentResult.Value.CreatedAt

	lastReminderAt := time.Now()
	poll := func(ctx context.Context) (Result, bool, error) {
		if time.Since(lastReminderAt) >= c.cfg.ApprovalReminder() {
			remaining := time.Until(deadline)
			if remaining > 0 {
				c.postReminder(ctx, originatorID, tagLine, remaining)
			}
			lastReminderAt = time.Now()
		}

		comments := c.client.ListCommentsAfter(ctx, originatorID, trigger)
		if !comments.IsOK() {
			return Result{}, false, fmt.Errorf("failed to list comments: %w", comments.Err())
		}

		for _, comment := range comments.Value {
			if strings.EqualFold(comment.Author, c.cfg.AutomationIdentity) {
				continue
			}
			if !comment.CreatedAt.After(trigger) {
				continue // strictly-after filter: replay of stale signals is never accepted.
			}

			lower := strings.ToLower(comment.Body)
			verdict, matched := classify(lower)
			if !matched {
				continue
			}

			isMember, err := membership.isMember(ctx, comment.Author)
			if err != nil {
				return Result{}, false, fmt.Errorf("failed to resolve group membership for %q: %w", comment.Author, err)
			}
			if !isMember {
				c.warnUnauthorized(ctx, originatorID, comment)
				continue
			}

			return Result{Verdict: verdict, Actor: comment.Author}, true, nil
		}

		return Result{}, false, nil
	}

	outcome, err := pollutil.Poll(ctx, deadline, c.cfg.ApprovalPoll(), poll)
	if err != nil {
		return nil, err
	}
	if !outcome.Ok {
		c.postTimeout(ctx, originatorID)
		return &Result{Verdict: domain.ApprovalTimeout}, nil
	}
	return &outcome.Value, nil
}

func classify(lowerBody string) (domain.ApprovalVerdict, bool) {
	for _, kw := range approvedKeywords {
		if strings.Contains(lowerBody, kw) {
			return domain.ApprovalApproved, true
		}
	}
	for _, kw := range rejectedKeywords {
		if strings.Contains(lowerBody, kw) {
			return domain.ApprovalRejected, true
		}
	}
	return "", false
}

func (c *Controller) postReminder(ctx context.Context, originatorID int, tagLine string, remaining time.Duration) {
	minutes := int(remaining.Round(time.Minute) / time.Minute)
	if minutes <= 0 {
		return
	}
	body := fmt.Sprintf("Reminder: %s, approval is still needed. %d minute(s) remaining before this run times out.", tagLine, minutes)
	if res := c.client.Comment(ctx, originatorID, body); !res.IsOK() {
		c.log.WithError(res.Err()).Warn("failed to post approval reminder")
	}
}

func (c *Controller) postTimeout(ctx context.Context, originatorID int) {
	body := fmt.Sprintf("Approval timed out after %d minutes. This merge queue run will not proceed.", c.cfg.ApprovalTimeoutMinutes)
	if res := c.client.Comment(ctx, originatorID, body); !res.IsOK() {
		c.log.WithError(res.Err()).Warn("failed to post approval timeout comment")
	}
}

func (c *Controller) warnUnauthorized(ctx context.Context, originatorID int, comment platform.CommentSnapshot) {
	key := fmt.Sprintf("%s_%d", comment.Author, comment.ID)
	if c.warned[key] {
		return
	}
	c.warned[key] = true

	body := fmt.Sprintf(
		"@%s, your comment is not from a member of the `%s` approver group and was not counted as an approval or rejection.",
		comment.Author, c.cfg.ApproverGroup,
	)
	if res := c.client.Comment(ctx, originatorID, body); !res.IsOK() {
		c.log.WithError(res.Err()).Warn("failed to post unauthorized-comment warning")
	}
}

// lazyMembership resolves approver-group membership for an author the
// first time that author is seen and caches the answer for the rest of
// the cycle, per §4.4's "resolve once; cache list for the cycle" —
// adapted to the Platform Adapter's per-user is_group_member operation
// rather than a bulk member-listing call the adapter does not expose.
type lazyMembership struct {
	client platform.Client
	group  string
	cache  map[string]bool
}

func newLazyMembership(client platform.Client, group string) *lazyMembership {
	return &lazyMembership{client: client, group: group, cache: map[string]bool{}}
}

func (l *lazyMembership) isMember(ctx context.Context, author string) (bool, error) {
	key := strings.ToLower(author)
	if v, ok := l.cache[key]; ok {
		return v, nil
	}
	result := l.client.IsGroupMember(ctx, author, l.group)
	if !result.IsOK() {
		return false, result.Err()
	}
	l.cache[key] = result.Value
	return result.Value, nil
}
