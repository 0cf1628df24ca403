package platform

import (
	"context"
	"sync"
	"time"
)

// outboundLimiter throttles the orchestrator's own outbound calls to the
// platform API, adapted from the teacher's inbound per-user rate limiter:
// same sliding-window counter, but applied to a single outbound key and
// blocking the caller until the window admits another call instead of
// rejecting the request outright — the orchestrator has no caller to
// return a 429 to.
type outboundLimiter struct {
	mutex       sync.Mutex
	windowStart time.Time
	count       int
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

func newOutboundLimiter(maxRequests int, window time.Duration) *outboundLimiter {
	return &outboundLimiter{maxRequests: maxRequests, window: window, now: time.Now}
}

// wait blocks until the current window has capacity, or ctx is cancelled.
func (l *outboundLimiter) wait(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *outboundLimiter) reserve() (time.Duration, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 1
		return 0, true
	}
	if l.count < l.maxRequests {
		l.count++
		return 0, true
	}
	return l.window - now.Sub(l.windowStart), false
}

// rateLimitedClient decorates a Client with an outbound throttle. It is
// applied by WithOutboundRateLimit around the Client that NewClient returns
// and is transparent to callers.
type rateLimitedClient struct {
	Client
	limiter *outboundLimiter
}

// WithOutboundRateLimit wraps client so that no more than maxRequests calls
// are issued to the platform within window, blocking callers past that
// budget instead of letting a runaway poll loop trip the platform's own
// rate limiting.
func WithOutboundRateLimit(client Client, maxRequests int, window time.Duration) Client {
	return &rateLimitedClient{Client: client, limiter: newOutboundLimiter(maxRequests, window)}
}

func (c *rateLimitedClient) GetItemAuthor(ctx context.Context, id int) Result[string] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[string](err)
	}
	return c.Client.GetItemAuthor(ctx, id)
}

func (c *rateLimitedClient) GetOriginatorBody(ctx context.Context, id int) Result[string] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[string](err)
	}
	return c.Client.GetOriginatorBody(ctx, id)
}

func (c *rateLimitedClient) Comment(ctx context.Context, id int, body string) Result[CommentRef] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[CommentRef](err)
	}
	return c.Client.Comment(ctx, id, body)
}

func (c *rateLimitedClient) ListCommentsAfter(ctx context.Context, id int, after time.Time) Result[[]domainComment] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[[]domainComment](err)
	}
	return c.Client.ListCommentsAfter(ctx, id, after)
}

func (c *rateLimitedClient) GetCandidate(ctx context.Context, id int) Result[Candidate] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[Candidate](err)
	}
	return c.Client.GetCandidate(ctx, id)
}

func (c *rateLimitedClient) RebaseCandidate(ctx context.Context, id int) Result[bool] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[bool](err)
	}
	return c.Client.RebaseCandidate(ctx, id)
}

func (c *rateLimitedClient) MergeCandidate(ctx context.Context, id int, opts MergeOptions) Result[MergeOutcome] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[MergeOutcome](err)
	}
	return c.Client.MergeCandidate(ctx, id, opts)
}

func (c *rateLimitedClient) GetWorkflowRun(ctx context.Context, runID int64) Result[WorkflowRun] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[WorkflowRun](err)
	}
	return c.Client.GetWorkflowRun(ctx, runID)
}

func (c *rateLimitedClient) GetBranchProtection(ctx context.Context, branch string) Result[*BranchProtection] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[*BranchProtection](err)
	}
	return c.Client.GetBranchProtection(ctx, branch)
}

func (c *rateLimitedClient) IsGroupMember(ctx context.Context, user, group string) Result[bool] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[bool](err)
	}
	return c.Client.IsGroupMember(ctx, user, group)
}

func (c *rateLimitedClient) CreateLabelledItem(ctx context.Context, title, body string, labels []string) Result[int] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[int](err)
	}
	return c.Client.CreateLabelledItem(ctx, title, body, labels)
}

func (c *rateLimitedClient) CloseItem(ctx context.Context, id int, closingComment string) Result[bool] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[bool](err)
	}
	return c.Client.CloseItem(ctx, id, closingComment)
}

func (c *rateLimitedClient) ListItemsByLabel(ctx context.Context, label string, state string) Result[[]ItemSummary] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[[]ItemSummary](err)
	}
	return c.Client.ListItemsByLabel(ctx, label, state)
}

func (c *rateLimitedClient) ListWorkflowRunsByDefinition(ctx context.Context, workflowFileName string) Result[[]WorkflowRun] {
	if err := c.limiter.wait(ctx); err != nil {
		return errResult[[]WorkflowRun](err)
	}
	return c.Client.ListWorkflowRunsByDefinition(ctx, workflowFileName)
}
