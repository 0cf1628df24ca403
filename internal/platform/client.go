// Package platform is the Platform Adapter (C1): a typed wrapper over the
// hosting platform's REST operations. Every operation returns a Result
// value; none panics on a network or parse failure.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
)

// MergeStrategy selects the merge call's merge_method.
type MergeStrategy string

const (
	MergeStrategySquash MergeStrategy = "squash"
	MergeStrategyMerge  MergeStrategy = "merge"
	MergeStrategyRebase MergeStrategy = "rebase"
)

// MergeOptions parameterizes a merge_candidate call.
type MergeOptions struct {
	Strategy      MergeStrategy
	DeleteBranch  bool
	CommitSubject string
	Admin         bool
}

// MergeOutcome is the payload of a successful merge_candidate call.
type MergeOutcome struct {
	Merged    bool
	SHA       string
	FinalHead string
}

// ItemSummary is one row of a list_items_by_label result.
type ItemSummary struct {
	ID    int
	Title string
	State string
}

// Client is the Platform Adapter interface the orchestrator's core
// components depend on. The unexported client type wraps go-github; the
// component tests substitute platformtest.Fake.
type Client interface {
	GetItemAuthor(ctx context.Context, id int) Result[string]
	GetOriginatorBody(ctx context.Context, id int) Result[string]
	Comment(ctx context.Context, id int, body string) Result[CommentRef]
	ListCommentsAfter(ctx context.Context, id int, after time.Time) Result[[]domainComment]
	GetCandidate(ctx context.Context, id int) Result[Candidate]
	RebaseCandidate(ctx context.Context, id int) Result[bool]
	MergeCandidate(ctx context.Context, id int, opts MergeOptions) Result[MergeOutcome]
	GetWorkflowRun(ctx context.Context, runID int64) Result[WorkflowRun]
	GetBranchProtection(ctx context.Context, branch string) Result[*BranchProtection]
	IsGroupMember(ctx context.Context, user, group string) Result[bool]
	CreateLabelledItem(ctx context.Context, title, body string, labels []string) Result[int]
	CloseItem(ctx context.Context, id int, closingComment string) Result[bool]
	ListItemsByLabel(ctx context.Context, label string, state string) Result[[]ItemSummary]
	ListWorkflowRunsByDefinition(ctx context.Context, workflowFileName string) Result[[]WorkflowRun]
}

// The orchestrator's core only needs a handful of fields from GitHub's rich
// review/pull-request/comment types; these thin aliases keep the Client
// interface's signatures independent of go-github's type names so a fake
// implementation in tests does not need to import it.
type (
	domainComment = CommentSnapshot
	Candidate     = CandidateSnapshot
	WorkflowRun   = WorkflowRunSnapshot
)

// CommentRef identifies a newly created comment, including the creation
// timestamp as reported by the platform — callers use this, not local
// clock readings, as the trigger timestamp for signal filtering.
type CommentRef struct {
	ID        int64
	URL       string
	CreatedAt time.Time
}

// CommentSnapshot is a single comment, as consumed by the Approval
// Controller and Merge Pipeline.
type CommentSnapshot struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// CandidateSnapshot is a pull request snapshot, as consumed by the
// Validator and Merge Pipeline.
type CandidateSnapshot struct {
	ID             int
	BaseRef        string
	HeadRef        string
	MergeableState string // "MERGEABLE", "CONFLICTING", "UNKNOWN"
	State          string // "OPEN", "CLOSED", "MERGED"
	Author         string
	ApprovedCount  int
	FailingChecks  []string
}

// WorkflowRunSnapshot is the subset of a workflow run's state the Merge
// Pipeline polls.
type WorkflowRunSnapshot struct {
	Status     string
	Conclusion string
	Name       string
}

// BranchProtection is the subset of branch-protection rules consumed by
// the Validator and Merge Pipeline.
type BranchProtection struct {
	RequiredApprovingReviewCount int
}

type client struct {
	gh    *github.Client
	owner string
	repo  string
}

// NewClient builds a Client authenticated with a personal access token,
// scoped to a single "owner/repo" repository.
func NewClient(token, repository string) (Client, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}
	return &client{
		gh:    github.NewClient(nil).WithAuthToken(token),
		owner: owner,
		repo:  repo,
	}, nil
}

// NewClientWithGitHub builds a Client from an existing *github.Client,
// used in tests to inject a client pointing at an httptest server.
func NewClientWithGitHub(gh *github.Client, repository string) (Client, error) {
	owner, repo, err := splitRepository(repository)
	if err != nil {
		return nil, err
	}
	return &client{gh: gh, owner: owner, repo: repo}, nil
}

func splitRepository(repository string) (owner, repo string, err error) {
	parts := strings.SplitN(repository, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository must be in 'owner/repo' format, got %q", repository)
	}
	return parts[0], parts[1], nil
}

func (c *client) GetItemAuthor(ctx context.Context, id int) Result[string] {
	issue, resp, err := c.gh.Issues.Get(ctx, c.owner, c.repo, id)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Ok("unknown")
		}
		return HTTPError[string](httpStatus(resp), err.Error())
	}
	login := issue.GetUser().GetLogin()
	if login == "" {
		return Ok("unknown")
	}
	return Ok(login)
}

// GetOriginatorBody fetches the originator issue's body text for the
// Request Extractor to parse.
func (c *client) GetOriginatorBody(ctx context.Context, id int) Result[string] {
	issue, err := withRetry(ctx, func() (*github.Issue, error) {
		issue, resp, err := c.gh.Issues.Get(ctx, c.owner, c.repo, id)
		if err != nil {
			return nil, classifyErr(resp, err)
		}
		return issue, nil
	})
	if err != nil {
		return errResult[string](err)
	}
	return Ok(issue.GetBody())
}

// Comment is not retried on failure: a lost response after a successful
// POST would otherwise double-post the comment.
func (c *client) Comment(ctx context.Context, id int, body string) Result[CommentRef] {
	comment, resp, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, id, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return errResult[CommentRef](classifyErr(resp, err))
	}
	return Ok(CommentRef{ID: comment.GetID(), URL: comment.GetHTMLURL(), CreatedAt: comment.GetCreatedAt().Time.UTC()})
}

func (c *client) ListCommentsAfter(ctx context.Context, id int, after time.Time) Result[[]domainComment] {
	var all []domainComment
	opts := &github.IssueListCommentsOptions{
		Since:       &after,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, id, opts)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return NotFound[[]domainComment]()
			}
			return HTTPError[[]domainComment](httpStatus(resp), err.Error())
		}
		for _, comment := range comments {
			createdAt := comment.GetCreatedAt().Time.UTC()
			if !createdAt.After(after.UTC()) {
				continue // Since is inclusive on GitHub's side; re-filter strictly.
			}
			all = append(all, domainComment{
				ID:        comment.GetID(),
				Author:    comment.GetUser().GetLogin(),
				Body:      comment.GetBody(),
				CreatedAt: createdAt,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return Ok(all)
}

func (c *client) GetCandidate(ctx context.Context, id int) Result[Candidate] {
	pr, resp, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, id)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return NotFound[Candidate]()
		}
		return HTTPError[Candidate](httpStatus(resp), err.Error())
	}

	reviews, err := c.listAllReviews(ctx, id)
	if err != nil {
		return ParseError[Candidate](err.Error())
	}
	approved := 0
	for _, r := range reviews {
		if r.GetState() == "APPROVED" {
			approved++
		}
	}

	failing, err := c.failingChecks(ctx, pr.GetHead().GetSHA())
	if err != nil {
		return ParseError[Candidate](err.Error())
	}

	mergeableState := strings.ToUpper(pr.GetMergeableState())
	switch mergeableState {
	case "CLEAN", "HAS_HOOKS", "UNSTABLE", "BLOCKED", "BEHIND":
		mergeableState = "MERGEABLE"
	case "DIRTY":
		mergeableState = "CONFLICTING"
	default:
		mergeableState = "UNKNOWN"
	}

	state := strings.ToUpper(pr.GetState())
	if pr.GetMerged() {
		state = "MERGED"
	}

	return Ok(Candidate{
		ID:             id,
		BaseRef:        pr.GetBase().GetRef(),
		HeadRef:        pr.GetHead().GetRef(),
		MergeableState: mergeableState,
		State:          state,
		Author:         pr.GetUser().GetLogin(),
		ApprovedCount:  approved,
		FailingChecks:  failing,
	})
}

func (c *client) listAllReviews(ctx context.Context, id int) ([]*github.PullRequestReview, error) {
	var all []*github.PullRequestReview
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, c.owner, c.repo, id, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// failingChecks returns "name:state" entries for every check on sha
// that has not concluded SUCCESS.
func (c *client) failingChecks(ctx context.Context, sha string) ([]string, error) {
	if sha == "" {
		return nil, nil
	}
	var failing []string
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, sha, opts)
		if err != nil {
			return nil, err
		}
		for _, run := range result.CheckRuns {
			state := strings.ToUpper(run.GetConclusion())
			if run.GetStatus() != "completed" {
				state = "PENDING"
			}
			if state != "SUCCESS" {
				failing = append(failing, fmt.Sprintf("%s:%s", run.GetName(), state))
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return failing, nil
}

func (c *client) RebaseCandidate(ctx context.Context, id int) Result[bool] {
	_, err := withRetry(ctx, func() (*github.PullRequestBranchUpdateResponse, error) {
		update, resp, err := c.gh.PullRequests.UpdateBranch(ctx, c.owner, c.repo, id, nil)
		if err != nil {
			// go-github treats the 202 Accepted body as a non-fatal parse
			// quirk in some versions; only real HTTP errors propagate.
			if resp != nil && resp.StatusCode == http.StatusAccepted {
				return update, nil
			}
			return nil, classifyErr(resp, err)
		}
		return update, nil
	})
	if err != nil {
		return errResult[bool](err)
	}
	return Ok(true)
}

func (c *client) MergeCandidate(ctx context.Context, id int, opts MergeOptions) Result[MergeOutcome] {
	result, resp, err := c.gh.PullRequests.Merge(ctx, c.owner, c.repo, id, "", &github.PullRequestOptions{
		CommitTitle: opts.CommitSubject,
		MergeMethod: string(opts.Strategy),
		SHA:         "",
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusMethodNotAllowed {
			return HTTPError[MergeOutcome](resp.StatusCode, err.Error())
		}
		return HTTPError[MergeOutcome](httpStatus(resp), err.Error())
	}

	if opts.DeleteBranch {
		pr, _, getErr := c.gh.PullRequests.Get(ctx, c.owner, c.repo, id)
		if getErr == nil {
			head := pr.GetHead().GetRef()
			if head != "" {
				_, _ = c.gh.Git.DeleteRef(ctx, c.owner, c.repo, "refs/heads/"+head)
			}
		}
	}

	return Ok(MergeOutcome{
		Merged: result.GetMerged(),
		SHA:    result.GetSHA(),
	})
}

func (c *client) GetWorkflowRun(ctx context.Context, runID int64) Result[WorkflowRun] {
	run, resp, err := c.gh.Actions.GetWorkflowRunByID(ctx, c.owner, c.repo, runID)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return NotFound[WorkflowRun]()
		}
		return HTTPError[WorkflowRun](httpStatus(resp), err.Error())
	}
	return Ok(WorkflowRun{
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		Name:       run.GetName(),
	})
}

// GetBranchProtection distinguishes a confirmed-unprotected branch (404,
// returned as Ok(nil)) from a forbidden or otherwise failed lookup (returned
// as an error): callers need that distinction to treat "forbidden" as an
// unknown protection state rather than "definitely unprotected."
func (c *client) GetBranchProtection(ctx context.Context, branch string) Result[*BranchProtection] {
	protection, resp, err := c.gh.Repositories.GetBranchProtection(ctx, c.owner, c.repo, branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Ok[*BranchProtection](nil)
		}
		return HTTPError[*BranchProtection](httpStatus(resp), err.Error())
	}
	if protection == nil {
		return Ok[*BranchProtection](nil)
	}
	if protection.RequiredPullRequestReviews == nil {
		// Protected, but without a required-review rule.
		return Ok(&BranchProtection{})
	}
	return Ok(&BranchProtection{
		RequiredApprovingReviewCount: protection.RequiredPullRequestReviews.RequiredApprovingReviewCount,
	})
}

func (c *client) IsGroupMember(ctx context.Context, user, group string) Result[bool] {
	membership, resp, err := c.gh.Teams.GetTeamMembershipBySlug(ctx, c.owner, group, user)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Ok(false)
		}
		return HTTPError[bool](httpStatus(resp), err.Error())
	}
	return Ok(membership.GetState() == "active")
}

// CreateLabelledItem is not retried on failure, for the same reason as
// Comment: a lost response after a successful create would otherwise
// create a second TrackingItem and defeat the lock.
func (c *client) CreateLabelledItem(ctx context.Context, title, body string, labels []string) Result[int] {
	issue, resp, err := c.gh.Issues.Create(ctx, c.owner, c.repo, &github.IssueRequest{
		Title:  github.Ptr(title),
		Body:   github.Ptr(body),
		Labels: &labels,
	})
	if err != nil {
		return errResult[int](classifyErr(resp, err))
	}
	return Ok(issue.GetNumber())
}

func (c *client) CloseItem(ctx context.Context, id int, closingComment string) Result[bool] {
	if closingComment != "" {
		if res := c.Comment(ctx, id, closingComment); !res.IsOK() {
			return Result[bool]{Kind: res.Kind, StatusCode: res.StatusCode, Message: res.Message}
		}
	}
	_, resp, err := c.gh.Issues.Edit(ctx, c.owner, c.repo, id, &github.IssueRequest{
		State: github.Ptr("closed"),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return NotFound[bool]()
		}
		return HTTPError[bool](httpStatus(resp), err.Error())
	}
	return Ok(true)
}

func (c *client) ListItemsByLabel(ctx context.Context, label string, state string) Result[[]ItemSummary] {
	var all []ItemSummary
	opts := &github.IssueListByRepoOptions{
		Labels:      []string{label},
		State:       state,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return HTTPError[[]ItemSummary](httpStatus(resp), err.Error())
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, ItemSummary{
				ID:    issue.GetNumber(),
				Title: issue.GetTitle(),
				State: issue.GetState(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return Ok(all)
}

// ListWorkflowRunsByDefinition lists the in-progress runs of workflowFileName,
// letting the Lock Manager detect a competing orchestrator run started by a
// separate workflow dispatch before it commits to its own tracking issue.
func (c *client) ListWorkflowRunsByDefinition(ctx context.Context, workflowFileName string) Result[[]WorkflowRun] {
	runs, resp, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.owner, c.repo, workflowFileName, &github.ListWorkflowRunsOptions{
		Status: "in_progress",
	})
	if err != nil {
		return HTTPError[[]WorkflowRun](httpStatus(resp), err.Error())
	}
	out := make([]WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		out = append(out, WorkflowRun{
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
			Name:       run.GetName(),
		})
	}
	return Ok(out)
}

func classifyErr(resp *github.Response, err error) error {
	if resp != nil {
		return fmt.Errorf("http %d: %w", resp.StatusCode, err)
	}
	return err
}

func errResult[T any](err error) Result[T] {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return HTTPError[T](ghErr.Response.StatusCode, ghErr.Message)
	}
	return HTTPError[T](0, err.Error())
}
