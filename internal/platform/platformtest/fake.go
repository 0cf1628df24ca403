// Package platformtest provides a fake platform.Client for exercising the
// orchestrator's core components without a network round trip, adapted
// from the teacher's plugintest.API fake (server/testhelpers_test.go) now
// that there is no Mattermost plugin API to fake against — every method is
// an injectable function field defaulting to a success response, so a test
// only overrides the calls it cares about.
package platformtest

import (
	"context"
	"time"

	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
)

type Fake struct {
	GetItemAuthorFn     func(ctx context.Context, id int) platform.Result[string]
	GetOriginatorBodyFn func(ctx context.Context, id int) platform.Result[string]
	CommentFn           func(ctx context.Context, id int, body string) platform.Result[platform.CommentRef]
	ListCommentsAfterFn func(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot]
	GetCandidateFn      func(ctx context.Context, id int) platform.Result[platform.CandidateSnapshot]
	RebaseCandidateFn   func(ctx context.Context, id int) platform.Result[bool]
	MergeCandidateFn    func(ctx context.Context, id int, opts platform.MergeOptions) platform.Result[platform.MergeOutcome]
	GetWorkflowRunFn    func(ctx context.Context, runID int64) platform.Result[platform.WorkflowRunSnapshot]
	GetBranchProtectionFn func(ctx context.Context, branch string) platform.Result[*platform.BranchProtection]
	IsGroupMemberFn     func(ctx context.Context, user, group string) platform.Result[bool]
	CreateLabelledItemFn func(ctx context.Context, title, body string, labels []string) platform.Result[int]
	CloseItemFn         func(ctx context.Context, id int, closingComment string) platform.Result[bool]
	ListItemsByLabelFn  func(ctx context.Context, label string, state string) platform.Result[[]platform.ItemSummary]
	ListWorkflowRunsByDefinitionFn func(ctx context.Context, workflowFileName string) platform.Result[[]platform.WorkflowRunSnapshot]

	// Calls records every invocation, in order, as the bare method name
	// (e.g. "Comment") for assertions that care about call sequencing or
	// counts.
	Calls []string
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) record(s string) { f.Calls = append(f.Calls, s) }

func (f *Fake) GetItemAuthor(ctx context.Context, id int) platform.Result[string] {
	f.record("GetItemAuthor")
	if f.GetItemAuthorFn != nil {
		return f.GetItemAuthorFn(ctx, id)
	}
	return platform.Ok("author")
}

func (f *Fake) GetOriginatorBody(ctx context.Context, id int) platform.Result[string] {
	f.record("GetOriginatorBody")
	if f.GetOriginatorBodyFn != nil {
		return f.GetOriginatorBodyFn(ctx, id)
	}
	return platform.Ok("")
}

func (f *Fake) Comment(ctx context.Context, id int, body string) platform.Result[platform.CommentRef] {
	f.record("Comment")
	if f.CommentFn != nil {
		return f.CommentFn(ctx, id, body)
	}
	return platform.Ok(platform.CommentRef{ID: 1, CreatedAt: time.Now()})
}

func (f *Fake) ListCommentsAfter(ctx context.Context, id int, after time.Time) platform.Result[[]platform.CommentSnapshot] {
	f.record("ListCommentsAfter")
	if f.ListCommentsAfterFn != nil {
		return f.ListCommentsAfterFn(ctx, id, after)
	}
	return platform.Ok[[]platform.CommentSnapshot](nil)
}

func (f *Fake) GetCandidate(ctx context.Context, id int) platform.Result[platform.CandidateSnapshot] {
	f.record("GetCandidate")
	if f.GetCandidateFn != nil {
		return f.GetCandidateFn(ctx, id)
	}
	return platform.Ok(platform.CandidateSnapshot{ID: id, State: "OPEN", MergeableState: "MERGEABLE"})
}

func (f *Fake) RebaseCandidate(ctx context.Context, id int) platform.Result[bool] {
	f.record("RebaseCandidate")
	if f.RebaseCandidateFn != nil {
		return f.RebaseCandidateFn(ctx, id)
	}
	return platform.Ok(true)
}

func (f *Fake) MergeCandidate(ctx context.Context, id int, opts platform.MergeOptions) platform.Result[platform.MergeOutcome] {
	f.record("MergeCandidate")
	if f.MergeCandidateFn != nil {
		return f.MergeCandidateFn(ctx, id, opts)
	}
	return platform.Ok(platform.MergeOutcome{Merged: true, SHA: "deadbeef"})
}

func (f *Fake) GetWorkflowRun(ctx context.Context, runID int64) platform.Result[platform.WorkflowRunSnapshot] {
	f.record("GetWorkflowRun")
	if f.GetWorkflowRunFn != nil {
		return f.GetWorkflowRunFn(ctx, runID)
	}
	return platform.Ok(platform.WorkflowRunSnapshot{Status: "completed", Conclusion: "success"})
}

func (f *Fake) GetBranchProtection(ctx context.Context, branch string) platform.Result[*platform.BranchProtection] {
	f.record("GetBranchProtection")
	if f.GetBranchProtectionFn != nil {
		return f.GetBranchProtectionFn(ctx, branch)
	}
	return platform.Ok[*platform.BranchProtection](nil)
}

func (f *Fake) IsGroupMember(ctx context.Context, user, group string) platform.Result[bool] {
	f.record("IsGroupMember")
	if f.IsGroupMemberFn != nil {
		return f.IsGroupMemberFn(ctx, user, group)
	}
	return platform.Ok(false)
}

func (f *Fake) CreateLabelledItem(ctx context.Context, title, body string, labels []string) platform.Result[int] {
	f.record("CreateLabelledItem")
	if f.CreateLabelledItemFn != nil {
		return f.CreateLabelledItemFn(ctx, title, body, labels)
	}
	return platform.Ok(1)
}

func (f *Fake) CloseItem(ctx context.Context, id int, closingComment string) platform.Result[bool] {
	f.record("CloseItem")
	if f.CloseItemFn != nil {
		return f.CloseItemFn(ctx, id, closingComment)
	}
	return platform.Ok(true)
}

func (f *Fake) ListItemsByLabel(ctx context.Context, label string, state string) platform.Result[[]platform.ItemSummary] {
	f.record("ListItemsByLabel")
	if f.ListItemsByLabelFn != nil {
		return f.ListItemsByLabelFn(ctx, label, state)
	}
	return platform.Ok[[]platform.ItemSummary](nil)
}

func (f *Fake) ListWorkflowRunsByDefinition(ctx context.Context, workflowFileName string) platform.Result[[]platform.WorkflowRunSnapshot] {
	f.record("ListWorkflowRunsByDefinition")
	if f.ListWorkflowRunsByDefinitionFn != nil {
		return f.ListWorkflowRunsByDefinitionFn(ctx, workflowFileName)
	}
	return platform.Ok([]platform.WorkflowRunSnapshot{{Status: "in_progress"}})
}

var _ platform.Client = (*Fake)(nil)
