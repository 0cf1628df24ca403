// Package validate is the Validator (C5): for each candidate it fetches a
// fresh snapshot and classifies it as mergeable or unmergeable-with-reasons.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/config"
	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
)

// Unmergeable pairs a candidate id with the reasons it failed validation.
type Unmergeable struct {
	ID      int
	Author  string
	Reasons []string
}

// Result is the Validator's output: two disjoint lists.
type Result struct {
	Mergeable   []int // ascending by id — this defines the merge order.
	Unmergeable []Unmergeable
}

type Validator struct {
	client platform.Client
	cfg    *config.Config
	log    *logrus.Entry
}

func New(client platform.Client, cfg *config.Config, log *logrus.Entry) *Validator {
	return &Validator{client: client, cfg: cfg, log: log}
}

// Validate classifies every candidate in req.Candidates. The release
// candidate, if present, is validated too (so its author can be notified
// on the same actionable failures) but is tracked separately and never
// added to Unmergeable: a release-PR validation failure does not enlarge
// the regular unmergeable list, per the original source's release-PR
// handling.
func (v *Validator) Validate(ctx context.Context, req *domain.Request) (*Result, *Unmergeable, error) {
	requiredApprovals, err := v.requiredApprovals(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	result := &Result{}
	for _, id := range req.Candidates {
		ok, author, reasons, err := v.validateOne(ctx, id, requiredApprovals)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to validate candidate #%d: %w", id, err)
		}
		if ok {
			result.Mergeable = append(result.Mergeable, id)
		} else {
			result.Unmergeable = append(result.Unmergeable, Unmergeable{ID: id, Author: author, Reasons: reasons})
		}
	}

	var releaseResult *Unmergeable
	if req.ReleaseCandidate != nil {
		ok, author, reasons, err := v.validateOne(ctx, *req.ReleaseCandidate, requiredApprovals)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to validate release candidate #%d: %w", *req.ReleaseCandidate, err)
		}
		if !ok {
			releaseResult = &Unmergeable{ID: *req.ReleaseCandidate, Author: author, Reasons: reasons}
		}
	}

	return result, releaseResult, nil
}

// requiredApprovals implements §4.5 step 1-2: manual override wins if it
// parses to a positive integer; otherwise branch protection's required
// review count; absent/forbidden defaults to 1.
func (v *Validator) requiredApprovals(ctx context.Context, req *domain.Request) (int, error) {
	if req.ApprovalsOverride != nil && *req.ApprovalsOverride > 0 {
		return *req.ApprovalsOverride, nil
	}

	protection := v.client.GetBranchProtection(ctx, v.cfg.DefaultBranch)
	if !protection.IsOK() {
		v.log.WithError(protection.Err()).Warn("failed to read branch protection; defaulting to 1 required approval")
		return 1, nil
	}
	if protection.Value == nil {
		return 1, nil
	}
	if protection.Value.RequiredApprovingReviewCount <= 0 {
		return 1, nil
	}
	return protection.Value.RequiredApprovingReviewCount, nil
}

// validateOne implements §4.5's mergeability predicate and posts the three
// actionable author notifications as a side effect of an actual failure.
func (v *Validator) validateOne(ctx context.Context, id int, requiredApprovals int) (bool, string, []string, error) {
	snapshot := v.client.GetCandidate(ctx, id)
	if snapshot.IsNotFound() {
		return false, "", []string{"candidate not found"}, nil
	}
	if !snapshot.IsOK() {
		return false, "", nil, snapshot.Err()
	}
	pr := snapshot.Value

	var reasons []string

	if pr.State != "OPEN" {
		reasons = append(reasons, fmt.Sprintf("PR is not open (state: %s)", pr.State))
		// Per §4.5, a closed/merged PR is skipped without classification
		// noise: still report it, but no author notification is useful.
		return false, pr.Author, reasons, nil
	}

	if pr.BaseRef != v.cfg.DefaultBranch {
		reasons = append(reasons, fmt.Sprintf(
			"does not target %q (targets %q) — all candidates must target the default branch %q",
			v.cfg.DefaultBranch, pr.BaseRef, v.cfg.DefaultBranch,
		))
		v.notify(ctx, id, WrongBaseBranchMessage(pr.Author, id, pr.BaseRef, v.cfg.DefaultBranch))
	}

	if pr.MergeableState == "CONFLICTING" {
		reasons = append(reasons, fmt.Sprintf("has merge conflicts (state=%s)", pr.MergeableState))
		v.notify(ctx, id, MergeConflictMessage(pr.Author, id, v.cfg.DefaultBranch))
	}
	// UNKNOWN is accepted; the platform re-checks at merge time.

	if pr.ApprovedCount < requiredApprovals {
		reasons = append(reasons, fmt.Sprintf("has %d approval(s), but %d are required", pr.ApprovedCount, requiredApprovals))
		v.notify(ctx, id, InsufficientApprovalsMessage(pr.Author, id, pr.ApprovedCount, requiredApprovals))
	}

	if blocking := blockingChecks(pr.FailingChecks, v.cfg.RequiredCICheck); len(blocking) > 0 {
		reasons = append(reasons, fmt.Sprintf("has failing/missing checks: %v", blocking))
	}

	if len(reasons) == 0 {
		return true, pr.Author, nil, nil
	}
	return false, pr.Author, reasons, nil
}

// blockingChecks narrows failingChecks (each formatted "name:state") down
// to the ones that actually gate a merge: when requiredCheck is set, only a
// failing/missing entry for that named check blocks, so an unrelated flaky
// check never holds up the queue; an empty requiredCheck falls back to
// blocking on any failing check.
func blockingChecks(failingChecks []string, requiredCheck string) []string {
	if requiredCheck == "" {
		return failingChecks
	}
	var blocking []string
	for _, c := range failingChecks {
		name := strings.SplitN(c, ":", 2)[0]
		if strings.EqualFold(name, requiredCheck) {
			blocking = append(blocking, c)
		}
	}
	return blocking
}

func (v *Validator) notify(ctx context.Context, candidateID int, body string) {
	if body == "" {
		return
	}
	if res := v.client.Comment(ctx, candidateID, body); !res.IsOK() {
		v.log.WithError(res.Err()).WithField("candidate_id", candidateID).Warn("failed to post validation-failure notification")
	}
}
