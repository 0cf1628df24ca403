// Package pipeline is the Merge Pipeline (C6): it processes the
// Validator's mergeable[] list strictly sequentially, rebasing, triggering
// and awaiting CI, then merging each candidate in turn.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/config"
	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
	"github.com/mattermost/merge-queue-orchestrator/internal/pollutil"
)

var ciStartedRe = regexp.MustCompile(`actions/runs/(\d+)`)

const ciStartedPhrase = "CI job started"

type Pipeline struct {
	client platform.Client
	cfg    *config.Config
	log    *logrus.Entry
}

func New(client platform.Client, cfg *config.Config, log *logrus.Entry) *Pipeline {
	return &Pipeline{client: client, cfg: cfg, log: log}
}

// Run processes candidates in the order given — callers pass the
// Validator's ascending mergeable[] so merge order matches PR number order.
// It never stops early on a single candidate's failure; every candidate
// gets its own Outcome, per §4.6.
func (p *Pipeline) Run(ctx context.Context, candidates []int) ([]domain.Outcome, error) {
	outcomes := make([]domain.Outcome, 0, len(candidates))
	for _, id := range candidates {
		outcome := p.processOne(ctx, id, platform.MergeStrategySquash)
		outcomes = append(outcomes, outcome)

		if outcome.Bucket == domain.OutcomeMerged {
			if err := pollutil.Sleep(ctx, p.cfg.PostMergeSettle()); err != nil {
				return outcomes, err
			}
		}
	}
	return outcomes, nil
}

// MergeRelease processes a single release candidate using the configured
// release merge strategy, after the regular candidates have been
// processed. It is never added to the regular mergeable[] ordering.
func (p *Pipeline) MergeRelease(ctx context.Context, id int) domain.Outcome {
	strategy := platform.MergeStrategySquash
	if p.cfg.ReleaseMergeStrategy == "merge" {
		strategy = platform.MergeStrategyMerge
	}
	return p.processOne(ctx, id, strategy)
}

func (p *Pipeline) processOne(ctx context.Context, id int, mergeStrategy platform.MergeStrategy) domain.Outcome {
	log := p.log.WithField("candidate_id", id)

	author := "unknown"
	if a := p.client.GetItemAuthor(ctx, id); a.IsOK() {
		author = a.Value
	}

	// Step A: rebase onto the default branch.
	rebase := p.client.RebaseCandidate(ctx, id)
	if !rebase.IsOK() {
		log.WithError(rebase.Err()).Warn("failed to rebase candidate")
		return failed(id, author, domain.OutcomeFailedUpdate, "failed to update branch with default branch")
	}

	// Step B: trigger CI via the configured trigger phrase, recording the
	// platform-reported comment timestamp as the strictly-after watermark.
	// A CI-trigger failure is folded into FAILED_UPDATE, matching the
	// original automation's treatment of trigger failure as an update
	// failure rather than a distinct bucket.
	triggerResult := p.client.Comment(ctx, id, p.cfg.TriggerPhrase)
	if !triggerResult.IsOK() {
		log.WithError(triggerResult.Err()).Warn("failed to trigger CI")
		return failed(id, author, domain.OutcomeFailedUpdate, "failed to trigger CI")
	}
	trigger := triggerResult.Value.CreatedAt

	// Step C: wait for a "CI job started" comment carrying the run id.
	runID, err := p.waitForCIStart(ctx, id, trigger)
	if err != nil {
		log.WithError(err).Warn("error while waiting for CI start")
		return failed(id, author, domain.OutcomeCIStartupTimeout, "error while waiting for CI to start: "+err.Error())
	}
	if runID == 0 {
		log.Warn("timed out waiting for CI job started comment")
		return failed(id, author, domain.OutcomeCIStartupTimeout, "timed out waiting for CI to start")
	}

	// Step D: poll the run to completion.
	status, err := p.waitForCompletion(ctx, runID)
	if err != nil {
		log.WithError(err).Warn("error while waiting for CI completion")
		return failed(id, author, domain.OutcomeCITimeout, "error while waiting for CI completion: "+err.Error())
	}
	switch status {
	case ciFailed:
		return failed(id, author, domain.OutcomeFailedCI, "CI run failed")
	case ciTimeout:
		return failed(id, author, domain.OutcomeCITimeout, "timed out waiting for CI to complete")
	}

	// Step E: re-validate and merge.
	return p.merge(ctx, id, author, mergeStrategy)
}

type ciStatus int

const (
	ciSuccess ciStatus = iota
	ciFailed
	ciTimeout
)

func (p *Pipeline) waitForCIStart(ctx context.Context, candidateID int, trigger time.Time) (int64, error) {
	deadline := time.Now().Add(p.cfg.MaxStartupWait())
	predicate := func(ctx context.Context) (int64, bool, error) {
		comments := p.client.ListCommentsAfter(ctx, candidateID, trigger)
		if !comments.IsOK() {
			return 0, false, comments.Err()
		}
		for _, c := range comments.Value {
			if !c.CreatedAt.After(trigger) {
				continue
			}
			if !strings.Contains(c.Body, ciStartedPhrase) {
				continue
			}
			m := ciStartedRe.FindStringSubmatch(c.Body)
			if m == nil {
				continue
			}
			var runID int64
			if _, err := fmt.Sscanf(m[1], "%d", &runID); err != nil {
				continue
			}
			return runID, true, nil
		}
		return 0, false, nil
	}

	outcome, err := pollutil.Poll(ctx, deadline, 5*time.Second, predicate)
	if err != nil {
		return 0, err
	}
	if !outcome.Ok {
		return 0, nil
	}
	return outcome.Value, nil
}

func (p *Pipeline) waitForCompletion(ctx context.Context, runID int64) (ciStatus, error) {
	deadline := time.Now().Add(p.cfg.MaxWait())
	predicate := func(ctx context.Context) (ciStatus, bool, error) {
		run := p.client.GetWorkflowRun(ctx, runID)
		if run.IsNotFound() {
			return 0, false, nil
		}
		if !run.IsOK() {
			return 0, false, run.Err()
		}
		if run.Value.Status != "completed" {
			return 0, false, nil
		}
		if run.Value.Conclusion == "success" {
			return ciSuccess, true, nil
		}
		return ciFailed, true, nil
	}

	outcome, err := pollutil.Poll(ctx, deadline, p.cfg.CheckInterval(), predicate)
	if err != nil {
		return 0, err
	}
	if !outcome.Ok {
		return ciTimeout, nil
	}
	return outcome.Value, nil
}

// merge implements §4.6 step E: re-fetch state, bail on conflicts, decide
// branch deletion from the head branch's protection status, merge with the
// given strategy and a canonical subject (the request carries Admin: true,
// which the go-github client does not act on), then re-fetch to confirm.
// If the re-fetch itself fails, the merge call's own reported success is
// trusted rather than treated as a failure — a lost read after a
// successful write should never downgrade a real merge to FAILED_MERGE.
func (p *Pipeline) merge(ctx context.Context, id int, author string, strategy platform.MergeStrategy) domain.Outcome {
	log := p.log.WithField("candidate_id", id)

	snapshot := p.client.GetCandidate(ctx, id)
	if !snapshot.IsOK() {
		log.WithError(snapshot.Err()).Warn("failed to re-fetch candidate before merge")
		return failed(id, author, domain.OutcomeFailedMerge, "failed to re-fetch candidate state before merge")
	}
	pr := snapshot.Value
	if pr.State != "OPEN" {
		return failed(id, author, domain.OutcomeFailedMerge, fmt.Sprintf("candidate is no longer open (state: %s)", pr.State))
	}
	if pr.MergeableState == "CONFLICTING" {
		body := fmt.Sprintf(
			"@%s, merge conflicts appeared while this candidate was waiting in the merge queue. Please rebase and re-run the queue.",
			pr.Author,
		)
		if res := p.client.Comment(ctx, id, body); !res.IsOK() {
			log.WithError(res.Err()).Warn("failed to post late-conflict notification")
		}
		return failed(id, author, domain.OutcomeFailedMerge, "merge conflicts appeared before merge")
	}

	// deleteBranch defaults to false: only a confirmed-unprotected branch
	// protection read (Ok with a nil value) flips it to true. A forbidden or
	// otherwise failed branch-protection lookup leaves the protection state
	// unknown, and the safe default for unknown is to keep the branch.
	deleteBranch := false
	protection := p.client.GetBranchProtection(ctx, pr.HeadRef)
	if protection.IsOK() && protection.Value == nil {
		deleteBranch = true
	}

	subject := fmt.Sprintf("[Merge Queue]Merge Pull Request #%d from %s", id, pr.HeadRef)
	mergeResult := p.client.MergeCandidate(ctx, id, platform.MergeOptions{
		Strategy:      strategy,
		DeleteBranch:  deleteBranch,
		CommitSubject: subject,
		Admin:         true,
	})
	if !mergeResult.IsOK() {
		log.WithError(mergeResult.Err()).Warn("merge call failed")
		return failed(id, author, domain.OutcomeFailedMerge, "merge request was rejected")
	}

	confirm := p.client.GetCandidate(ctx, id)
	if !confirm.IsOK() {
		log.WithError(confirm.Err()).Warn("failed to re-fetch candidate after merge; trusting merge call's reported success")
		return merged(id, author)
	}
	if confirm.Value.State != "MERGED" {
		return failed(id, author, domain.OutcomeFailedMerge, fmt.Sprintf("merge call succeeded but candidate is still %s", confirm.Value.State))
	}
	return merged(id, author)
}

func merged(id int, author string) domain.Outcome {
	return domain.Outcome{ID: id, Author: author, Bucket: domain.OutcomeMerged}
}

func failed(id int, author string, bucket domain.OutcomeBucket, reason string) domain.Outcome {
	return domain.Outcome{ID: id, Author: author, Bucket: bucket, Reasons: []string{reason}}
}
