// Package orchestrator is the Orchestrator (C8): it wires the Lock
// Manager, Request Extractor, Approval Controller, Validator, Merge
// Pipeline, and Reporter into one cycle, guaranteeing lock release and
// TrackingItem closure on every exit path.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/approval"
	"github.com/mattermost/merge-queue-orchestrator/internal/config"
	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/lockmanager"
	"github.com/mattermost/merge-queue-orchestrator/internal/metrics"
	"github.com/mattermost/merge-queue-orchestrator/internal/pipeline"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
	"github.com/mattermost/merge-queue-orchestrator/internal/report"
	"github.com/mattermost/merge-queue-orchestrator/internal/request"
	"github.com/mattermost/merge-queue-orchestrator/internal/validate"
)

type Orchestrator struct {
	client platform.Client
	cfg    *config.Config
	log    *logrus.Entry

	locks    *lockmanager.Manager
	approval *approval.Controller
	validate *validate.Validator
	pipeline *pipeline.Pipeline
	report   *report.Reporter
}

func New(client platform.Client, cfg *config.Config, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		client:   client,
		cfg:      cfg,
		log:      log,
		locks:    lockmanager.New(client, cfg.WorkflowFileName, log),
		approval: approval.New(client, cfg, log),
		validate: validate.New(client, cfg, log),
		pipeline: pipeline.New(client, cfg, log),
		report:   report.New(client, log),
	}
}

// Run executes one full cycle for the given originator issue and returns
// the process exit code per §7: 0 on success or "nothing requested", 1 on
// fatal error.
func (o *Orchestrator) Run(ctx context.Context) int {
	metrics.CyclesRun.Inc()

	originatorID := o.cfg.OriginatorID
	log := o.log.WithField("originator_id", originatorID)

	body, err := o.fetchOriginatorBody(ctx, originatorID)
	if err != nil {
		log.WithError(err).Error("failed to fetch originator issue")
		metrics.RecordPlatformError("get_originator_body")
		return 1
	}

	submitterResult := o.client.GetItemAuthor(ctx, originatorID)
	submitter := "unknown"
	if submitterResult.IsOK() {
		submitter = submitterResult.Value
	}

	req, err := request.Extract(originatorID, submitter, body)
	if err != nil {
		log.WithError(err).Warn("failed to extract a usable request from the originator body")
		if res := o.client.Comment(ctx, originatorID, fmt.Sprintf("Could not parse a merge queue request from this issue: %s", err.Error())); !res.IsOK() {
			log.WithError(res.Err()).Warn("failed to post parse-failure comment")
		}
		return 0 // nothing requested: not a fatal error.
	}

	acquireResult, err := o.locks.Acquire(ctx, req)
	if err != nil {
		log.WithError(err).Error("failed to acquire distributed lock")
		return 1
	}
	if !acquireResult.Acquired {
		metrics.LockContention.Inc()
		log.WithField("existing_tracking_item", acquireResult.ExistingID).Info("a merge queue run is already in progress for this originator")
		return 0
	}

	trackingItemID := acquireResult.TrackingItem.ID
	completion := domain.CompletionFailed
	defer func() {
		o.locks.Release(ctx, trackingItemID, completion)
	}()

	verdict, err := o.approval.Run(ctx, originatorID)
	if err != nil {
		log.WithError(err).Error("approval controller failed")
		completion = domain.CompletionFailed
		return 1
	}
	metrics.RecordApproval(verdict.Verdict)
	switch verdict.Verdict {
	case domain.ApprovalRejected:
		completion = domain.CompletionRejected
		return 0
	case domain.ApprovalTimeout:
		completion = domain.CompletionTimeout
		return 0
	}

	exitCode, outcomes, releaseOutcome := o.runPipeline(ctx, req)
	if exitCode != 0 {
		log.Error("merge pipeline cycle failed before all candidates could be processed; skipping the normal report")
		if res := o.client.Comment(ctx, originatorID, "The merge queue run failed before it could finish processing this cycle's candidates. Check the run logs; none of the candidates below were confirmed merged."); !res.IsOK() {
			log.WithError(res.Err()).Warn("failed to post pipeline-failure comment")
		}
		completion = domain.CompletionFailed
		return exitCode
	}

	rep := report.Report{
		OriginatorID:   originatorID,
		Submitter:      submitter,
		DefaultBranch:  o.cfg.DefaultBranch,
		TotalRequested: len(req.Candidates),
		Outcomes:       outcomes,
		ReleaseOutcome: releaseOutcome,
	}
	if err := o.report.Publish(ctx, rep); err != nil {
		log.WithError(err).Error("failed to publish cycle report")
		completion = domain.CompletionFailed
		return 1
	}

	completion = domain.CompletionCompleted
	return exitCode
}

// runPipeline runs validation and the merge pipeline. A validator error
// returns exit code 1 with no Outcomes; a fatal merge-pipeline error returns
// exit code 1 with the Outcomes produced so far and skips the release
// candidate. Run does not pass Outcomes from a non-zero exit to the Reporter.
func (o *Orchestrator) runPipeline(ctx context.Context, req *domain.Request) (int, []domain.Outcome, *domain.Outcome) {
	log := o.log.WithField("originator_id", req.OriginatorID)

	validated, releaseUnmergeable, err := o.validate.Validate(ctx, req)
	if err != nil {
		log.WithError(err).Error("validator failed")
		return 1, nil, nil
	}

	var outcomes []domain.Outcome
	for _, u := range validated.Unmergeable {
		outcomes = append(outcomes, domain.Outcome{ID: u.ID, Author: u.Author, Bucket: domain.OutcomeUnmergeable, Reasons: u.Reasons})
	}

	pipelineOutcomes, err := o.pipeline.Run(ctx, validated.Mergeable)
	outcomes = append(outcomes, pipelineOutcomes...)
	for _, outcome := range outcomes {
		metrics.RecordOutcome(outcome.Bucket)
	}
	if err != nil {
		log.WithError(err).Error("merge pipeline returned a fatal error")
		return 1, outcomes, nil
	}

	var releaseOutcome *domain.Outcome
	if req.ReleaseCandidate != nil {
		if releaseUnmergeable != nil {
			releaseOutcome = &domain.Outcome{ID: releaseUnmergeable.ID, Author: releaseUnmergeable.Author, Bucket: domain.OutcomeUnmergeable, Reasons: releaseUnmergeable.Reasons}
		} else {
			outcome := o.pipeline.MergeRelease(ctx, *req.ReleaseCandidate)
			releaseOutcome = &outcome
		}
		if releaseOutcome != nil {
			metrics.RecordOutcome(releaseOutcome.Bucket)
		}
	}

	return 0, outcomes, releaseOutcome
}

func (o *Orchestrator) fetchOriginatorBody(ctx context.Context, originatorID int) (string, error) {
	body := o.client.GetOriginatorBody(ctx, originatorID)
	if !body.IsOK() {
		return "", body.Err()
	}
	return body.Value, nil
}
