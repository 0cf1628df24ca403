// Package report is the Reporter (C7): it aggregates the cycle's Outcomes
// into a sectioned summary, posts it to the originator, comments remediation
// guidance on every failed candidate, and closes the originator when the
// cycle actually processed something.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
)

// bucketOrder fixes the section ordering of the generated report —
// matching the original automation's "Initial Validation Failures" through
// "Merge Operation Failed" section sequence.
var bucketOrder = []domain.OutcomeBucket{
	domain.OutcomeUnmergeable,
	domain.OutcomeFailedUpdate,
	domain.OutcomeFailedCI,
	domain.OutcomeCITimeout,
	domain.OutcomeCIStartupTimeout,
	domain.OutcomeFailedMerge,
}

var bucketTitles = map[domain.OutcomeBucket]string{
	domain.OutcomeUnmergeable:      "Initial Validation Failures",
	domain.OutcomeFailedUpdate:     "Update With Default Branch Failed",
	domain.OutcomeFailedCI:         "CI Checks Failed",
	domain.OutcomeCITimeout:        "CI Execution Timeout",
	domain.OutcomeCIStartupTimeout: "CI Startup Timeout",
	domain.OutcomeFailedMerge:      "Merge Operation Failed",
}

var bucketRemediation = map[domain.OutcomeBucket]string{
	domain.OutcomeUnmergeable:      "This PR could not be merged due to insufficient approvals, failing or missing status checks, or not targeting the default branch. Please address these issues to include it in the next merge cycle.",
	domain.OutcomeFailedUpdate:     "This PR could not be updated with the latest default branch. There may be merge conflicts that need to be resolved manually.",
	domain.OutcomeFailedCI:         "This PR's CI checks failed after being updated with the default branch. Please review the failing checks and fix any issues.",
	domain.OutcomeCITimeout:        "This PR's CI checks did not complete within the configured timeout. Please check the CI status and re-run if needed.",
	domain.OutcomeCIStartupTimeout: "This PR's CI workflow did not start within the configured startup timeout. This may indicate CI runner availability or workflow configuration issues.",
	domain.OutcomeFailedMerge:      "This PR failed to merge despite passing all checks. This is most likely due to merge conflicts that occurred after other PRs were merged to the default branch.",
}

type Reporter struct {
	client platform.Client
	log    *logrus.Entry
}

func New(client platform.Client, log *logrus.Entry) *Reporter {
	return &Reporter{client: client, log: log}
}

// Report is everything the Reporter needs to produce a cycle summary.
type Report struct {
	OriginatorID      int
	Submitter         string
	DefaultBranch     string
	RequiredApprovals int
	TotalRequested    int
	Outcomes          []domain.Outcome
	ReleaseOutcome    *domain.Outcome // nil when no release candidate was requested.
}

// Publish implements §4.7: build the summary, post it to the originator,
// remediate every failed candidate, and close the originator iff at least
// one Outcome was produced.
func (r *Reporter) Publish(ctx context.Context, rep Report) error {
	summary := r.buildSummary(rep)

	willClose := len(rep.Outcomes) > 0
	footer := "*This merge queue request encountered issues and requires manual review. The issue will remain open.*"
	if willClose {
		footer = "*This merge queue request has been completed. The issue will now be closed automatically.*"
	}

	body := fmt.Sprintf("## Merge Queue Results\n\n%s\n\n---\n%s", summary, footer)
	if res := r.client.Comment(ctx, rep.OriginatorID, body); !res.IsOK() {
		return fmt.Errorf("failed to post summary to originator #%d: %w", rep.OriginatorID, res.Err())
	}

	for _, outcome := range rep.Outcomes {
		r.notifyFailure(ctx, outcome)
	}
	if rep.ReleaseOutcome != nil {
		r.notifyFailure(ctx, *rep.ReleaseOutcome)
	}

	if willClose {
		closeComment := "Merge queue workflow completed. This issue is now closed automatically."
		if res := r.client.CloseItem(ctx, rep.OriginatorID, closeComment); !res.IsOK() {
			r.log.WithError(res.Err()).WithField("originator_id", rep.OriginatorID).Warn("failed to close originator; summary was already posted")
		}
	}

	return nil
}

func (r *Reporter) notifyFailure(ctx context.Context, outcome domain.Outcome) {
	if outcome.Bucket == domain.OutcomeMerged {
		return
	}
	remediation, ok := bucketRemediation[outcome.Bucket]
	if !ok {
		return
	}
	body := fmt.Sprintf("@%s, %s", outcome.Author, remediation)
	if res := r.client.Comment(ctx, outcome.ID, body); !res.IsOK() {
		r.log.WithError(res.Err()).WithField("candidate_id", outcome.ID).Warn("failed to post remediation comment")
	}
}

func (r *Reporter) buildSummary(rep Report) string {
	var b strings.Builder

	merged := filterBucket(rep.Outcomes, domain.OutcomeMerged)
	totalFailed := len(rep.Outcomes) - len(merged)

	fmt.Fprintf(&b, "### Overview\n")
	fmt.Fprintf(&b, "- **Total PRs Requested**: %d\n", rep.TotalRequested)
	fmt.Fprintf(&b, "- **Successfully Merged**: %d\n", len(merged))
	fmt.Fprintf(&b, "- **Failed to Merge**: %d\n\n", totalFailed)

	fmt.Fprintf(&b, "### Successfully Merged\n")
	if len(merged) == 0 {
		b.WriteString("- None\n")
	} else {
		for _, o := range merged {
			fmt.Fprintf(&b, "- PR #%d (@%s)\n", o.ID, o.Author)
		}
	}

	for _, bucket := range bucketOrder {
		items := filterBucket(rep.Outcomes, bucket)
		fmt.Fprintf(&b, "\n### %s\n", bucketTitles[bucket])
		if len(items) == 0 {
			b.WriteString("- None\n")
			continue
		}
		for _, o := range items {
			reason := strings.Join(o.Reasons, "; ")
			fmt.Fprintf(&b, "- PR #%d (@%s) - %s\n", o.ID, o.Author, reason)
		}
	}

	if rep.ReleaseOutcome != nil {
		b.WriteString("\n### Release Candidate\n")
		o := *rep.ReleaseOutcome
		if o.Bucket == domain.OutcomeMerged {
			fmt.Fprintf(&b, "- PR #%d (@%s) merged\n", o.ID, o.Author)
		} else {
			fmt.Fprintf(&b, "- PR #%d (@%s) - %s\n", o.ID, o.Author, strings.Join(o.Reasons, "; "))
		}
	}

	fmt.Fprintf(&b, "\n---\n@%s - Your merge queue request has been completed.", rep.Submitter)
	return b.String()
}

func filterBucket(outcomes []domain.Outcome, bucket domain.OutcomeBucket) []domain.Outcome {
	var out []domain.Outcome
	for _, o := range outcomes {
		if o.Bucket == bucket {
			out = append(out, o)
		}
	}
	return out
}
