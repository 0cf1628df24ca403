// Package domain holds the value types shared by every merge-queue
// component that are not specific to the platform wire format: the parsed
// Request, the TrackingItem lock record, and the per-candidate Outcome.
// Platform-shaped snapshots (pull request state, workflow runs, comments)
// live in internal/platform instead, since their fields mirror GitHub's
// API rather than the orchestrator's own vocabulary.
package domain

// Request is built once from the originator issue body and never mutated
// afterward.
type Request struct {
	OriginatorID      int
	Submitter         string
	Candidates        []int
	ReleaseCandidate  *int
	ApprovalsOverride *int
}

// TrackingItem is the auxiliary, label-bearing issue used as a distributed
// lock. Its existence on the platform is the lock.
type TrackingItem struct {
	ID    int
	Title string
}

// CompletionStatus is the terminal status recorded on a TrackingItem when
// it is closed.
type CompletionStatus string

const (
	CompletionCompleted CompletionStatus = "completed"
	CompletionRejected  CompletionStatus = "rejected"
	CompletionTimeout   CompletionStatus = "timeout"
	CompletionFailed    CompletionStatus = "failed"
)

// OutcomeBucket classifies the terminal disposition of one candidate in a
// cycle. Every candidate processed by the pipeline lands in exactly one
// bucket.
type OutcomeBucket string

const (
	OutcomeMerged           OutcomeBucket = "MERGED"
	OutcomeUnmergeable      OutcomeBucket = "UNMERGEABLE"
	OutcomeFailedUpdate     OutcomeBucket = "FAILED_UPDATE"
	OutcomeFailedCI         OutcomeBucket = "FAILED_CI"
	OutcomeCITimeout        OutcomeBucket = "CI_TIMEOUT"
	OutcomeCIStartupTimeout OutcomeBucket = "CI_STARTUP_TIMEOUT"
	OutcomeFailedMerge      OutcomeBucket = "FAILED_MERGE"
)

// Outcome records the final disposition of one candidate.
type Outcome struct {
	ID      int
	Bucket  OutcomeBucket
	Reasons []string
	Author  string
}

// ApprovalVerdict is the terminal result of the human-in-the-loop approval
// poll.
type ApprovalVerdict string

const (
	ApprovalApproved ApprovalVerdict = "APPROVED"
	ApprovalRejected ApprovalVerdict = "REJECTED"
	ApprovalTimeout  ApprovalVerdict = "TIMEOUT"
)
