// Package lockmanager is the Lock Manager (C2): it prevents two
// orchestrator instances from processing the same originator concurrently
// using a specially-labelled GitHub issue as a distributed lock.
package lockmanager

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
	"github.com/mattermost/merge-queue-orchestrator/internal/platform"
)

// DistributedLockLabel is the load-bearing label: the lock scan filters
// strictly by it, keeping the scan O(active locks) rather than O(open
// issues).
const DistributedLockLabel = "distributed-lock"

// AutomationLabel is attached alongside DistributedLockLabel on every
// TrackingItem the orchestrator creates.
const AutomationLabel = "automation"

var trackingTitleOriginatorRe = regexp.MustCompile(`Issue #(\d+)`)

// Manager implements the lock acquire/release protocol over a
// platform.Client.
type Manager struct {
	client           platform.Client
	workflowFileName string
	log              *logrus.Entry
}

func New(client platform.Client, workflowFileName string, log *logrus.Entry) *Manager {
	return &Manager{client: client, workflowFileName: workflowFileName, log: log}
}

// AcquireResult is the outcome of Acquire.
type AcquireResult struct {
	Acquired     bool
	TrackingItem domain.TrackingItem
	// ExistingID is set when acquisition failed because a TrackingItem
	// already exists for this originator.
	ExistingID int
	// CompetingWorkflowRuns is set when acquisition failed because more
	// than one in-progress run of the orchestrator's own workflow
	// definition was found.
	CompetingWorkflowRuns int
}

// Acquire implements §4.2 steps 1-4: first reject if more than one
// in-progress run of this orchestrator's own workflow definition exists
// (a platform-level race the TrackingItem label scan alone cannot catch,
// since two runs can both observe "no tracking item yet" before either
// creates one); then scan open TrackingItems for this originator, failing
// acquisition and posting a duplicate-run notice on the originator if one
// is found; otherwise create a new one.
func (m *Manager) Acquire(ctx context.Context, req *domain.Request) (*AcquireResult, error) {
	runsResult := m.client.ListWorkflowRunsByDefinition(ctx, m.workflowFileName)
	if !runsResult.IsOK() {
		return nil, fmt.Errorf("failed to check for competing workflow runs: %w", runsResult.Err())
	}
	if len(runsResult.Value) > 1 {
		m.log.WithFields(logrus.Fields{
			"originator_id":    req.OriginatorID,
			"workflow_file":    m.workflowFileName,
			"in_progress_runs": len(runsResult.Value),
		}).Info("lock contention: a competing orchestrator workflow run is already in progress")
		return &AcquireResult{Acquired: false, CompetingWorkflowRuns: len(runsResult.Value)}, nil
	}

	listResult := m.client.ListItemsByLabel(ctx, DistributedLockLabel, "open")
	if !listResult.IsOK() {
		return nil, fmt.Errorf("failed to scan for existing tracking items: %w", listResult.Err())
	}

	for _, item := range listResult.Value {
		if originatorFromTitle(item.Title) == req.OriginatorID {
			m.log.WithFields(logrus.Fields{
				"originator_id":   req.OriginatorID,
				"tracking_item_id": item.ID,
			}).Info("lock contention: tracking item already exists for originator")
			notice := fmt.Sprintf("A merge queue run is already in progress for this issue (tracking issue #%d). This run will exit without processing any candidates.", item.ID)
			if res := m.client.Comment(ctx, req.OriginatorID, notice); !res.IsOK() {
				m.log.WithError(res.Err()).Warn("failed to post duplicate-run notice on originator")
			}
			return &AcquireResult{Acquired: false, ExistingID: item.ID}, nil
		}
	}

	title := TrackingTitle(req.OriginatorID)
	body := trackingBody(req)
	createResult := m.client.CreateLabelledItem(ctx, title, body, []string{DistributedLockLabel, AutomationLabel})
	if !createResult.IsOK() {
		return nil, fmt.Errorf("failed to create tracking item: %w", createResult.Err())
	}

	m.log.WithFields(logrus.Fields{
		"originator_id":    req.OriginatorID,
		"tracking_item_id": createResult.Value,
	}).Info("acquired distributed lock")

	return &AcquireResult{
		Acquired: true,
		TrackingItem: domain.TrackingItem{
			ID:    createResult.Value,
			Title: title,
		},
	}, nil
}

// Release is the guaranteed cleanup on scope exit: post a completion
// comment on the TrackingItem and close it. Close failure is logged but
// never fails the overall run — the label-based scan will keep rejecting
// new runs until an operator closes it by hand.
func (m *Manager) Release(ctx context.Context, trackingItemID int, status domain.CompletionStatus) {
	if trackingItemID == 0 {
		return
	}
	comment := fmt.Sprintf("Merge queue run finished with status `%s`.", status)
	result := m.client.CloseItem(ctx, trackingItemID, comment)
	if !result.IsOK() {
		m.log.WithFields(logrus.Fields{
			"tracking_item_id": trackingItemID,
			"status":           status,
			"error":            result.Err(),
		}).Warn("failed to close tracking item; it will continue to block new runs until closed manually")
	}
}

// TrackingTitle renders the canonical TrackingItem title for an
// originator.
func TrackingTitle(originatorID int) string {
	return fmt.Sprintf("[MERGE QUEUE TRACKING] Issue #%d - Auto Merge In Progress", originatorID)
}

func originatorFromTitle(title string) int {
	m := trackingTitleOriginatorRe.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func trackingBody(req *domain.Request) string {
	body := fmt.Sprintf("Tracking issue for merge queue run on candidates: %v", req.Candidates)
	if req.ReleaseCandidate != nil {
		body += fmt.Sprintf("\nRelease candidate: #%d", *req.ReleaseCandidate)
	}
	return body
}
