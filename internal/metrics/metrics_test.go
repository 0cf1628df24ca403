package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
)

func TestRecordOutcomeIncrementsPerBucketCounter(t *testing.T) {
	before := testutil.ToFloat64(CandidatesProcessed.WithLabelValues(string(domain.OutcomeMerged)))
	RecordOutcome(domain.OutcomeMerged)
	after := testutil.ToFloat64(CandidatesProcessed.WithLabelValues(string(domain.OutcomeMerged)))
	assert.Equal(t, before+1, after)
}

func TestRecordApprovalIncrementsPerVerdictCounter(t *testing.T) {
	before := testutil.ToFloat64(ApprovalVerdicts.WithLabelValues(string(domain.ApprovalRejected)))
	RecordApproval(domain.ApprovalRejected)
	after := testutil.ToFloat64(ApprovalVerdicts.WithLabelValues(string(domain.ApprovalRejected)))
	assert.Equal(t, before+1, after)
}

func TestRecordPlatformErrorIncrementsPerOperationCounter(t *testing.T) {
	before := testutil.ToFloat64(PlatformAPIErrors.WithLabelValues("merge_candidate"))
	RecordPlatformError("merge_candidate")
	after := testutil.ToFloat64(PlatformAPIErrors.WithLabelValues("merge_candidate"))
	assert.Equal(t, before+1, after)
}

func TestRegistryGathersAllRegisteredCollectors(t *testing.T) {
	families, err := Registry.Gather()
	assert.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["merge_queue_cycles_run_total"])
	assert.True(t, names["merge_queue_candidates_processed_total"])
}
