package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMarkdownHeaderGrammar(t *testing.T) {
	body := "### PR Numbers\n#101, #102, #103\n\n### Release PR (Optional)\n_No response_\n\n### Required Approvals Override (Optional)\n_No response_\n"

	req, err := Extract(1, "alice", body)
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102, 103}, req.Candidates)
	assert.Nil(t, req.ReleaseCandidate)
	assert.Nil(t, req.ApprovalsOverride)
}

func TestExtractLegacyKeyValueGrammar(t *testing.T) {
	body := "PR Numbers: 5, 6\nRelease PR: 7\nRequired Approvals Override: 2\n"

	req, err := Extract(1, "alice", body)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, req.Candidates)
	require.NotNil(t, req.ReleaseCandidate)
	assert.Equal(t, 7, *req.ReleaseCandidate)
	require.NotNil(t, req.ApprovalsOverride)
	assert.Equal(t, 2, *req.ApprovalsOverride)
}

func TestExtractDeduplicatesAndSortsCandidates(t *testing.T) {
	body := "### PR Numbers\n#3, #1, #3, #2\n"

	req, err := Extract(1, "alice", body)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, req.Candidates)
}

func TestExtractFailsWithoutPRNumbers(t *testing.T) {
	_, err := Extract(1, "alice", "### Release PR\n#7\n")
	assert.Error(t, err)
}

func TestExtractTreatsSentinelAsAbsent(t *testing.T) {
	body := "### PR Numbers\n#1\n\n### Release PR\nnone\n"

	req, err := Extract(1, "alice", body)
	require.NoError(t, err)
	assert.Nil(t, req.ReleaseCandidate)
}

func TestExtractIgnoresNonPositiveApprovalsOverride(t *testing.T) {
	body := "### PR Numbers\n#1\n\n### Required Approvals Override\n0\n"

	req, err := Extract(1, "alice", body)
	require.NoError(t, err)
	assert.Nil(t, req.ApprovalsOverride)
}

func TestExtractPrefersHeaderGrammarOverLegacy(t *testing.T) {
	body := "### PR Numbers\n#9\n\nPR Numbers: 1, 2\n"

	req, err := Extract(1, "alice", body)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, req.Candidates)
}
