package validate

import "fmt"

// The three templated author notifications below consolidate
// validate_prs.py's notify_pr_owner_about_base_branch,
// notify_pr_owner_about_conflicts, and notify_pr_owner_about_approvals
// into one canonical message per failure class, per the merge queue's
// design decision to avoid three near-duplicate posting functions.

func WrongBaseBranchMessage(author string, prID int, actualBase, wantBase string) string {
	return fmt.Sprintf(
		"@%s, PR #%d targets `%s` but the merge queue only accepts candidates targeting `%s`. "+
			"Please retarget this pull request and re-run the merge queue.",
		author, prID, actualBase, wantBase,
	)
}

func MergeConflictMessage(author string, prID int, base string) string {
	return fmt.Sprintf(
		"@%s, PR #%d has merge conflicts with `%s`. Please rebase or merge `%s` into this branch to resolve them, then re-run the merge queue.",
		author, prID, base, base,
	)
}

func InsufficientApprovalsMessage(author string, prID, got, required int) string {
	return fmt.Sprintf(
		"@%s, PR #%d has %d approval(s) but requires %d before it can be merged by the merge queue.",
		author, prID, got, required,
	)
}
