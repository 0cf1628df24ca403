// Package request is the Request Extractor (C3): it parses an originator
// issue body into a domain.Request, accepting either the markdown-headered
// issue-template grammar or the legacy "Key: value" grammar.
package request

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mattermost/merge-queue-orchestrator/internal/domain"
)

var (
	headerRe = regexp.MustCompile(`(?im)^###\s*(PR Numbers|Release PR(?:\s*\(Optional\))?|Required Approvals Override(?:\s*\(Optional\))?)\s*$`)
	legacyRe = regexp.MustCompile(`(?im)^(PR Numbers|Release PR|Required Approvals Override)\s*:\s*(.*)$`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// sentinel values the issue-template form renders when a field is left
// blank.
func isSentinel(v string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || strings.EqualFold(trimmed, "_No response_") || strings.EqualFold(trimmed, "none")
}

// Extract parses body into a Request for originatorID, submitted by
// submitter. It returns an error when the body contains no usable
// "PR Numbers" field; that is fatal for the run per §4.3.
func Extract(originatorID int, submitter string, body string) (*domain.Request, error) {
	fields := extractFields(body)

	prNumbersField, ok := fields["PR Numbers"]
	if !ok || isSentinel(prNumbersField) {
		return nil, fmt.Errorf("could not find a usable \"PR Numbers\" field in the originator body")
	}

	candidates, err := parseIDList(prNumbersField)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PR Numbers: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("PR Numbers field did not contain any pull request identifiers")
	}

	req := &domain.Request{
		OriginatorID: originatorID,
		Submitter:    submitter,
		Candidates:   candidates,
	}

	if releaseField, ok := fields["Release PR"]; ok && !isSentinel(releaseField) {
		ids, err := parseIDList(releaseField)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Release PR: %w", err)
		}
		if len(ids) > 0 {
			release := ids[0]
			req.ReleaseCandidate = &release
		}
	}

	if overrideField, ok := fields["Required Approvals Override"]; ok && !isSentinel(overrideField) {
		n, err := strconv.Atoi(strings.TrimSpace(overrideField))
		// A non-numeric, zero, or negative override is treated as absent,
		// falling through to branch protection at validation time (§8
		// boundary case).
		if err == nil && n > 0 {
			req.ApprovalsOverride = &n
		}
	}

	return req, nil
}

// extractFields tries the markdown-headered grammar first, then the
// legacy "Key: value" grammar for any field the headered form did not
// supply.
func extractFields(body string) map[string]string {
	fields := map[string]string{}

	locs := headerRe.FindAllStringSubmatchIndex(body, -1)
	for i, loc := range locs {
		name := canonicalFieldName(body[loc[2]:loc[3]])
		start := loc[1]
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section := body[start:end]
		// A legacy "Key: value" line ends the headered section it follows,
		// so its values never leak into the headered field.
		if m := legacyRe.FindStringIndex(section); m != nil {
			section = section[:m[0]]
		}
		fields[name] = strings.TrimSpace(section)
	}

	for _, m := range legacyRe.FindAllStringSubmatch(body, -1) {
		name := canonicalFieldName(m[1])
		if _, exists := fields[name]; !exists {
			fields[name] = strings.TrimSpace(m[2])
		}
	}

	return fields
}

func canonicalFieldName(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimSuffix(header, "(Optional)")
	return strings.TrimSpace(header)
}

// parseIDList extracts every digit run in s as a candidate identifier,
// deduplicating and sorting ascending. Surrounding whitespace and
// separators (commas, newlines) are tolerated by design.
func parseIDList(s string) ([]int, error) {
	matches := digitsRe.FindAllString(s, -1)
	seen := map[int]bool{}
	var ids []int
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil, err
		}
		if !seen[n] {
			seen[n] = true
			ids = append(ids, n)
		}
	}
	sort.Ints(ids)
	return ids, nil
}
