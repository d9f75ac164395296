package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bizpilot/insight-gateway/internal/tenant"
)

// Verdict is the validation guard's decision for one query candidate.
// It is a pure function of the statement, the tenant context, and the
// static security policy; no statement reaches execution without an
// accepting verdict.
type Verdict struct {
	Accepted bool
	Check    string
	Reason   string
}

var (
	codeFencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\n?(.*?)\\n?```$")

	// Denylist matching is whole-word and case-insensitive so that
	// identifiers containing keyword substrings (selection, dropped_at)
	// are not misparsed.
	denylistPattern = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|execute|exec|call|merge|copy|do|union|vacuum|reindex)\b`)

	// Whole-word prefix match: an identifier that merely starts with the
	// keyword (selection, within) is not a read-only clause.
	readOnlyPrefixPattern = regexp.MustCompile(`(?i)^(select|with)\b`)

	limitClausePattern = regexp.MustCompile(`(?i)\blimit\s+\d+\b`)
)

// Normalize strips any surrounding code-fence markers and a single
// trailing terminator from a generated statement.
func Normalize(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if m := codeFencePattern.FindStringSubmatch(stmt); m != nil {
		stmt = strings.TrimSpace(m[1])
	}
	stmt = strings.TrimSuffix(stmt, ";")
	return strings.TrimSpace(stmt)
}

type check struct {
	name string
	fn   func(stmt string, tc *tenant.Context) string // non-empty = rejection reason
}

// The checks are independent, composable predicates; each is tested in
// isolation and all must pass before execution. Retry paths re-run the
// full set on regenerated statements.
var checks = []check{
	{
		name: "read_only_prefix",
		fn: func(stmt string, _ *tenant.Context) string {
			if readOnlyPrefixPattern.MatchString(strings.TrimSpace(stmt)) {
				return ""
			}
			return "statement does not begin with a read-only clause"
		},
	},
	{
		name: "denylist",
		fn: func(stmt string, _ *tenant.Context) string {
			if m := denylistPattern.FindString(stmt); m != "" {
				return fmt.Sprintf("denylisted keyword %q", strings.ToLower(m))
			}
			return ""
		},
	},
	{
		name: "no_comments",
		fn: func(stmt string, _ *tenant.Context) string {
			// A comment could hide a second statement or defeat keyword scanning.
			if strings.Contains(stmt, "--") || strings.Contains(stmt, "/*") {
				return "comment syntax not allowed"
			}
			return ""
		},
	},
	{
		name: "tenant_literal",
		fn: func(stmt string, tc *tenant.Context) string {
			if tc.CrossTenantAdmin {
				return ""
			}
			// Blunt defense-in-depth on top of server-side row security:
			// the statement text must reference the caller's tenant.
			if !strings.Contains(stmt, tc.TenantID) {
				return "statement does not reference the caller's tenant"
			}
			return ""
		},
	},
}

// Validate runs every check against a normalized statement. The first
// failing check produces a rejecting verdict.
func Validate(stmt string, tc *tenant.Context) Verdict {
	for _, c := range checks {
		if reason := c.fn(stmt, tc); reason != "" {
			return Verdict{Accepted: false, Check: c.name, Reason: reason}
		}
	}
	return Verdict{Accepted: true}
}

// EnsureLimit appends a row-count ceiling when the statement does not
// carry one. The generated text is never trusted to self-limit.
func EnsureLimit(stmt string, maxRows int) string {
	if limitClausePattern.MatchString(stmt) {
		return stmt
	}
	return fmt.Sprintf("%s LIMIT %d", stmt, maxRows)
}
