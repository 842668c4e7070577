package access

import (
	"github.com/fluxql/fluxql/internal/query"
)

// ApplyFallback implements C5 (spec §9's redesign guidance: splice the
// denial at the AST level, never by mutating generated SQL text). When the
// session's role-based RLS context couldn't be trusted — either because
// Install degraded, or because the caller never resolved past anon on a
// table that requires a real identity — every row is denied by appending a
// sentinel Filter{Operator: OpFalse} ahead of ORDER BY/LIMIT/OFFSET/GROUP BY
// evaluation.
//
// service_role always passes through: it's the teacher's trusted background
// identity and RLS doesn't apply to it. authenticated passes through only
// when Install succeeded (not degraded) and carries a UserID, since native
// RLS policies are the ones actually protecting those tables.
func ApplyFallback(q *query.ParsedQuery, tableRequiresAuth bool, sess SessionContext, installDegraded bool) *query.ParsedQuery {
	if sess.Role == RoleServiceRole {
		return q
	}
	if !tableRequiresAuth {
		return q
	}
	if sess.Role == RoleAuthenticated && sess.UserID != "" && !installDegraded {
		return q
	}

	clone := *q
	clone.Filters = append(append([]query.Filter{}, q.Filters...), query.Filter{Operator: query.OpFalse})
	return &clone
}
