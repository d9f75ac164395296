package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bizpilot/insight-gateway/internal/config"
	"github.com/bizpilot/insight-gateway/internal/oracle"
	"github.com/bizpilot/insight-gateway/internal/telemetry"
	"github.com/bizpilot/insight-gateway/internal/tenant"
	"github.com/bizpilot/insight-gateway/internal/types"
)

var (
	// ErrRejected means the candidate failed validation and was never executed.
	ErrRejected = errors.New("statement rejected by policy")
	// ErrNoResult means generation and both repair paths were exhausted.
	// Raw database error text is never surfaced past this point.
	ErrNoResult = errors.New("no result available")
)

// Outcome carries the rows of one successfully executed query.
type Outcome struct {
	Statement string
	Columns   Columns
	Rows      [][]any
}

// Schema of the analytics tables the oracle may query. Kept in sync with
// the migrations by hand; the generator never sees real data.
const schemaDescription = `tenants(id, name)
daily_performance(tenant_id, day, income, labor_cost, labor_hours, discounts, day_factor)
invoices(tenant_id, issued_on, category, subtotal)
tenant_settings(tenant_id, tax_rate, cost_markup, manager_cost)
monthly_overrides(tenant_id, year, month, tax_rate, cost_markup, revenue_target, labor_pct_target)
category_targets(tenant_id, category, pct_target)
weekday_weights(tenant_id, weekday, factor)`

var knownTables = []string{
	"tenants", "daily_performance", "invoices", "tenant_settings",
	"monthly_overrides", "category_targets", "weekday_weights",
}

// Resolver turns a question into a vetted, tenant-scoped, read-only query
// and executes it: generate, validate, execute, then at most one
// mechanical schema repair and one regeneration. Regenerated statements
// pass through the exact same validation as the first candidate.
type Resolver struct {
	oracle  oracle.Oracle
	exec    Executor
	policy  *PolicyGate
	metrics *telemetry.Metrics
	cfg     func() config.GuardConfig
}

func NewResolver(o oracle.Oracle, exec Executor, policy *PolicyGate, metrics *telemetry.Metrics, cfg func() config.GuardConfig) *Resolver {
	return &Resolver{oracle: o, exec: exec, policy: policy, metrics: metrics, cfg: cfg}
}

func (r *Resolver) recordOracleCall(purpose string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordOracleCall(purpose, status)
}

func (r *Resolver) generateInstruction(tc *tenant.Context) string {
	var scope string
	if tc.CrossTenantAdmin {
		scope = "The caller may query across all tenants."
	} else {
		ids := append([]string{tc.TenantID}, tc.AllowedTenantIDs...)
		scope = fmt.Sprintf("Every statement MUST restrict rows to tenant_id = '%s' (permitted tenants: %s).",
			tc.TenantID, strings.Join(ids, ", "))
	}
	return fmt.Sprintf(`You translate business questions into a single PostgreSQL SELECT statement.

Schema:
%s

Rules:
- One read-only SELECT statement only. Never modify data or schema.
- %s
- Cap the result with LIMIT %d or lower.
- Return the raw statement text with no explanation and no code fences.`,
		schemaDescription, scope, r.cfg().MaxRows)
}

// Resolve implements the full generation and validation ladder for one
// question. Call budget: one generation, at most one regeneration, and at
// most two executions per accepted statement.
func (r *Resolver) Resolve(ctx context.Context, question string, tc *tenant.Context, recentTurns []types.Turn) (*Outcome, error) {
	turns := oracle.TurnsWithQuestion(types.TailTurns(recentTurns, 3, 280), question)

	raw, err := r.oracle.Complete(ctx, oracle.Request{
		System: r.generateInstruction(tc),
		Turns:  turns,
	})
	r.recordOracleCall("generate", err)
	if err != nil {
		return nil, err
	}

	outcome, execErr := r.validateAndExecute(ctx, raw, tc)
	if execErr == nil {
		return outcome, nil
	}
	if errors.Is(execErr, ErrRejected) {
		return nil, execErr
	}

	// Repair by regeneration: one additional oracle call with the failing
	// statement and its error appended, then the same validate/execute pass.
	slog.Warn("query execution failed, regenerating", "error", execErr)
	repairTurns := append(turns, types.Turn{
		Role: types.RoleUser,
		Text: fmt.Sprintf("The statement below failed. Return a corrected single SELECT statement, raw text only.\n\nStatement:\n%s\n\nError:\n%s", raw, execErr.Error()),
	})
	raw2, err := r.oracle.Complete(ctx, oracle.Request{
		System: r.generateInstruction(tc),
		Turns:  repairTurns,
	})
	r.recordOracleCall("regenerate", err)
	if err != nil {
		return nil, err
	}

	outcome, execErr = r.validateAndExecute(ctx, raw2, tc)
	if execErr == nil {
		return outcome, nil
	}
	if errors.Is(execErr, ErrRejected) {
		return nil, execErr
	}
	slog.Warn("regenerated query failed, giving up", "error", execErr)
	return nil, ErrNoResult
}

// validateAndExecute runs the full check set, the optional policy gate,
// the row cap, the execution, and the single deterministic schema repair.
func (r *Resolver) validateAndExecute(ctx context.Context, raw string, tc *tenant.Context) (*Outcome, error) {
	stmt := Normalize(raw)

	verdict := Validate(stmt, tc)
	if !verdict.Accepted {
		if r.metrics != nil {
			r.metrics.RecordGuardRejection(verdict.Check)
		}
		slog.Warn("statement rejected", "check", verdict.Check, "reason", verdict.Reason)
		return nil, fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
	}

	if r.policy != nil && r.policy.Enabled() {
		allowed, reason, err := r.policy.Evaluate(ctx, PolicyInput{
			Tenant:    tc.TenantID,
			Admin:     tc.CrossTenantAdmin,
			Purpose:   "analytics_query",
			Statement: stmt,
		})
		if err != nil || !allowed {
			if r.metrics != nil {
				r.metrics.RecordGuardRejection("policy")
			}
			return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
		}
	}

	stmt = EnsureLimit(stmt, r.cfg().MaxRows)

	cols, rows, err := r.exec.Query(ctx, stmt)
	if err == nil {
		return &Outcome{Statement: stmt, Columns: cols, Rows: rows}, nil
	}
	if !isUndefinedRelation(err) {
		return nil, err
	}

	// Deterministic textual repair: qualify bare table names with the
	// configured schema prefix and retry once. This is a mechanical
	// rewrite, not a second model call, so the statement is re-validated
	// for the same guarantees.
	repaired := qualifyTables(stmt, r.cfg().Schema)
	if repaired == stmt {
		return nil, err
	}
	if v := Validate(repaired, tc); !v.Accepted {
		return nil, fmt.Errorf("%w: %s", ErrRejected, v.Reason)
	}
	cols, rows, retryErr := r.exec.Query(ctx, repaired)
	if retryErr != nil {
		return nil, retryErr
	}
	return &Outcome{Statement: repaired, Columns: cols, Rows: rows}, nil
}

var tableRefPattern = regexp.MustCompile(`(?i)\b(from|join)\s+(` + strings.Join(knownTables, "|") + `)\b`)

// qualifyTables rewrites bare known table references to schema.table.
func qualifyTables(stmt, schema string) string {
	if schema == "" {
		return stmt
	}
	return tableRefPattern.ReplaceAllString(stmt, "$1 "+schema+".$2")
}
