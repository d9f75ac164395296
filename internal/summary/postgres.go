package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizpilot/insight-gateway/internal/types"
)

// PGStore persists summaries in the metrics_cache table as one JSONB
// payload per (tenant, year, month).
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, tenantID string, year, month int) (*types.MetricsSummary, error) {
	var payload []byte
	var computedAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT payload, computed_at
		FROM metrics_cache
		WHERE tenant_id = $1 AND year = $2 AND month = $3
	`, tenantID, year, month).Scan(&payload, &computedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query metrics_cache: %w", err)
	}

	var summary types.MetricsSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal cached summary: %w", err)
	}
	summary.ComputedAt = computedAt
	return &summary, nil
}

func (s *PGStore) Upsert(ctx context.Context, summary *types.MetricsSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics_cache (tenant_id, year, month, computed_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, year, month)
		DO UPDATE SET computed_at = EXCLUDED.computed_at, payload = EXCLUDED.payload
	`, summary.TenantID, summary.Year, summary.Month, summary.ComputedAt, payload)
	if err != nil {
		return fmt.Errorf("upsert metrics_cache: %w", err)
	}
	return nil
}

// PGSource computes the raw aggregates from the analytics tables.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

func (s *PGSource) PerformanceTotals(ctx context.Context, tenantID string, year, month int) (PerformanceTotals, error) {
	var t PerformanceTotals
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(income), 0),
		       COALESCE(SUM(labor_cost), 0),
		       COALESCE(SUM(labor_hours), 0),
		       COALESCE(SUM(discounts), 0),
		       COALESCE(SUM(day_factor), 0),
		       COUNT(*)
		FROM daily_performance
		WHERE tenant_id = $1
		  AND day >= make_date($2, $3, 1)
		  AND day < make_date($2, $3, 1) + INTERVAL '1 month'
	`, tenantID, year, month).Scan(
		&t.Income, &t.LaborCost, &t.LaborHours, &t.Discounts, &t.DayFactorSum, &t.DayCount,
	)
	if err != nil {
		return t, fmt.Errorf("query daily_performance totals: %w", err)
	}
	return t, nil
}

func (s *PGSource) CategoryTotals(ctx context.Context, tenantID string, year, month int) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, COALESCE(SUM(subtotal), 0)
		FROM invoices
		WHERE tenant_id = $1
		  AND issued_on >= make_date($2, $3, 1)
		  AND issued_on < make_date($2, $3, 1) + INTERVAL '1 month'
		GROUP BY category
	`, tenantID, year, month)
	if err != nil {
		return nil, fmt.Errorf("query invoice totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var cat string
		var sum float64
		if err := rows.Scan(&cat, &sum); err != nil {
			return nil, fmt.Errorf("scan invoice total: %w", err)
		}
		totals[cat] = sum
	}
	return totals, rows.Err()
}

func (s *PGSource) Settings(ctx context.Context, tenantID string, year, month int) (Settings, error) {
	set := Settings{CostMarkup: 1}

	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(tax_rate, 0), COALESCE(cost_markup, 1), COALESCE(manager_cost, 0),
		       revenue_target, labor_pct_target
		FROM tenant_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&set.TaxRate, &set.CostMarkup, &set.ManagerCost, &set.RevenueTarget, &set.LaborPctTarget)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return set, fmt.Errorf("query tenant_settings: %w", err)
	}

	// Period-specific overrides win over the tenant defaults.
	var taxRate, costMarkup, revenueTarget, laborPctTarget *float64
	err = s.pool.QueryRow(ctx, `
		SELECT tax_rate, cost_markup, revenue_target, labor_pct_target
		FROM monthly_overrides
		WHERE tenant_id = $1 AND year = $2 AND month = $3
	`, tenantID, year, month).Scan(&taxRate, &costMarkup, &revenueTarget, &laborPctTarget)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return set, fmt.Errorf("query monthly_overrides: %w", err)
	}
	if taxRate != nil {
		set.TaxRate = *taxRate
	}
	if costMarkup != nil {
		set.CostMarkup = *costMarkup
	}
	if revenueTarget != nil {
		set.RevenueTarget = revenueTarget
	}
	if laborPctTarget != nil {
		set.LaborPctTarget = laborPctTarget
	}

	rows, err := s.pool.Query(ctx, `
		SELECT category, pct_target FROM category_targets WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return set, fmt.Errorf("query category_targets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var target float64
		if err := rows.Scan(&cat, &target); err != nil {
			return set, fmt.Errorf("scan category target: %w", err)
		}
		if set.CategoryTargets == nil {
			set.CategoryTargets = make(map[string]float64)
		}
		set.CategoryTargets[cat] = target
	}
	return set, rows.Err()
}

func (s *PGSource) WeekdayFactors(ctx context.Context, tenantID string) (map[time.Weekday]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT weekday, factor FROM weekday_weights WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query weekday_weights: %w", err)
	}
	defer rows.Close()

	factors := make(map[time.Weekday]float64)
	for rows.Next() {
		var wd int
		var f float64
		if err := rows.Scan(&wd, &f); err != nil {
			return nil, fmt.Errorf("scan weekday weight: %w", err)
		}
		factors[time.Weekday(wd)] = f
	}
	return factors, rows.Err()
}
