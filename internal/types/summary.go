package types

import "time"

// MetricsSummary holds the precomputed monthly aggregates for one tenant
// and period. Cached rows for closed periods are immutable.
type MetricsSummary struct {
	TenantID   string    `json:"tenant_id"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	ComputedAt time.Time `json:"computed_at"`

	GrossIncome     float64 `json:"gross_income"`
	IncomeBeforeTax float64 `json:"income_before_tax"`
	Discounts       float64 `json:"discounts"`
	LaborHours      float64 `json:"labor_hours"`

	// Day accounting. WorkedDayFactor is the sum of the per-day weighting
	// factors over days that actually have performance rows;
	// ExpectedWorkingDays is the weekday-weighted day count for the whole
	// calendar month.
	DayCount            int     `json:"day_count"`
	WorkedDayFactor     float64 `json:"worked_day_factor"`
	ExpectedWorkingDays float64 `json:"expected_working_days"`

	DailyAverage float64 `json:"daily_average"`
	MonthlyPace  float64 `json:"monthly_pace"`

	LaborCost    float64 `json:"labor_cost"`
	LaborCostPct float64 `json:"labor_cost_pct"`

	// Costs by expense category, as a percentage of income before tax.
	CategoryCosts    map[string]float64 `json:"category_costs"`
	CategoryCostPcts map[string]float64 `json:"category_cost_pcts"`

	// Variances versus configured targets. Nil means no target is
	// configured for that metric, not zero variance.
	RevenueVariancePct  *float64           `json:"revenue_variance_pct,omitempty"`
	LaborVariancePts    *float64           `json:"labor_variance_pts,omitempty"`
	CategoryVariancePts map[string]float64 `json:"category_variance_pts,omitempty"`
}

// Period returns the (year, month) key of the summary.
func (s *MetricsSummary) Period() (int, int) { return s.Year, s.Month }

// IsCurrentPeriod reports whether the summary covers the month containing now.
func (s *MetricsSummary) IsCurrentPeriod(now time.Time) bool {
	return s.Year == now.Year() && time.Month(s.Month) == now.Month()
}
