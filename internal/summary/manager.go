package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bizpilot/insight-gateway/internal/telemetry"
	"github.com/bizpilot/insight-gateway/internal/types"
)

// Store persists computed summaries keyed by (tenant, year, month).
// Rows are upserted on recompute and never deleted by this pipeline.
type Store interface {
	// Get returns the cached summary, or nil when no entry exists.
	Get(ctx context.Context, tenantID string, year, month int) (*types.MetricsSummary, error)
	Upsert(ctx context.Context, s *types.MetricsSummary) error
}

// Source provides the raw aggregates a summary is computed from.
type Source interface {
	PerformanceTotals(ctx context.Context, tenantID string, year, month int) (PerformanceTotals, error)
	CategoryTotals(ctx context.Context, tenantID string, year, month int) (map[string]float64, error)
	Settings(ctx context.Context, tenantID string, year, month int) (Settings, error)
	WeekdayFactors(ctx context.Context, tenantID string) (map[time.Weekday]float64, error)
}

// PerformanceTotals are the period sums over daily performance rows.
type PerformanceTotals struct {
	Income       float64
	LaborCost    float64
	LaborHours   float64
	Discounts    float64
	DayFactorSum float64
	DayCount     int
}

// Settings are the tax, markup and target configuration applicable to a
// period: the period-specific override where present, the tenant default
// otherwise.
type Settings struct {
	TaxRate         float64
	CostMarkup      float64
	ManagerCost     float64
	RevenueTarget   *float64
	LaborPctTarget  *float64
	CategoryTargets map[string]float64
}

// Manager serves monthly summaries with staleness rules: a closed period
// is immutable and never recomputed; the current period is recomputed
// once the cached copy exceeds the staleness window.
type Manager struct {
	store       Store
	source      Source
	staleWindow time.Duration
	metrics     *telemetry.Metrics
	now         func() time.Time
}

func NewManager(store Store, source Source, staleWindow time.Duration, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		store:       store,
		source:      source,
		staleWindow: staleWindow,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (m *Manager) GetMonthlySummary(ctx context.Context, tenantID string, year, month int) (*types.MetricsSummary, error) {
	now := m.now()
	isCurrentPeriod := year == now.Year() && time.Month(month) == now.Month()

	cached, err := m.store.Get(ctx, tenantID, year, month)
	if err != nil {
		slog.Warn("summary cache lookup failed", "error", err, "tenant_id", tenantID)
	}
	if cached != nil {
		if !isCurrentPeriod || now.Sub(cached.ComputedAt) < m.staleWindow {
			m.record("hit")
			return cached, nil
		}
		m.record("stale")
	} else {
		m.record("miss")
	}

	fresh, err := m.compute(ctx, tenantID, year, month, now)
	if err != nil {
		return nil, fmt.Errorf("compute monthly summary: %w", err)
	}

	// Persist the recomputed entry without blocking the in-flight
	// response; a failure only means the next request recomputes again.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.store.Upsert(bgCtx, fresh); err != nil {
			slog.Error("summary cache upsert failed", "error", err, "tenant_id", tenantID)
		}
	}()

	return fresh, nil
}

func (m *Manager) record(result string) {
	if m.metrics != nil {
		m.metrics.RecordSummaryLookup(result)
	}
}

func (m *Manager) compute(ctx context.Context, tenantID string, year, month int, now time.Time) (*types.MetricsSummary, error) {
	perf, err := m.source.PerformanceTotals(ctx, tenantID, year, month)
	if err != nil {
		return nil, err
	}
	cats, err := m.source.CategoryTotals(ctx, tenantID, year, month)
	if err != nil {
		return nil, err
	}
	settings, err := m.source.Settings(ctx, tenantID, year, month)
	if err != nil {
		return nil, err
	}
	factors, err := m.source.WeekdayFactors(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	expectedDays := expectedWorkingDays(year, month, factors)

	s := &types.MetricsSummary{
		TenantID:            tenantID,
		Year:                year,
		Month:               month,
		ComputedAt:          now,
		GrossIncome:         perf.Income,
		Discounts:           perf.Discounts,
		LaborHours:          perf.LaborHours,
		DayCount:            perf.DayCount,
		WorkedDayFactor:     perf.DayFactorSum,
		ExpectedWorkingDays: expectedDays,
	}

	s.IncomeBeforeTax = perf.Income / (1 + settings.TaxRate)

	if perf.DayFactorSum > 0 {
		s.DailyAverage = s.IncomeBeforeTax / perf.DayFactorSum
	}
	s.MonthlyPace = s.DailyAverage * expectedDays

	managerPerDay := 0.0
	if expectedDays > 0 {
		managerPerDay = settings.ManagerCost / expectedDays
	}
	s.LaborCost = (perf.LaborCost + managerPerDay*perf.DayFactorSum) * settings.CostMarkup
	s.LaborCostPct = pctOf(s.LaborCost, s.IncomeBeforeTax)

	s.CategoryCosts = make(map[string]float64, len(cats))
	s.CategoryCostPcts = make(map[string]float64, len(cats))
	for cat, sum := range cats {
		total := sum * settings.CostMarkup
		s.CategoryCosts[cat] = total
		s.CategoryCostPcts[cat] = pctOf(total, s.IncomeBeforeTax)
	}

	// Variances: revenue is percentage-of-target; cost variances are
	// percentage-point differences. No target means no variance, not zero.
	if settings.RevenueTarget != nil && *settings.RevenueTarget != 0 {
		v := (s.MonthlyPace - *settings.RevenueTarget) / *settings.RevenueTarget * 100
		s.RevenueVariancePct = &v
	}
	if settings.LaborPctTarget != nil {
		v := s.LaborCostPct - *settings.LaborPctTarget
		s.LaborVariancePts = &v
	}
	if len(settings.CategoryTargets) > 0 {
		s.CategoryVariancePts = make(map[string]float64, len(settings.CategoryTargets))
		for cat, target := range settings.CategoryTargets {
			s.CategoryVariancePts[cat] = s.CategoryCostPcts[cat] - target
		}
	}

	return s, nil
}

func pctOf(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part / whole * 100
}

// expectedWorkingDays sums the per-weekday factor across every calendar
// day of the period. A weekday with no configured factor counts as a
// full day.
func expectedWorkingDays(year, month int, factors map[time.Weekday]float64) float64 {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	total := 0.0
	for d := first; d.Month() == time.Month(month); d = d.AddDate(0, 0, 1) {
		f, ok := factors[d.Weekday()]
		if !ok {
			f = 1
		}
		total += f
	}
	return total
}
