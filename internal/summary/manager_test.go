package summary

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bizpilot/insight-gateway/internal/types"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*types.MetricsSummary
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*types.MetricsSummary)}
}

func storeKey(tenantID string, year, month int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01") + ":" + tenantID
}

func (f *fakeStore) Get(_ context.Context, tenantID string, year, month int) (*types.MetricsSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[storeKey(tenantID, year, month)], nil
}

func (f *fakeStore) Upsert(_ context.Context, s *types.MetricsSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[storeKey(s.TenantID, s.Year, s.Month)] = s
	f.upserts++
	return nil
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type fakeSource struct {
	perf     PerformanceTotals
	cats     map[string]float64
	settings Settings
	factors  map[time.Weekday]float64
	calls    int
}

func (f *fakeSource) PerformanceTotals(_ context.Context, _ string, _, _ int) (PerformanceTotals, error) {
	f.calls++
	return f.perf, nil
}

func (f *fakeSource) CategoryTotals(_ context.Context, _ string, _, _ int) (map[string]float64, error) {
	return f.cats, nil
}

func (f *fakeSource) Settings(_ context.Context, _ string, _, _ int) (Settings, error) {
	return f.settings, nil
}

func (f *fakeSource) WeekdayFactors(_ context.Context, _ string) (map[time.Weekday]float64, error) {
	return f.factors, nil
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-6 }

func TestCompute_IncomeBeforeTax(t *testing.T) {
	src := &fakeSource{
		perf:     PerformanceTotals{Income: 11800, DayFactorSum: 10, DayCount: 10},
		settings: Settings{TaxRate: 0.18, CostMarkup: 1},
	}
	m := NewManager(newFakeStore(), src, 30*time.Minute, nil)

	s, err := m.compute(context.Background(), "t-1", 2025, 6, time.Now())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(s.IncomeBeforeTax, 10000) {
		t.Errorf("income before tax = %v, want 10000", s.IncomeBeforeTax)
	}
	if !approx(s.DailyAverage, 1000) {
		t.Errorf("daily average = %v, want 1000", s.DailyAverage)
	}
	// June 2025 has 30 calendar days, all weighted 1 by default.
	if !approx(s.ExpectedWorkingDays, 30) {
		t.Errorf("expected working days = %v, want 30", s.ExpectedWorkingDays)
	}
	if !approx(s.MonthlyPace, 30000) {
		t.Errorf("monthly pace = %v, want 30000", s.MonthlyPace)
	}
}

func TestCompute_ZeroWorkedDays(t *testing.T) {
	src := &fakeSource{
		perf:     PerformanceTotals{Income: 0, DayFactorSum: 0, DayCount: 0},
		settings: Settings{TaxRate: 0.18, CostMarkup: 1},
	}
	m := NewManager(newFakeStore(), src, 30*time.Minute, nil)

	s, err := m.compute(context.Background(), "t-1", 2025, 6, time.Now())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if s.DailyAverage != 0 {
		t.Errorf("daily average = %v, want 0 for empty period", s.DailyAverage)
	}
	if s.LaborCostPct != 0 {
		t.Errorf("labor pct = %v, want 0 when income is zero", s.LaborCostPct)
	}
}

func TestCompute_LaborCostWithManagerAndMarkup(t *testing.T) {
	target := 30.0
	src := &fakeSource{
		perf: PerformanceTotals{Income: 11800, LaborCost: 2000, DayFactorSum: 10, DayCount: 10},
		settings: Settings{
			TaxRate:        0.18,
			CostMarkup:     1.1,
			ManagerCost:    3000,
			LaborPctTarget: &target,
		},
	}
	m := NewManager(newFakeStore(), src, 30*time.Minute, nil)

	s, err := m.compute(context.Background(), "t-1", 2025, 6, time.Now())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Manager cost is spread over 30 expected days: 100/day, 10 worked
	// day-factors = 1000. (2000 + 1000) * 1.1 = 3300.
	if !approx(s.LaborCost, 3300) {
		t.Errorf("labor cost = %v, want 3300", s.LaborCost)
	}
	if !approx(s.LaborCostPct, 33) {
		t.Errorf("labor pct = %v, want 33", s.LaborCostPct)
	}
	if s.LaborVariancePts == nil || !approx(*s.LaborVariancePts, 3) {
		t.Errorf("labor variance = %v, want 3", s.LaborVariancePts)
	}
}

func TestCompute_CategoryPctsAndVariances(t *testing.T) {
	src := &fakeSource{
		perf: PerformanceTotals{Income: 11800, DayFactorSum: 10, DayCount: 10},
		cats: map[string]float64{"produce": 2500, "packaging": 500},
		settings: Settings{
			TaxRate:         0.18,
			CostMarkup:      1,
			CategoryTargets: map[string]float64{"produce": 20},
		},
	}
	m := NewManager(newFakeStore(), src, 30*time.Minute, nil)

	s, err := m.compute(context.Background(), "t-1", 2025, 6, time.Now())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(s.CategoryCostPcts["produce"], 25) {
		t.Errorf("produce pct = %v, want 25", s.CategoryCostPcts["produce"])
	}
	if !approx(s.CategoryCostPcts["packaging"], 5) {
		t.Errorf("packaging pct = %v, want 5", s.CategoryCostPcts["packaging"])
	}
	if v, ok := s.CategoryVariancePts["produce"]; !ok || !approx(v, 5) {
		t.Errorf("produce variance = %v, want 5", v)
	}
	if _, ok := s.CategoryVariancePts["packaging"]; ok {
		t.Error("packaging has no target and must have no variance entry")
	}
}

func TestCompute_NoTargetsMeansNilVariances(t *testing.T) {
	src := &fakeSource{
		perf:     PerformanceTotals{Income: 11800, DayFactorSum: 10},
		settings: Settings{TaxRate: 0.18, CostMarkup: 1},
	}
	m := NewManager(newFakeStore(), src, 30*time.Minute, nil)

	s, err := m.compute(context.Background(), "t-1", 2025, 6, time.Now())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if s.RevenueVariancePct != nil {
		t.Error("expected nil revenue variance without a target")
	}
	if s.LaborVariancePts != nil {
		t.Error("expected nil labor variance without a target")
	}
	if s.CategoryVariancePts != nil {
		t.Error("expected nil category variances without targets")
	}
}

func TestCompute_RevenueVariance(t *testing.T) {
	target := 25000.0
	src := &fakeSource{
		perf: PerformanceTotals{Income: 11800, DayFactorSum: 10},
		settings: Settings{
			TaxRate:       0.18,
			CostMarkup:    1,
			RevenueTarget: &target,
		},
	}
	m := NewManager(newFakeStore(), src, 30*time.Minute, nil)

	s, err := m.compute(context.Background(), "t-1", 2025, 6, time.Now())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// Pace 30000 against a 25000 target is +20%.
	if s.RevenueVariancePct == nil || !approx(*s.RevenueVariancePct, 20) {
		t.Errorf("revenue variance = %v, want 20", s.RevenueVariancePct)
	}
}

func TestExpectedWorkingDays_WeekdayFactors(t *testing.T) {
	// June 2025: 5 Sundays, 4 Saturdays, 21 weekdays.
	factors := map[time.Weekday]float64{
		time.Sunday:   0,
		time.Saturday: 0.5,
	}
	got := expectedWorkingDays(2025, 6, factors)
	if !approx(got, 21+4*0.5) {
		t.Errorf("expected working days = %v, want 23", got)
	}
}

func TestGetMonthlySummary_ClosedPeriodImmutable(t *testing.T) {
	store := newFakeStore()
	cached := &types.MetricsSummary{
		TenantID: "t-1", Year: 2024, Month: 3,
		ComputedAt:  time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		GrossIncome: 5000,
	}
	store.Upsert(context.Background(), cached)

	src := &fakeSource{settings: Settings{CostMarkup: 1}}
	m := NewManager(store, src, 30*time.Minute, nil)
	m.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

	got, err := m.GetMonthlySummary(context.Background(), "t-1", 2024, 3)
	if err != nil {
		t.Fatalf("GetMonthlySummary: %v", err)
	}
	if got.GrossIncome != 5000 {
		t.Errorf("expected cached closed-period entry, got income %v", got.GrossIncome)
	}
	if src.calls != 0 {
		t.Errorf("closed period must never recompute, source called %d times", src.calls)
	}
}

func TestGetMonthlySummary_CurrentPeriodFreshness(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.Upsert(context.Background(), &types.MetricsSummary{
		TenantID: "t-1", Year: 2025, Month: 6,
		ComputedAt: now.Add(-10 * time.Minute),
	})

	src := &fakeSource{settings: Settings{CostMarkup: 1}}
	m := NewManager(store, src, 30*time.Minute, nil)
	m.now = func() time.Time { return now }

	if _, err := m.GetMonthlySummary(context.Background(), "t-1", 2025, 6); err != nil {
		t.Fatalf("GetMonthlySummary: %v", err)
	}
	if src.calls != 0 {
		t.Errorf("fresh cache entry must not recompute, source called %d times", src.calls)
	}
}

func TestGetMonthlySummary_StaleCurrentPeriodRecomputes(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.Upsert(context.Background(), &types.MetricsSummary{
		TenantID: "t-1", Year: 2025, Month: 6,
		ComputedAt: now.Add(-45 * time.Minute),
	})
	before := store.upsertCount()

	src := &fakeSource{
		perf:     PerformanceTotals{Income: 11800, DayFactorSum: 10},
		settings: Settings{TaxRate: 0.18, CostMarkup: 1},
	}
	m := NewManager(store, src, 30*time.Minute, nil)
	m.now = func() time.Time { return now }

	got, err := m.GetMonthlySummary(context.Background(), "t-1", 2025, 6)
	if err != nil {
		t.Fatalf("GetMonthlySummary: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("stale entry must recompute once, source called %d times", src.calls)
	}
	if !approx(got.IncomeBeforeTax, 10000) {
		t.Errorf("recomputed income before tax = %v, want 10000", got.IncomeBeforeTax)
	}

	// The upsert happens off the request path.
	deadline := time.Now().Add(time.Second)
	for store.upsertCount() == before {
		if time.Now().After(deadline) {
			t.Fatal("expected background upsert of the recomputed summary")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetMonthlySummary_MissComputes(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{
		perf:     PerformanceTotals{Income: 11800, DayFactorSum: 10},
		settings: Settings{TaxRate: 0.18, CostMarkup: 1},
	}
	m := NewManager(store, src, 30*time.Minute, nil)
	m.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }

	got, err := m.GetMonthlySummary(context.Background(), "t-1", 2025, 6)
	if err != nil {
		t.Fatalf("GetMonthlySummary: %v", err)
	}
	if got == nil || !approx(got.IncomeBeforeTax, 10000) {
		t.Fatalf("unexpected summary: %+v", got)
	}
}
