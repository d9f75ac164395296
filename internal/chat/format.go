package chat

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bizpilot/insight-gateway/internal/guard"
	"github.com/bizpilot/insight-gateway/internal/types"
)

// formatSummary renders a monthly summary as the lines streamed to the
// caller, one text frame per line.
func formatSummary(s *types.MetricsSummary) []string {
	period := time.Date(s.Year, time.Month(s.Month), 1, 0, 0, 0, 0, time.UTC)
	lines := []string{
		fmt.Sprintf("Here's how %s is going:\n", period.Format("January 2006")),
		fmt.Sprintf("- Income before tax: %s (gross %s)\n", money(s.IncomeBeforeTax), money(s.GrossIncome)),
		fmt.Sprintf("- Daily average: %s over %.1f worked days\n", money(s.DailyAverage), s.WorkedDayFactor),
		fmt.Sprintf("- Monthly pace: %s across %.1f expected working days\n", money(s.MonthlyPace), s.ExpectedWorkingDays),
		fmt.Sprintf("- Labor cost: %s (%.1f%% of income)\n", money(s.LaborCost), s.LaborCostPct),
	}

	for _, cat := range sortedKeys(s.CategoryCosts) {
		lines = append(lines, fmt.Sprintf("- %s: %s (%.1f%% of income)\n", cat, money(s.CategoryCosts[cat]), s.CategoryCostPcts[cat]))
	}

	if s.RevenueVariancePct != nil {
		lines = append(lines, fmt.Sprintf("- Revenue vs target: %+.1f%%\n", *s.RevenueVariancePct))
	} else {
		lines = append(lines, "- Revenue vs target: no target configured\n")
	}
	if s.LaborVariancePts != nil {
		lines = append(lines, fmt.Sprintf("- Labor vs target: %+.1f points\n", *s.LaborVariancePts))
	}
	for _, cat := range sortedKeys(s.CategoryVariancePts) {
		lines = append(lines, fmt.Sprintf("- %s vs target: %+.1f points\n", cat, s.CategoryVariancePts[cat]))
	}
	return lines
}

// summaryChart builds the single structured visualization for a summary:
// the cost breakdown as a percentage of income.
func summaryChart(s *types.MetricsSummary) json.RawMessage {
	type point struct {
		Label string  `json:"label"`
		Value float64 `json:"value"`
	}
	points := []point{{Label: "labor", Value: round1(s.LaborCostPct)}}
	for _, cat := range sortedKeys(s.CategoryCostPcts) {
		points = append(points, point{Label: cat, Value: round1(s.CategoryCostPcts[cat])})
	}
	payload, err := json.Marshal(map[string]any{
		"type":   "bar",
		"title":  "Costs as % of income",
		"series": points,
	})
	if err != nil {
		return nil
	}
	return payload
}

// renderRows flattens a query outcome into the compact tabular text the
// oracle drafts its answer from. Large result sets are truncated; the row
// cap on execution already bounds the worst case.
func renderRows(out *guard.Outcome, maxRows int) string {
	var b strings.Builder
	b.WriteString(strings.Join(out.Columns, " | "))
	b.WriteString("\n")
	for i, row := range out.Rows {
		if i >= maxRows {
			fmt.Fprintf(&b, "... (%d more rows)\n", len(out.Rows)-maxRows)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
