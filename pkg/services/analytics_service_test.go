package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes-chat-api/pkg/models"
)

func TestRoutePerformanceRanking(t *testing.T) {
	engine := NewAnalyticsService()
	result := engine.RoutePerformance(routeFixture(), DefaultRoutePlan(), nil)

	require.NotNil(t, result.Chart)
	require.NotNil(t, result.Table)
	require.Len(t, result.Chart.Data, 3)

	// avg_delay_minutes降順: A(80) > B(15) > C(0)
	assert.Equal(t, "A", result.Chart.Data[0].Label)
	assert.Equal(t, "B", result.Chart.Data[1].Label)
	assert.Equal(t, "C", result.Chart.Data[2].Label)
	assert.InDelta(t, 80, result.Chart.Data[0].Value, 1e-9)
	assert.Equal(t, "Delayed 2 / Total 2", result.Chart.Data[0].Tooltip)

	top := result.Table.Rows[0]
	assert.Equal(t, "A", top["route"])
	assert.Equal(t, 2, top["total_shipments"])
	assert.Equal(t, 2, top["delayed_shipments"])
	assert.InDelta(t, 160, top["total_delay_minutes"].(float64), 1e-9)
	assert.InDelta(t, 2.1, top["avg_delivery_time"].(float64), 1e-9)

	assert.Contains(t, result.Summary, "'A'")
	assert.Contains(t, result.Summary, "highest average delay")
}

func TestRoutePerformanceAscending(t *testing.T) {
	plan := DefaultRoutePlan()
	plan.SortOrder = "asc"
	plan.FocusPhrase = "lowest average delay"

	result := NewAnalyticsService().RoutePerformance(routeFixture(), plan, nil)
	assert.Equal(t, "C", result.Chart.Data[0].Label)
	assert.Contains(t, result.Summary, "'C'")
}

func TestRoutePerformanceConservesDelayMinutes(t *testing.T) {
	view := routeFixture()
	result := NewAnalyticsService().RoutePerformance(view, DefaultRoutePlan(), nil)

	var groupTotal float64
	for _, row := range result.Table.Rows {
		groupTotal += row["total_delay_minutes"].(float64)
	}
	var viewTotal float64
	for _, r := range view {
		viewTotal += r.DelayMinutes
	}
	assert.InDelta(t, viewTotal, groupTotal, 1e-9)
}

func TestRoutePerformanceDeterministic(t *testing.T) {
	engine := NewAnalyticsService()
	first := engine.RoutePerformance(routeFixture(), DefaultRoutePlan(), nil)
	second := engine.RoutePerformance(routeFixture(), DefaultRoutePlan(), nil)
	assert.Equal(t, first, second)
}

func TestRoutePerformanceEmptyView(t *testing.T) {
	result := NewAnalyticsService().RoutePerformance(nil, DefaultRoutePlan(), nil)

	require.NotNil(t, result.Table)
	assert.Empty(t, result.Table.Rows)
	assert.Len(t, result.Table.Columns, 6)
	assert.Empty(t, result.Chart.Data)
	assert.Contains(t, result.Summary, "No matching shipments")
}

func TestWarehousePerformance(t *testing.T) {
	result := NewAnalyticsService().WarehousePerformance(routeFixture(), DefaultWarehousePlan(), nil)

	require.Len(t, result.Chart.Data, 2)
	// avg_delivery_time降順: W1(1.9) > W2(1.23)
	assert.Equal(t, "W1", result.Chart.Data[0].Label)
	assert.InDelta(t, 1.9, result.Chart.Data[0].Value, 1e-9)
}

func TestWarehousePerformanceThreshold(t *testing.T) {
	plan := DefaultWarehousePlan()
	threshold := 1.5
	plan.DeliveryTimeThreshold = &threshold

	result := NewAnalyticsService().WarehousePerformance(routeFixture(), plan, nil)
	require.Len(t, result.Chart.Data, 1)
	assert.Equal(t, "W1", result.Chart.Data[0].Label)

	// 全倉庫が閾値未満なら空の結果になる
	strict := 5.0
	plan.DeliveryTimeThreshold = &strict
	result = NewAnalyticsService().WarehousePerformance(routeFixture(), plan, nil)
	assert.Empty(t, result.Table.Rows)
	assert.Contains(t, result.Summary, "No matching shipments")
}

func TestDelayReasonBreakdown(t *testing.T) {
	result := NewAnalyticsService().DelayReasonBreakdown(reasonFixture(), nil)

	require.NotNil(t, result.Chart)
	assert.Equal(t, "pie", result.Chart.Type)
	require.Len(t, result.Chart.Data, 3)

	// incidents降順: Traffic(4) > Weather(3) > Mechanical(1)
	assert.Equal(t, "Traffic", result.Chart.Data[0].Label)
	assert.Equal(t, "Weather", result.Chart.Data[1].Label)
	assert.Equal(t, "Mechanical", result.Chart.Data[2].Label)

	var incidents float64
	for _, p := range result.Chart.Data {
		// センチネルは絶対に現れない
		assert.NotEqual(t, models.NoDelayReason, p.Label)
		incidents += p.Value
	}
	assert.InDelta(t, 8, incidents, 1e-9)
	assert.Contains(t, result.Summary, "Traffic (4)")
}

func TestDelayReasonBreakdownNoDelays(t *testing.T) {
	records := []models.ShipmentRecord{
		rec("X1", "A", "W1", 2.0, 0, "", 1),
	}
	result := NewAnalyticsService().DelayReasonBreakdown(records, nil)
	assert.Empty(t, result.Table.Rows)
	assert.Contains(t, result.Summary, "No matching shipments")
}

func TestDelayStatistics(t *testing.T) {
	result := NewAnalyticsService().DelayStatistics(trendFixture(), DefaultDelayPlan(), nil)

	require.NotNil(t, result.Chart)
	assert.Equal(t, "line", result.Chart.Type)
	require.Len(t, result.Chart.Data, 5)

	// 日付昇順で平均遅延が並ぶ
	assert.Equal(t, "2025-06-01", result.Chart.Data[0].Label)
	assert.InDelta(t, 10, result.Chart.Data[0].Value, 1e-9)
	assert.Equal(t, "2025-06-05", result.Chart.Data[4].Label)
	assert.InDelta(t, 50, result.Chart.Data[4].Value, 1e-9)

	assert.InDelta(t, 150, result.Metrics["total_delay_minutes"].(float64), 1e-9)
	assert.InDelta(t, 30, result.Metrics["average_delay_minutes"].(float64), 1e-9)
	assert.Contains(t, result.Summary, "150 delay minutes")
}

func TestDelayStatisticsBadPlanFallsBack(t *testing.T) {
	plan := models.DelayPlan{
		Metrics:         []models.MetricInstruction{{Name: "x", Field: "nope", Op: "sum"}},
		SummaryTemplate: "{x}",
	}
	result := NewAnalyticsService().DelayStatistics(trendFixture(), plan, nil)

	// 不正なプランは丸ごと破棄してデフォルトに切り替わる
	assert.InDelta(t, 150, result.Metrics["total_delay_minutes"].(float64), 1e-9)
	assert.NotContains(t, result.Summary, "{x}")
}

func TestOverview(t *testing.T) {
	result := NewAnalyticsService().Overview(routeFixture(), nil)

	assert.Nil(t, result.Table)
	require.NotNil(t, result.Chart)
	assert.Equal(t, "line", result.Chart.Type)
	assert.Equal(t, 6, result.Metrics["total_shipments"])
	assert.Equal(t, 3, result.Metrics["delayed_shipments"])
	assert.Contains(t, result.Summary, "6 shipments")
}

func TestFormatSummaryTemplate(t *testing.T) {
	context := map[string]string{"period": "June", "metric_value": "80"}

	out := formatSummaryTemplate("Top at {metric_value} over {period}.", context, "fallback")
	assert.Equal(t, "Top at 80 over June.", out)

	// 未知のプレースホルダは n/a になる(エラーにしない)
	out = formatSummaryTemplate("Value {missing} over {period}.", context, "fallback")
	assert.Equal(t, "Value n/a over June.", out)

	assert.Equal(t, "fallback", formatSummaryTemplate("", context, "fallback"))
}

func TestDescribePeriod(t *testing.T) {
	assert.Equal(t, "the selected period", describePeriod(nil))

	tf := &models.Timeframe{Start: day(1), End: day(15)}
	assert.Equal(t, "Jun 01, 2025 to Jun 15, 2025", describePeriod(tf))
}

func TestFormatMetricValue(t *testing.T) {
	assert.Equal(t, "80", formatMetricValue(80.0))
	assert.Equal(t, "31.67", formatMetricValue(190.0/6))
	assert.Equal(t, "0", formatMetricValue(0))
}
