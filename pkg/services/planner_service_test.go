package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "hermes-chat-api/configs"
)

func testPlanner() *PlannerService {
	// クライアントなし = デフォルト + ルール味付けのみ
	return NewPlannerService(nil, config.DefaultPrompts())
}

func TestRoutePlanDefaults(t *testing.T) {
	plan := testPlanner().RoutePlan(context.Background(), "show route performance")

	assert.Equal(t, "avg_delay_minutes", plan.SortField)
	assert.Equal(t, "desc", plan.SortOrder)
	assert.NotEmpty(t, plan.SummaryTemplate)
}

func TestRoutePlanSeasoning(t *testing.T) {
	planner := testPlanner()

	plan := planner.RoutePlan(context.Background(), "which are the best routes")
	assert.Equal(t, "asc", plan.SortOrder)
	assert.Equal(t, "lowest average delay", plan.FocusPhrase)

	plan = planner.RoutePlan(context.Background(), "worst routes by delay")
	assert.Equal(t, "desc", plan.SortOrder)

	plan = planner.RoutePlan(context.Background(), "fastest routes by delivery time")
	assert.Equal(t, "avg_delivery_time", plan.SortField)
	assert.Equal(t, "asc", plan.SortOrder)
	assert.Equal(t, "fastest average delivery", plan.FocusPhrase)
}

func TestWarehousePlanSeasoning(t *testing.T) {
	planner := testPlanner()

	plan := planner.WarehousePlan(context.Background(), "worst warehouses by delay")
	assert.Equal(t, "avg_delay_minutes", plan.MetricField)
	assert.Equal(t, "desc", plan.SortOrder)
	assert.Equal(t, "highest average delay", plan.FocusPhrase)

	plan = planner.WarehousePlan(context.Background(), "warehouses with delivery above 2 days")
	require.NotNil(t, plan.DeliveryTimeThreshold)
	assert.InDelta(t, 2.0, *plan.DeliveryTimeThreshold, 1e-9)

	plan = planner.WarehousePlan(context.Background(), "warehouse overview")
	assert.Nil(t, plan.DeliveryTimeThreshold)
	assert.Equal(t, "avg_delivery_time", plan.MetricField)
}

func TestDelayPlanDefaults(t *testing.T) {
	plan := testPlanner().DelayPlan(context.Background(), "delay statistics")

	require.Len(t, plan.Metrics, 3)
	assert.Equal(t, "total_delay_minutes", plan.Metrics[0].Name)
	assert.NoError(t, ValidateMetricInstructions(plan.Metrics))
}

func TestPlanDecodingRejectsBadShapes(t *testing.T) {
	_, err := decodeRoutePlan(`{"sort_field": "drop_table", "sort_order": "desc"}`)
	assert.Error(t, err)

	_, err = decodeRoutePlan(`{"sort_field": "avg_delay_minutes", "sort_order": "sideways"}`)
	assert.Error(t, err)

	_, err = decodeRoutePlan(`not json at all`)
	assert.Error(t, err)

	_, err = decodeWarehousePlan(`{"metric_field": "avg_delivery_time", "sort_order": "desc", "delivery_time_threshold": -1}`)
	assert.Error(t, err)

	_, err = decodeDelayPlan(`{"metrics": [{"name": "x", "field": "delay_minutes", "op": "exec"}]}`)
	assert.Error(t, err)

	plan, err := decodeRoutePlan(`{"sort_field": "total_shipments", "sort_order": "asc"}`)
	require.NoError(t, err)
	assert.Equal(t, "total_shipments", plan.SortField)
	// 欠けた項目はデフォルトで補完される
	assert.NotEmpty(t, plan.SummaryTemplate)
}
