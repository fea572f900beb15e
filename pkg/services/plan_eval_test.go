package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes-chat-api/pkg/models"
)

func TestEvaluateDefaultDelayPlan(t *testing.T) {
	metrics, err := EvaluateDelayPlan(DefaultDelayPlan().Metrics, routeFixture())

	require.NoError(t, err)
	assert.InDelta(t, 190, metrics["total_delay_minutes"], 1e-9)
	assert.InDelta(t, 190.0/6, metrics["average_delay_minutes"], 1e-9)
	assert.InDelta(t, 6, metrics["shipment_count"], 1e-9)
}

func TestEvaluateNumericFilter(t *testing.T) {
	instrs := []models.MetricInstruction{
		{Name: "big_delays", Field: "delay_minutes", Op: "sum",
			Filter: &models.MetricFilter{Field: "delay_minutes", Cmp: "gt", Value: 50.0}},
	}
	metrics, err := EvaluateDelayPlan(instrs, routeFixture())

	require.NoError(t, err)
	assert.InDelta(t, 160, metrics["big_delays"], 1e-9)
}

func TestEvaluateStringFilterCount(t *testing.T) {
	instrs := []models.MetricInstruction{
		{Name: "route_a", Field: "id", Op: "count",
			Filter: &models.MetricFilter{Field: "route", Cmp: "eq", Value: "A"}},
		{Name: "not_weather", Field: "id", Op: "count",
			Filter: &models.MetricFilter{Field: "delay_reason", Cmp: "ne", Value: "Weather"}},
	}
	metrics, err := EvaluateDelayPlan(instrs, routeFixture())

	require.NoError(t, err)
	assert.InDelta(t, 2, metrics["route_a"], 1e-9)
	assert.InDelta(t, 5, metrics["not_weather"], 1e-9)
}

func TestEvaluateMinMaxOnEmptySelection(t *testing.T) {
	instrs := []models.MetricInstruction{
		{Name: "none", Field: "delay_minutes", Op: "max",
			Filter: &models.MetricFilter{Field: "delay_minutes", Cmp: "gt", Value: 1000.0}},
	}
	metrics, err := EvaluateDelayPlan(instrs, routeFixture())

	require.NoError(t, err)
	assert.InDelta(t, 0, metrics["none"], 1e-9)
}

func TestEvaluateRejectsUnknownField(t *testing.T) {
	instrs := []models.MetricInstruction{{Name: "x", Field: "secret_column", Op: "sum"}}
	_, err := EvaluateDelayPlan(instrs, routeFixture())
	assert.Error(t, err)
}

func TestEvaluateRejectsUnknownOp(t *testing.T) {
	instrs := []models.MetricInstruction{{Name: "x", Field: "delay_minutes", Op: "exec"}}
	_, err := EvaluateDelayPlan(instrs, routeFixture())
	assert.Error(t, err)
}

func TestEvaluateRejectsStringAggregation(t *testing.T) {
	instrs := []models.MetricInstruction{{Name: "x", Field: "route", Op: "sum"}}
	_, err := EvaluateDelayPlan(instrs, routeFixture())
	assert.Error(t, err)
}

func TestEvaluateRejectsOrderingOnStrings(t *testing.T) {
	instrs := []models.MetricInstruction{
		{Name: "x", Field: "id", Op: "count",
			Filter: &models.MetricFilter{Field: "route", Cmp: "gt", Value: "A"}},
	}
	_, err := EvaluateDelayPlan(instrs, routeFixture())
	assert.Error(t, err)
}

func TestEvaluateRejectsTooManyInstructions(t *testing.T) {
	var instrs []models.MetricInstruction
	for i := 0; i <= maxMetricInstructions; i++ {
		instrs = append(instrs, models.MetricInstruction{Name: "m", Field: "delay_minutes", Op: "sum"})
	}
	_, err := EvaluateDelayPlan(instrs, routeFixture())
	assert.Error(t, err)
}

func TestEvaluateRejectsEmptyPlan(t *testing.T) {
	_, err := EvaluateDelayPlan(nil, routeFixture())
	assert.Error(t, err)
}
