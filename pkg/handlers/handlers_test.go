package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "hermes-chat-api/configs"
	"hermes-chat-api/pkg/models"
	"hermes-chat-api/pkg/services"
)

func fixtureRecords() []models.ShipmentRecord {
	d := func(day int) time.Time {
		return time.Date(2025, time.June, day, 0, 0, 0, 0, time.UTC)
	}
	return []models.ShipmentRecord{
		{ID: "SH-1", Route: "A", Warehouse: "W1", DeliveryTime: 2.0, DelayMinutes: 100, DelayReason: "Weather", Date: d(1)},
		{ID: "SH-2", Route: "B", Warehouse: "W1", DeliveryTime: 1.5, DelayMinutes: 30, DelayReason: "Traffic", Date: d(1)},
		{ID: "SH-3", Route: "B", Warehouse: "W2", DeliveryTime: 1.2, DelayMinutes: 0, DelayReason: models.NoDelayReason, Date: d(2)},
	}
}

func testRouter(apiKey string) (*gin.Engine, *services.MonitoringService) {
	gin.SetMode(gin.TestMode)

	dataset := services.NewDatasetServiceFromRecords(fixtureRecords())
	prompts := config.DefaultPrompts()
	pipeline := services.NewPipeline(
		dataset,
		services.NewRuleBasedResolver(),
		services.NewMetadataService(nil, dataset, prompts),
		services.NewPlannerService(nil, prompts),
		services.NewAnalyticsService(),
		services.NewForecastService(),
	)
	history := services.NewHistoryService()
	monitor := services.NewMonitoringService()

	chatHandler := NewChatHandler(pipeline, history)
	dataHandler := NewDataHandler(dataset)
	monitoringHandler := NewMonitoringHandler(monitor)

	r := gin.New()
	r.Use(monitor.Middleware())
	r.GET("/health", HealthCheck)
	api := r.Group("/api/v1")
	api.Use(APIKeyAuth(apiKey))
	{
		api.POST("/chat", chatHandler.HandleChat)
		api.GET("/data", dataHandler.GetData)
		api.GET("/monitoring/logs", monitoringHandler.GetLogs)
	}
	return r, monitor
}

func TestHealthCheck(t *testing.T) {
	r, _ := testRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHandleChat(t *testing.T) {
	r, _ := testRouter("")

	body, _ := json.Marshal(models.ChatRequest{Message: "show delays by route"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var payload models.ResponsePayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "route", payload.Intent)
	assert.NotEmpty(t, payload.SessionID)
	assert.NotEmpty(t, payload.Steps)
	require.NotNil(t, payload.Result)
	assert.NotNil(t, payload.Result.Chart)
}

func TestHandleChatKeepsSessionHistory(t *testing.T) {
	r, _ := testRouter("")

	send := func(message, sessionID string) models.ResponsePayload {
		body, _ := json.Marshal(models.ChatRequest{Message: message, SessionID: sessionID})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var payload models.ResponsePayload
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
		return payload
	}

	first := send("hello", "")
	require.NotEmpty(t, first.SessionID)

	second := send("show delays by route", first.SessionID)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestHandleChatMissingMessage(t *testing.T) {
	r, _ := testRouter("")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetData(t *testing.T) {
	r, _ := testRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/data", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":3`)
	assert.Contains(t, w.Body.String(), "SH-1")
}

func TestAPIKeyAuth(t *testing.T) {
	r, _ := testRouter("secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/data", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/data", nil)
	req.Header.Set("X-API-KEY", "secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// ヘルスチェックは認証の外
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetMonitoringLogs(t *testing.T) {
	r, _ := testRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/logs?period=1h", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/health")
}
