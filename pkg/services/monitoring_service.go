package services

import (
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// maxRequestLogs bounds the in-memory request log.
const maxRequestLogs = 1000

// RequestLog is one recorded API call.
type RequestLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	DurationMS float64   `json:"duration_ms"`
	ClientIP   string    `json:"client_ip"`
}

// EndpointStats aggregates the calls to one endpoint.
type EndpointStats struct {
	Path          string  `json:"path"`
	Count         int     `json:"count"`
	ErrorCount    int     `json:"error_count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// MonitoringService records API traffic in memory for the dashboard
// endpoint. ログはリングバッファ的に直近分のみ保持します。
type MonitoringService struct {
	mu   sync.RWMutex
	logs []RequestLog
}

// NewMonitoringService creates an empty monitor.
func NewMonitoringService() *MonitoringService {
	return &MonitoringService{}
}

// Middleware returns a gin middleware recording every request.
func (m *MonitoringService) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		m.mu.Lock()
		m.logs = append(m.logs, RequestLog{
			Timestamp:  start,
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			StatusCode: c.Writer.Status(),
			DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			ClientIP:   c.ClientIP(),
		})
		if len(m.logs) > maxRequestLogs {
			m.logs = m.logs[len(m.logs)-maxRequestLogs:]
		}
		m.mu.Unlock()
	}
}

// Logs returns the requests recorded within the period, newest first.
// Zero period means everything retained.
func (m *MonitoringService) Logs(period time.Duration) []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Time{}
	if period > 0 {
		cutoff = time.Now().Add(-period)
	}
	var out []RequestLog
	for _, l := range m.logs {
		if l.Timestamp.After(cutoff) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Stats aggregates the retained logs per endpoint.
func (m *MonitoringService) Stats() []EndpointStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index := map[string]*EndpointStats{}
	totals := map[string]float64{}
	var order []string
	for _, l := range m.logs {
		s, ok := index[l.Path]
		if !ok {
			s = &EndpointStats{Path: l.Path}
			index[l.Path] = s
			order = append(order, l.Path)
		}
		s.Count++
		if l.StatusCode >= 400 {
			s.ErrorCount++
		}
		totals[l.Path] += l.DurationMS
	}

	out := make([]EndpointStats, 0, len(order))
	for _, path := range order {
		s := index[path]
		if s.Count > 0 {
			s.AvgDurationMS = totals[path] / float64(s.Count)
		}
		out = append(out, *s)
	}
	return out
}
