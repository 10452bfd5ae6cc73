package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      atomic.Uint64
	RequestsInProgress atomic.Int64
	RequestsSuccess    atomic.Uint64
	RequestsFailed     atomic.Uint64
	AnalysesTotal      atomic.Uint64
	AnalysesCached     atomic.Uint64
	AnalysesRunning    atomic.Int64
	AnalysesFailed     atomic.Uint64
	StartTime          time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// AnalysisStarted tandai analisa baru masuk
func (m *Metrics) AnalysisStarted() {
	m.AnalysesTotal.Add(1)
	m.AnalysesRunning.Add(1)
}

// AnalysisFinished tandai analisa selesai (sukses/gagal/cache)
func (m *Metrics) AnalysisFinished(cached bool, err error) {
	m.AnalysesRunning.Add(-1)
	switch {
	case err != nil:
		m.AnalysesFailed.Add(1)
	case cached:
		m.AnalysesCached.Add(1)
	}
}

// Snapshot returns current metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return map[string]interface{}{
		"requests_total":       m.RequestsTotal.Load(),
		"requests_in_progress": m.RequestsInProgress.Load(),
		"requests_success":     m.RequestsSuccess.Load(),
		"requests_failed":      m.RequestsFailed.Load(),
		"analyses_total":       m.AnalysesTotal.Load(),
		"analyses_cached":      m.AnalysesCached.Load(),
		"analyses_running":     m.AnalysesRunning.Load(),
		"analyses_failed":      m.AnalysesFailed.Load(),
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       ms.Alloc,
			"total_alloc_bytes": ms.TotalAlloc,
			"sys_bytes":         ms.Sys,
			"num_gc":            ms.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsTotal.Add(1)
		m.RequestsInProgress.Add(1)
		defer m.RequestsInProgress.Add(-1)

		// Wrap response writer to capture status
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		// Track success/failure based on status code
		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			m.RequestsSuccess.Add(1)
		} else {
			m.RequestsFailed.Add(1)
		}
	})
}

// Handler returns metrics as JSON
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Snapshot())
}
