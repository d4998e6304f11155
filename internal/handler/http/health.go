package http

import (
	"WordsToLink-Backend/internal/analytics"
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider exposes the click processor counters.
type StatsProvider interface {
	GetStats() analytics.Stats
}

// HealthHandler serves health, readiness and metrics probes.
type HealthHandler struct {
	storage   Pinger
	processor StatsProvider
	log       *zap.Logger
	version   string
	startTime time.Time
}

func NewHealthHandler(storage Pinger, processor StatsProvider, log *zap.Logger, version string) *HealthHandler {
	return &HealthHandler{
		storage:   storage,
		processor: processor,
		log:       log.With(zap.String("component", "health_handler")),
		version:   version,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
	DatabaseStatus string    `json:"database_status"`
	Uptime         string    `json:"uptime,omitempty"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	UptimeSeconds float64         `json:"uptime_seconds"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	Processor     analytics.Stats `json:"processor"`
}

// Health pings storage.
//
//	@Summary	Health check
//	@Tags		Operations
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.storage.Ping(ctx); err != nil {
		dbStatus = "unhealthy"
		h.log.Error("storage health check failed", zap.Error(err))
	}

	status := "healthy"
	statusCode := http.StatusOK
	if dbStatus == "unhealthy" {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.log, statusCode, HealthResponse{
		Status:         status,
		Timestamp:      time.Now().UTC(),
		Version:        h.version,
		DatabaseStatus: dbStatus,
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Ready reports whether the click processor accepts work.
//
//	@Summary	Readiness probe
//	@Tags		Operations
//	@Produce	json
//	@Success	200	{object}	map[string]any
//	@Failure	503	{object}	map[string]any
//	@Router		/ready [get]
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	stats := h.processor.GetStats()

	status, code := "ready", http.StatusOK
	if !stats.Started {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	writeJSON(w, h.log, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// Metrics returns processor counters and uptime.
//
//	@Summary	Metrics
//	@Tags		Operations
//	@Produce	json
//	@Success	200	{object}	MetricsResponse
//	@Router		/metrics [get]
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, MetricsResponse{
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		Processor:     h.processor.GetStats(),
	})
}
