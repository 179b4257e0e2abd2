package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"divorcecast/internal/memo"
	ws "divorcecast/internal/websocket"
)

// CacheStatsProvider exposes memoization counters.
type CacheStatsProvider interface {
	CacheStats() memo.Stats
}

// HubStatsProvider exposes websocket hub counters.
type HubStatsProvider interface {
	Stats() ws.HubStats
}

// MetricsHandler serves JSON snapshots of in-process counters. The
// Prometheus scrape endpoint is mounted separately at /metrics.
type MetricsHandler struct {
	cache CacheStatsProvider
	hub   HubStatsProvider
}

// NewMetricsHandler creates a new metrics handler. hub may be nil.
func NewMetricsHandler(cache CacheStatsProvider, hub HubStatsProvider) *MetricsHandler {
	return &MetricsHandler{cache: cache, hub: hub}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/cache", h.GetCache)
	r.Get("/websocket", h.GetWebSocket)
	return r
}

// GetCache handles GET /api/metrics/cache
func (h *MetricsHandler) GetCache(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.CacheStats()
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"counters": stats,
			"hit_rate": stats.HitRate(),
		},
	})
}

// GetWebSocket handles GET /api/metrics/websocket
func (h *MetricsHandler) GetWebSocket(w http.ResponseWriter, r *http.Request) {
	var stats ws.HubStats
	if h.hub != nil {
		stats = h.hub.Stats()
	}
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   stats,
	})
}
