package http

import (
	"net/http"

	"github.com/waypost/waypost/internal/observability"
)

// QueueDepther reports the number of events waiting to flush.
type QueueDepther interface {
	Len() int
}

// RetrySizer reports the number of persisted failed events.
type RetrySizer interface {
	Size() int
}

// CacheStatser reports cache effectiveness.
type CacheStatser interface {
	Stats() (hits, misses, evictions, refreshes int64)
	HitRate() float64
}

// StatsResponse is the operational snapshot served at /v1/stats.
type StatsResponse struct {
	QueueDepth int                            `json:"queue_depth"`
	RetrySize  int                            `json:"retry_size"`
	Cache      CacheStatsBlock                `json:"cache"`
	Delivery   []observability.TransportStats `json:"delivery"`
	RequestID  string                         `json:"request_id"`
}

// CacheStatsBlock summarizes cache counters.
type CacheStatsBlock struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Refreshes int64   `json:"refreshes"`
	HitRate   float64 `json:"hit_rate"`
}

// StatsHandler handles GET /v1/stats requests.
type StatsHandler struct {
	queue    QueueDepther
	retry    RetrySizer
	cache    CacheStatser
	delivery *observability.DeliveryStats
}

// NewStatsHandler creates a stats handler. Any dependency may be nil;
// its block is then zero.
func NewStatsHandler(queue QueueDepther, retry RetrySizer, cache CacheStatser, delivery *observability.DeliveryStats) *StatsHandler {
	return &StatsHandler{queue: queue, retry: retry, cache: cache, delivery: delivery}
}

// ServeHTTP handles the stats HTTP request.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	resp := StatsResponse{RequestID: requestID, Delivery: []observability.TransportStats{}}
	if h.queue != nil {
		resp.QueueDepth = h.queue.Len()
	}
	if h.retry != nil {
		resp.RetrySize = h.retry.Size()
	}
	if h.cache != nil {
		hits, misses, evictions, refreshes := h.cache.Stats()
		resp.Cache = CacheStatsBlock{
			Hits:      hits,
			Misses:    misses,
			Evictions: evictions,
			Refreshes: refreshes,
			HitRate:   h.cache.HitRate(),
		}
	}
	if h.delivery != nil {
		resp.Delivery = h.delivery.Snapshot()
	}

	writeJSON(w, http.StatusOK, resp)
}
