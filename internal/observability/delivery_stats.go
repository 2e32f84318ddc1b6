// Package observability tracks delivery statistics per transport for
// health monitoring and the stats endpoint.
package observability

import (
	"sync"
	"time"
)

// sample is one recorded delivery attempt.
type sample struct {
	at        time.Time
	latencyMs int64
	success   bool
}

// TransportStats is a point-in-time summary for one transport.
type TransportStats struct {
	Transport    string    `json:"transport"`
	Attempts     int64     `json:"attempts"`
	Successes    int64     `json:"successes"`
	Failures     int64     `json:"failures"`
	SuccessRate  float64   `json:"success_rate"`
	MinLatencyMs int64     `json:"min_latency_ms"`
	AvgLatencyMs int64     `json:"avg_latency_ms"`
	MaxLatencyMs int64     `json:"max_latency_ms"`
	LastAttempt  time.Time `json:"last_attempt"`
}

// DeliveryStats tracks attempt outcomes and latency per transport.
// Totals are lifetime; latency summaries cover the recent window.
type DeliveryStats struct {
	mu         sync.RWMutex
	transports map[string]*transportRecord
	window     time.Duration
}

type transportRecord struct {
	attempts  int64
	successes int64
	failures  int64
	lastSeen  time.Time
	samples   []sample
}

// NewDeliveryStats creates a delivery statistics tracker.
// window: how long latency samples are retained (e.g., 1 hour).
func NewDeliveryStats(window time.Duration) *DeliveryStats {
	return &DeliveryStats{
		transports: make(map[string]*transportRecord),
		window:     window,
	}
}

// RecordAttempt records one delivery attempt for a transport.
// This method is O(1) and thread-safe.
func (d *DeliveryStats) RecordAttempt(transport string, success bool, latencyMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, exists := d.transports[transport]
	if !exists {
		rec = &transportRecord{}
		d.transports[transport] = rec
	}

	rec.attempts++
	if success {
		rec.successes++
	} else {
		rec.failures++
	}
	rec.lastSeen = time.Now()
	rec.samples = append(rec.samples, sample{
		at:        rec.lastSeen,
		latencyMs: latencyMs,
		success:   success,
	})
}

// Snapshot returns a summary per transport. Latency figures cover only
// samples still inside the window.
func (d *DeliveryStats) Snapshot() []TransportStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	threshold := time.Now().Add(-d.window)
	out := make([]TransportStats, 0, len(d.transports))
	for name, rec := range d.transports {
		stats := TransportStats{
			Transport:   name,
			Attempts:    rec.attempts,
			Successes:   rec.successes,
			Failures:    rec.failures,
			LastAttempt: rec.lastSeen,
		}
		if rec.attempts > 0 {
			stats.SuccessRate = float64(rec.successes) / float64(rec.attempts) * 100
		}

		var sum, count int64
		for _, s := range rec.samples {
			if s.at.Before(threshold) {
				continue
			}
			if count == 0 || s.latencyMs < stats.MinLatencyMs {
				stats.MinLatencyMs = s.latencyMs
			}
			if s.latencyMs > stats.MaxLatencyMs {
				stats.MaxLatencyMs = s.latencyMs
			}
			sum += s.latencyMs
			count++
		}
		if count > 0 {
			stats.AvgLatencyMs = sum / count
		}
		out = append(out, stats)
	}
	return out
}

// Transport returns the summary for one transport and whether it has
// recorded any attempts.
func (d *DeliveryStats) Transport(name string) (TransportStats, bool) {
	for _, s := range d.Snapshot() {
		if s.Transport == name {
			return s, true
		}
	}
	return TransportStats{}, false
}

// Prune drops latency samples older than the window. Lifetime totals
// are kept. This should be called periodically (e.g., every 5 minutes).
func (d *DeliveryStats) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := time.Now().Add(-d.window)
	for _, rec := range d.transports {
		kept := rec.samples[:0]
		for _, s := range rec.samples {
			if !s.at.Before(threshold) {
				kept = append(kept, s)
			}
		}
		rec.samples = kept
	}
}
