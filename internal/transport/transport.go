// Package transport implements the delivery paths for enriched analytics
// events: a primary REST insert API, a legacy fire-and-forget collector,
// and a beacon sender for page-exit traffic.
package transport

import (
	"context"
	"net/http"

	"github.com/waypost/waypost/pkg/types"
)

// Doer abstracts the HTTP client so tests can substitute a fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BatchSender delivers a batch of enriched events to a backend.
type BatchSender interface {
	SendBatch(ctx context.Context, events []types.EnrichedEvent) error
}

// BeaconSender fires a non-awaited payload for page-exit paths. The
// return value reports whether the payload was accepted for delivery,
// not whether it arrived.
type BeaconSender interface {
	SendBeacon(url string, payload []byte) bool
}

// StatsRecorder receives per-attempt delivery outcomes.
type StatsRecorder interface {
	RecordAttempt(transport string, success bool, latencyMs int64)
}

// nopRecorder is used when no stats sink is wired.
type nopRecorder struct{}

func (nopRecorder) RecordAttempt(string, bool, int64) {}
