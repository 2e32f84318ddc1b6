package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/waypost/waypost/internal/analytics"
)

// Lifecycle signals the page can report.
const (
	SignalHidden = "hidden"
	SignalUnload = "unload"
	SignalOnline = "online"
)

// LifecycleTracker is the exit-path surface of the analytics facade.
type LifecycleTracker interface {
	TrackExit(env analytics.Environment, durationSeconds int)
	TrackSessionEnd(env analytics.Environment, durationSeconds int)
}

// Retrier replays previously failed events.
type Retrier interface {
	RetryAll(ctx context.Context)
}

// LifecycleRequest reports a page visibility or connectivity change.
type LifecycleRequest struct {
	Signal          string                `json:"signal"`
	DurationSeconds int                   `json:"duration_seconds"`
	Environment     analytics.Environment `json:"environment"`
}

// LifecycleHandler handles POST /v1/lifecycle requests. hidden and
// unload flush through the beacon path; online kicks off a retry pass
// in the background.
type LifecycleHandler struct {
	tracker LifecycleTracker
	retrier Retrier
}

// NewLifecycleHandler creates a lifecycle handler.
func NewLifecycleHandler(tracker LifecycleTracker, retrier Retrier) *LifecycleHandler {
	return &LifecycleHandler{tracker: tracker, retrier: retrier}
}

// ServeHTTP handles the lifecycle HTTP request.
func (h *LifecycleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	switch req.Signal {
	case SignalHidden:
		h.tracker.TrackExit(req.Environment, req.DurationSeconds)
	case SignalUnload:
		h.tracker.TrackSessionEnd(req.Environment, req.DurationSeconds)
	case SignalOnline:
		if h.retrier != nil {
			go h.retrier.RetryAll(context.Background())
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown signal %q", req.Signal), requestID)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID})
}
