package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/waypost/waypost/internal/analytics"
	wperrors "github.com/waypost/waypost/internal/errors"
)

// EventTracker routes events into the analytics facade.
type EventTracker interface {
	TrackEvent(ctx context.Context, name string, params map[string]interface{}, env analytics.Environment) error
}

// TrackedEvent is one event in a track request.
type TrackedEvent struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// TrackRequest carries one event or a batch plus the page environment.
type TrackRequest struct {
	TrackedEvent
	Events      []TrackedEvent        `json:"events,omitempty"`
	Environment analytics.Environment `json:"environment"`
}

// TrackResponse reports how many events were accepted.
type TrackResponse struct {
	Accepted  int    `json:"accepted"`
	RequestID string `json:"request_id"`
}

// TrackHandler handles POST /v1/track requests.
type TrackHandler struct {
	tracker EventTracker
}

// NewTrackHandler creates a track handler over the analytics facade.
func NewTrackHandler(tracker EventTracker) *TrackHandler {
	return &TrackHandler{tracker: tracker}
}

// ServeHTTP handles the track HTTP request.
func (h *TrackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	events := req.Events
	if len(events) == 0 && req.Name != "" {
		events = []TrackedEvent{req.TrackedEvent}
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "no events in request", requestID)
		return
	}

	for _, ev := range events {
		if err := h.tracker.TrackEvent(r.Context(), ev.Name, ev.Params, req.Environment); err != nil {
			if isValidation(err) {
				writeError(w, http.StatusBadRequest, err.Error(), requestID)
			} else {
				writeError(w, http.StatusInternalServerError, err.Error(), requestID)
			}
			return
		}
	}

	writeJSON(w, http.StatusAccepted, TrackResponse{
		Accepted:  len(events),
		RequestID: requestID,
	})
}

// isValidation reports whether the error is caller-correctable.
func isValidation(err error) bool {
	var werr *wperrors.WaypostError
	if !errors.As(err, &werr) {
		return false
	}
	return werr.Category == wperrors.ErrCategoryValidation || werr.Category == wperrors.ErrCategoryGuide
}
