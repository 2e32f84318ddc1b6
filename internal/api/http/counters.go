package http

import (
	"context"
	"net/http"

	"github.com/waypost/waypost/internal/counters"
)

// CounterReader serves the live landing-page figures.
type CounterReader interface {
	Value(ctx context.Context, name string) int64
	Summary(ctx context.Context) counters.Summary
}

// CountersResponse is the landing-page counter snapshot.
type CountersResponse struct {
	Users        int64            `json:"users"`
	Starts       int64            `json:"starts"`
	Completions  int64            `json:"completions"`
	Satisfaction counters.Summary `json:"satisfaction"`
	RequestID    string           `json:"request_id"`
}

// CountersHandler handles GET /v1/counters requests.
type CountersHandler struct {
	reader CounterReader
}

// NewCountersHandler creates a counters handler.
func NewCountersHandler(reader CounterReader) *CountersHandler {
	return &CountersHandler{reader: reader}
}

// ServeHTTP handles the counters HTTP request.
func (h *CountersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	ctx := r.Context()
	resp := CountersResponse{
		Users:        h.reader.Value(ctx, counters.CounterUsers),
		Starts:       h.reader.Value(ctx, counters.CounterStarts),
		Completions:  h.reader.Value(ctx, counters.CounterCompletions),
		Satisfaction: h.reader.Summary(ctx),
		RequestID:    requestID,
	}

	writeJSON(w, http.StatusOK, resp)
}
