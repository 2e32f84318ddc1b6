package http

import "net/http"

// Handlers groups the endpoint handlers for registration. Nil handlers
// are skipped.
type Handlers struct {
	Track     *TrackHandler
	Guide     *GuideHandler
	Lifecycle *LifecycleHandler
	Counters  *CountersHandler
	Stats     *StatsHandler
}

// NewMux registers the /v1 endpoints behind the default middleware
// chain.
func NewMux(h Handlers) http.Handler {
	mux := http.NewServeMux()

	if h.Track != nil {
		mux.Handle("/v1/track", h.Track)
	}
	if h.Guide != nil {
		mux.HandleFunc("/v1/guide/result", h.Guide.Result)
		mux.HandleFunc("/v1/guide/os", h.Guide.SwitchOS)
		mux.HandleFunc("/v1/guide/feedback", h.Guide.Feedback)
		mux.HandleFunc("/v1/guide/progress", h.Guide.Progress)
	}
	if h.Lifecycle != nil {
		mux.Handle("/v1/lifecycle", h.Lifecycle)
	}
	if h.Counters != nil {
		mux.Handle("/v1/counters", h.Counters)
	}
	if h.Stats != nil {
		mux.Handle("/v1/stats", h.Stats)
	}

	return DefaultMiddleware()(mux)
}
