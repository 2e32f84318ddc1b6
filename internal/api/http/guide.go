package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/waypost/waypost/internal/analytics"
	"github.com/waypost/waypost/internal/guide"
	"github.com/waypost/waypost/pkg/types"
)

// GuideResultRequest reports a step outcome.
type GuideResultRequest struct {
	Step        types.StepID          `json:"step"`
	Outcome     types.Outcome         `json:"outcome"`
	Environment analytics.Environment `json:"environment"`
}

// GuideOSRequest switches the guide's OS variant.
type GuideOSRequest struct {
	OS types.OS `json:"os"`
}

// GuideFeedbackRequest selects a rating or submits feedback text.
type GuideFeedbackRequest struct {
	Emoji       types.FeedbackEmoji   `json:"emoji,omitempty"`
	Text        string                `json:"text,omitempty"`
	Submit      bool                  `json:"submit,omitempty"`
	Environment analytics.Environment `json:"environment"`
}

// GuideProgressResponse is the tracker state the page renders from.
type GuideProgressResponse struct {
	OS             types.OS       `json:"os"`
	CurrentStep    int            `json:"current_step"`
	CompletedSteps []types.StepID `json:"completed_steps"`
	ErrorSteps     []types.StepID `json:"error_steps"`
	Query          string         `json:"query"`
	ActiveMinutes  int            `json:"active_minutes"`
	CompletionOpen bool           `json:"completion_open"`
	RequestID      string         `json:"request_id"`
}

// GuideHandler serves the guide tracker endpoints.
type GuideHandler struct {
	tracker *guide.Tracker
}

// NewGuideHandler creates a guide handler over the tracker.
func NewGuideHandler(tracker *guide.Tracker) *GuideHandler {
	return &GuideHandler{tracker: tracker}
}

// Result handles POST /v1/guide/result.
func (h *GuideHandler) Result(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req GuideResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	if err := h.tracker.ReportResult(r.Context(), req.Step, req.Outcome, req.Environment); err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), requestID)
		} else {
			writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		}
		return
	}

	h.writeProgress(w, requestID)
}

// SwitchOS handles POST /v1/guide/os.
func (h *GuideHandler) SwitchOS(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req GuideOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	if err := h.tracker.SwitchOS(req.OS); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	h.writeProgress(w, requestID)
}

// Feedback handles POST /v1/guide/feedback. An emoji selects a rating;
// submit (with optional text) finalizes it.
func (h *GuideHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req GuideFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	var err error
	switch {
	case req.Submit:
		err = h.tracker.SubmitFeedback(r.Context(), req.Text, req.Environment)
	case req.Emoji != "":
		err = h.tracker.SelectEmoji(r.Context(), req.Emoji, req.Environment)
	default:
		writeError(w, http.StatusBadRequest, "emoji or submit is required", requestID)
		return
	}
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), requestID)
		} else {
			writeError(w, http.StatusInternalServerError, err.Error(), requestID)
		}
		return
	}

	h.writeProgress(w, requestID)
}

// Progress handles GET /v1/guide/progress. A request carrying progress
// parameters (a shared link) restores the tracker from them first; a
// plain request only reads the current state.
func (h *GuideHandler) Progress(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	if q := r.URL.Query(); guide.QueryHasProgress(q) {
		h.tracker.Init(r.Context(), q, analytics.Environment{})
	}
	h.writeProgress(w, requestID)
}

func (h *GuideHandler) writeProgress(w http.ResponseWriter, requestID string) {
	p := h.tracker.Progress()
	resp := GuideProgressResponse{
		OS:             p.OS,
		CurrentStep:    p.CurrentStepIndex,
		CompletedSteps: p.CompletedSteps,
		ErrorSteps:     h.tracker.ErrorSteps(),
		Query:          h.tracker.URLQuery().Encode(),
		ActiveMinutes:  h.tracker.TotalActiveMinutes(),
		CompletionOpen: h.tracker.CompletionOpen(),
		RequestID:      requestID,
	}
	if resp.CompletedSteps == nil {
		resp.CompletedSteps = []types.StepID{}
	}
	if resp.ErrorSteps == nil {
		resp.ErrorSteps = []types.StepID{}
	}
	writeJSON(w, http.StatusOK, resp)
}
