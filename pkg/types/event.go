// Package types provides core data types for Waypost.
package types

import (
	"time"
	"unicode/utf8"
)

// Event represents a raw analytics occurrence as captured at the page.
// Events are immutable once queued.
type Event struct {
	// Name identifies the event (e.g., "page_view", "step_completed")
	Name string `json:"event_name"`

	// Parameters is a flat, JSON-serializable parameter map
	Parameters map[string]interface{} `json:"parameters"`

	// Timestamp is when the event occurred (serialized as RFC 3339)
	Timestamp time.Time `json:"timestamp"`

	// UserID is the stable per-browser-profile identifier
	UserID string `json:"user_id"`

	// SessionID is the per-tab session identifier
	SessionID string `json:"session_id"`
}

// EventCategory classifies events for the backend row shape.
type EventCategory string

const (
	CategoryGuide       EventCategory = "guide"
	CategoryPage        EventCategory = "page"
	CategoryError       EventCategory = "error"
	CategoryFeedback    EventCategory = "feedback"
	CategorySession     EventCategory = "session"
	CategoryInteraction EventCategory = "interaction"
	CategoryOther       EventCategory = "other"
)

// EnrichedEvent is the backend row shape: an Event plus derived metadata.
// Optional fields are pointers so absent values serialize as null rather
// than zero values the backend would misread.
type EnrichedEvent struct {
	Timestamp      time.Time     `json:"timestamp"`
	EventCategory  EventCategory `json:"event_category"`
	EventName      string        `json:"event_name"`
	UserID         string        `json:"user_id"`
	SessionID      string        `json:"session_id"`
	IsNewUser      bool          `json:"is_new_user"`
	PagePath       string        `json:"page_path"`
	ReferrerSource string        `json:"referrer_source"`
	ReferrerMedium string        `json:"referrer_medium"`

	// Guide-specific optional fields
	GuideStepNumber *int    `json:"guide_step_number"`
	GuideStepName   *string `json:"guide_step_name"`
	GuideProgress   *int    `json:"guide_progress"`
	TimeOnStep      *int    `json:"time_on_step"`

	// Interaction fields
	ActionType       *string `json:"action_type"`
	ActionTarget     *string `json:"action_target"`
	ActionValue      *string `json:"action_value"`
	InteractionCount int     `json:"interaction_count"`

	// Device and outcome fields
	DeviceCategory string  `json:"device_category"`
	OS             string  `json:"os"`
	Browser        string  `json:"browser"`
	IsSuccess      bool    `json:"is_success"`
	ErrorType      *string `json:"error_type"`
	ErrorMessage   *string `json:"error_message"`

	// Feedback fields
	FeedbackScore *int    `json:"feedback_score"`
	FeedbackText  *string `json:"feedback_text"`

	// TotalTimeMinutes is the cumulative active time for completion events
	TotalTimeMinutes *int `json:"total_time_minutes"`
}

// Maximum lengths for string fields, enforced at the serialization
// boundary before any insert attempt.
const (
	MaxEventNameLen    = 100
	MaxIdentifierLen   = 120
	MaxPagePathLen     = 500
	MaxReferrerLen     = 200
	MaxActionTargetLen = 200
	MaxErrorMessageLen = 500
	MaxFeedbackTextLen = 2000
)

// Truncate clips all string fields to their maximum lengths in place.
func (e *EnrichedEvent) Truncate() {
	e.EventName = clip(e.EventName, MaxEventNameLen)
	e.UserID = clip(e.UserID, MaxIdentifierLen)
	e.SessionID = clip(e.SessionID, MaxIdentifierLen)
	e.PagePath = clip(e.PagePath, MaxPagePathLen)
	e.ReferrerSource = clip(e.ReferrerSource, MaxReferrerLen)
	e.ReferrerMedium = clip(e.ReferrerMedium, MaxReferrerLen)
	clipPtr(&e.GuideStepName, MaxEventNameLen)
	clipPtr(&e.ActionType, MaxActionTargetLen)
	clipPtr(&e.ActionTarget, MaxActionTargetLen)
	clipPtr(&e.ActionValue, MaxActionTargetLen)
	clipPtr(&e.ErrorType, MaxEventNameLen)
	clipPtr(&e.ErrorMessage, MaxErrorMessageLen)
	clipPtr(&e.FeedbackText, MaxFeedbackTextLen)
}

// Validate reports whether all string fields are within their limits.
// A row that fails validation must not be inserted.
func (e *EnrichedEvent) Validate() error {
	checks := []struct {
		name  string
		value string
		max   int
	}{
		{"event_name", e.EventName, MaxEventNameLen},
		{"user_id", e.UserID, MaxIdentifierLen},
		{"session_id", e.SessionID, MaxIdentifierLen},
		{"page_path", e.PagePath, MaxPagePathLen},
		{"referrer_source", e.ReferrerSource, MaxReferrerLen},
		{"referrer_medium", e.ReferrerMedium, MaxReferrerLen},
	}
	for _, c := range checks {
		if len(c.value) > c.max {
			return &FieldTooLongError{Field: c.name, Length: len(c.value), Max: c.max}
		}
	}
	if e.ErrorMessage != nil && len(*e.ErrorMessage) > MaxErrorMessageLen {
		return &FieldTooLongError{Field: "error_message", Length: len(*e.ErrorMessage), Max: MaxErrorMessageLen}
	}
	if e.FeedbackText != nil && len(*e.FeedbackText) > MaxFeedbackTextLen {
		return &FieldTooLongError{Field: "feedback_text", Length: len(*e.FeedbackText), Max: MaxFeedbackTextLen}
	}
	if e.EventName == "" {
		return &FieldTooLongError{Field: "event_name", Length: 0, Max: MaxEventNameLen}
	}
	return nil
}

// FailedEvent is an EnrichedEvent that exhausted its delivery attempts
// and was demoted to the durable retry store.
type FailedEvent struct {
	Event      EnrichedEvent `json:"event"`
	FailedAt   time.Time     `json:"failed_at"`
	RetryCount int           `json:"retry_count"`
}

// clip truncates s to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func clipPtr(s **string, max int) {
	if *s == nil {
		return
	}
	v := clip(**s, max)
	*s = &v
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
