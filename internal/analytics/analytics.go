// Package analytics implements the event facade: identity, enrichment,
// allow-list filtering, and routing into the delivery pipeline.
package analytics

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/waypost/waypost/internal/clock"
	wperrors "github.com/waypost/waypost/internal/errors"
	"github.com/waypost/waypost/internal/session"
	"github.com/waypost/waypost/internal/storage"
	"github.com/waypost/waypost/pkg/types"
)

// importantEvents always go to the backend.
var importantEvents = map[string]bool{
	"guide_started":      true,
	"guide_completed":    true,
	"step_completed":     true,
	"error_occurred":     true,
	"feedback_submitted": true,
}

// interactionEvents are the forwarded interaction set. They classify as
// "interaction" and are backend-worthy.
var interactionEvents = map[string]bool{
	"page_view":      true,
	"scroll_depth":   true,
	"cta_click":      true,
	"outbound_click": true,
	"button_click":   true,
	"code_copy":      true,
}

// EventQueue is the batched delivery path.
type EventQueue interface {
	Add(event types.EnrichedEvent)
}

// DirectSender is the unbatched fallback path.
type DirectSender interface {
	SendBatch(ctx context.Context, events []types.EnrichedEvent) error
}

// BeaconDrainer fires events that cannot wait for a batch.
type BeaconDrainer interface {
	DrainBeacon(events []types.EnrichedEvent) bool
}

// FailureSink stores events whose direct send failed.
type FailureSink interface {
	Save(event types.EnrichedEvent)
}

// Facade owns identity and enrichment and routes events into the
// pipeline. All methods are safe for concurrent use.
type Facade struct {
	store      storage.KeyValueStore
	session    *session.Manager
	clock      clock.Clock
	queue      EventQueue
	direct     DirectSender
	beacon     BeaconDrainer
	failures   FailureSink
	production bool
	extra      map[string]bool

	mu            sync.Mutex
	userID        string
	createdSessID string // session in which the profile id was generated
	newUserSessID string
	newUser       bool
}

// Options configures facade construction.
type Options struct {
	Store       storage.KeyValueStore
	Session     *session.Manager
	Clock       clock.Clock
	Queue       EventQueue
	Direct      DirectSender
	Beacon      BeaconDrainer
	Failures    FailureSink
	Production  bool
	ExtraEvents []string
}

// New creates the facade. Queue, Direct, Beacon, and Failures may each
// be nil; routing degrades accordingly.
func New(opts Options) *Facade {
	extra := make(map[string]bool, len(opts.ExtraEvents))
	for _, name := range opts.ExtraEvents {
		extra[name] = true
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Facade{
		store:      opts.Store,
		session:    opts.Session,
		clock:      clk,
		queue:      opts.Queue,
		direct:     opts.Direct,
		beacon:     opts.Beacon,
		failures:   opts.Failures,
		production: opts.Production,
		extra:      extra,
	}
}

// BackendWorthy reports whether an event name passes the allow-list.
func (f *Facade) BackendWorthy(name string) bool {
	return importantEvents[name] || interactionEvents[name] || f.extra[name]
}

// TrackEvent enriches and routes one event. Events outside the
// allow-list are dropped silently; outside production they are logged
// instead of delivered. Analytics failures never propagate to callers
// beyond input validation.
func (f *Facade) TrackEvent(ctx context.Context, name string, params map[string]interface{}, env Environment) error {
	if name == "" {
		return wperrors.NewValidationError(wperrors.CodeInvalidEvent, "event name is required")
	}
	if !f.BackendWorthy(name) {
		return nil
	}

	event := f.Enrich(name, params, env)

	if !f.production {
		log.Printf("analytics: [dev] %s category=%s user=%s", name, event.EventCategory, event.UserID)
		return nil
	}

	if f.queue != nil {
		f.queue.Add(event)
		return nil
	}

	if f.direct != nil {
		if err := f.direct.SendBatch(ctx, []types.EnrichedEvent{event}); err != nil {
			log.Printf("analytics: direct send of %s failed: %v", name, err)
			if f.failures != nil && wperrors.IsRetryable(err) {
				f.failures.Save(event)
			}
		}
	}
	return nil
}

// TrackExit sends a page-exit event through the beacon path with the
// page duration in seconds. Best-effort, never blocks page teardown.
func (f *Facade) TrackExit(env Environment, durationSeconds int) {
	f.trackBeacon("page_exit", env, durationSeconds)
}

// TrackSessionEnd sends a session-end event through the beacon path.
func (f *Facade) TrackSessionEnd(env Environment, durationSeconds int) {
	f.trackBeacon("session_end", env, durationSeconds)
	f.session.End()
}

func (f *Facade) trackBeacon(name string, env Environment, durationSeconds int) {
	if f.beacon == nil {
		return
	}
	event := f.Enrich(name, map[string]interface{}{
		"action_type":  "lifecycle",
		"action_value": strconv.Itoa(durationSeconds),
	}, env)

	if !f.production {
		log.Printf("analytics: [dev] %s duration=%ds", name, durationSeconds)
		return
	}
	if !f.beacon.DrainBeacon([]types.EnrichedEvent{event}) {
		log.Printf("analytics: beacon for %s not accepted", name)
	}
}

// Enrich builds the backend row for a raw event: identity, category,
// referrer breakdown, device metadata, and the known parameter fields.
func (f *Facade) Enrich(name string, params map[string]interface{}, env Environment) types.EnrichedEvent {
	userID, _ := f.UserID(env)

	event := types.EnrichedEvent{
		Timestamp:        f.clock.Now().UTC(),
		EventCategory:    Classify(name),
		EventName:        name,
		UserID:           userID,
		SessionID:        f.session.SessionID(),
		IsNewUser:        f.isNewUser(env),
		PagePath:         env.PagePath,
		ReferrerSource:   ReferrerSource(env.Referrer),
		ReferrerMedium:   ReferrerMedium(env.Referrer),
		InteractionCount: 1,
		DeviceCategory:   env.Device(),
		OS:               env.OS(),
		Browser:          env.Browser(),
	}

	event.GuideStepNumber = intParam(params, "step_number")
	event.GuideStepName = strParam(params, "step_name")
	event.GuideProgress = intParam(params, "progress")
	event.TimeOnStep = intParam(params, "time_on_step")

	event.ActionType = firstStrParam(params, "action_type", "button_purpose", "button_type")
	event.ActionTarget = firstStrParam(params, "action_target", "button_text", "button_id", "button_location")
	event.ActionValue = firstStrParam(params, "action_value", "button_category", "code_category")

	event.ErrorType = strParam(params, "error_type")
	event.ErrorMessage = strParam(params, "error_message")
	event.IsSuccess = event.ErrorType == nil

	if emoji := strParam(params, "emoji"); emoji != nil {
		event.FeedbackScore = types.FeedbackEmoji(*emoji).Score()
	}
	event.FeedbackText = strParam(params, "feedback")

	if v := intParam(params, "completion_time_minutes"); v != nil {
		event.TotalTimeMinutes = v
	} else {
		event.TotalTimeMinutes = intParam(params, "total_duration")
	}

	event.Truncate()
	return event
}

// isNewUser computes new-user status once per session so every event in
// a session carries the same flag. A user is new only in the session
// that generated their profile id.
func (f *Facade) isNewUser(env Environment) bool {
	sid := f.session.SessionID()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newUserSessID == sid {
		return f.newUser
	}
	f.userIDLocked(env)
	f.newUserSessID = sid
	f.newUser = f.createdSessID == sid
	return f.newUser
}

// Classify maps an event name to its category by substring matching.
func Classify(name string) types.EventCategory {
	switch {
	case strings.Contains(name, "guide"):
		return types.CategoryGuide
	case strings.Contains(name, "page"):
		return types.CategoryPage
	case strings.Contains(name, "error"):
		return types.CategoryError
	case strings.Contains(name, "feedback"):
		return types.CategoryFeedback
	case strings.Contains(name, "session"):
		return types.CategorySession
	case interactionEvents[name]:
		return types.CategoryInteraction
	}
	return types.CategoryOther
}

func strParam(params map[string]interface{}, key string) *string {
	if params == nil {
		return nil
	}
	if v, ok := params[key].(string); ok && v != "" {
		return types.StrPtr(v)
	}
	return nil
}

func firstStrParam(params map[string]interface{}, keys ...string) *string {
	for _, k := range keys {
		if v := strParam(params, k); v != nil {
			return v
		}
	}
	return nil
}

// intParam reads a numeric parameter; JSON decoding yields float64 for
// all numbers, so both forms are accepted.
func intParam(params map[string]interface{}, key string) *int {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case int:
		return types.IntPtr(v)
	case int64:
		return types.IntPtr(int(v))
	case float64:
		return types.IntPtr(int(v))
	}
	return nil
}
