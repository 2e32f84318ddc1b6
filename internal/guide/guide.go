// Package guide implements the installation-guide progress tracker: a
// step state machine with persisted, URL-shareable progress and active
// time accounting.
package guide

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/analytics"
	"github.com/waypost/waypost/internal/clock"
	wperrors "github.com/waypost/waypost/internal/errors"
	"github.com/waypost/waypost/internal/storage"
	"github.com/waypost/waypost/pkg/types"
)

// Persistent storage keys.
const (
	progressKey = "waypost_guide_progress"
	countedKey  = "waypost_guide_counted"
)

// inactivityTimeout resets the time accumulator (not progress) when the
// user has been away for longer.
const inactivityTimeout = 30 * time.Minute

// Emitter receives the analytics events the tracker produces.
type Emitter interface {
	TrackEvent(ctx context.Context, name string, params map[string]interface{}, env analytics.Environment) error
}

// Counters is the external counter surface the tracker increments.
type Counters interface {
	IncrementUsers(ctx context.Context)
	IncrementStarts(ctx context.Context)
	IncrementCompletions(ctx context.Context)
}

// Tracker is the guide progress state machine. All methods are safe for
// concurrent use; analytics and counter failures never block progress.
type Tracker struct {
	store    storage.KeyValueStore
	clock    clock.Clock
	emitter  Emitter
	counters Counters

	mu              sync.Mutex
	progress        types.GuideProgress
	errorSteps      []types.StepID
	troubleshooting map[types.StepID]bool
	intervalStart   time.Time
	completionOpen  bool
	selectedEmoji   types.FeedbackEmoji
	feedbackSent    bool
}

// NewTracker creates a tracker for the given OS without restoring
// state; call Init to restore.
func NewTracker(store storage.KeyValueStore, clk clock.Clock, emitter Emitter, counters Counters, os types.OS) *Tracker {
	if !os.Valid() {
		os = types.OSMac
	}
	return &Tracker{
		store:    store,
		clock:    clk,
		emitter:  emitter,
		counters: counters,
		progress: types.GuideProgress{
			OS:              os,
			SelectedButtons: map[types.StepID]types.Outcome{},
		},
		troubleshooting: map[types.StepID]bool{},
		selectedEmoji:   types.EmojiGood,
	}
}

// Init restores progress: URL parameters take precedence, then the
// persisted store, then a fresh start. More than 30 minutes of
// inactivity resets the time accumulator but keeps progress. A fresh
// start emits guide_started.
func (t *Tracker) Init(ctx context.Context, query url.Values, env analytics.Environment) {
	t.mu.Lock()
	now := t.clock.Now()
	t.intervalStart = now

	stored, hasStored := t.loadStored()

	if current, completed, ok := DecodeQuery(query, t.progress.OS); ok {
		t.progress.CurrentStepIndex = current
		t.progress.CompletedSteps = completed
		if hasStored {
			t.progress.SelectedButtons = stored.SelectedButtons
			t.adoptTiming(stored, now)
		}
	} else if hasStored {
		t.progress.CurrentStepIndex = stored.CurrentStepIndex
		t.progress.CompletedSteps = stored.CompletedSteps
		if stored.SelectedButtons != nil {
			t.progress.SelectedButtons = stored.SelectedButtons
		}
		t.adoptTiming(stored, now)
	}
	fresh := !hasStored && len(t.progress.CompletedSteps) == 0 && t.progress.CurrentStepIndex == 0
	t.mu.Unlock()

	if fresh {
		t.emit(ctx, "guide_started", map[string]interface{}{
			"os":       string(t.OS()),
			"referrer": env.Referrer,
		}, env)
	}
}

// adoptTiming carries the stored accumulator forward unless the user
// has been inactive past the timeout.
func (t *Tracker) adoptTiming(stored types.GuideProgress, now time.Time) {
	if stored.LastActivity.IsZero() || now.Sub(stored.LastActivity) > inactivityTimeout {
		t.progress.AccumulatedTimeMs = 0
		return
	}
	t.progress.AccumulatedTimeMs = stored.AccumulatedTimeMs
}

// OS returns the active step sequence variant.
func (t *Tracker) OS() types.OS {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.OS
}

// Progress returns a snapshot of the current state.
func (t *Tracker) Progress() types.GuideProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() types.GuideProgress {
	p := t.progress
	p.CompletedSteps = append([]types.StepID(nil), t.progress.CompletedSteps...)
	p.SelectedButtons = make(map[types.StepID]types.Outcome, len(t.progress.SelectedButtons))
	for k, v := range t.progress.SelectedButtons {
		p.SelectedButtons[k] = v
	}
	return p
}

// URLQuery returns the canonical query encoding of current progress.
func (t *Tracker) URLQuery() url.Values {
	t.mu.Lock()
	defer t.mu.Unlock()
	return EncodeQuery(t.progress)
}

// ErrorSteps returns the steps that reported an error, first
// occurrence order, each at most once.
func (t *Tracker) ErrorSteps() []types.StepID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.StepID(nil), t.errorSteps...)
}

// CompletionOpen reports whether the terminal feedback flow is active.
func (t *Tracker) CompletionOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completionOpen
}

// TroubleshootingOpen reports whether a step's troubleshooting view is
// open.
func (t *Tracker) TroubleshootingOpen(step types.StepID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.troubleshooting[step]
}

// TotalActiveMinutes returns accumulated active time plus the open
// interval, rounded to minutes.
func (t *Tracker) TotalActiveMinutes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeMinutesLocked()
}

func (t *Tracker) activeMinutesLocked() int {
	total := t.progress.AccumulatedTimeMs
	if !t.intervalStart.IsZero() {
		total += t.clock.Now().Sub(t.intervalStart).Milliseconds()
	}
	return int(math.Round(float64(total) / 1000 / 60))
}

// ReportResult records the outcome a user chose for a step.
//
// Success marks the step completed (idempotent), closes any
// troubleshooting view, advances to the next pending step, and emits
// step_completed. Completing the final step additionally emits
// guide_completed and increments the completion counter; completing the
// first step for the first time on this profile increments the user
// counter. Error records the first occurrence, emits error_occurred,
// and opens troubleshooting without advancing.
func (t *Tracker) ReportResult(ctx context.Context, step types.StepID, outcome types.Outcome, env analytics.Environment) error {
	t.mu.Lock()
	if types.StepIndex(t.progress.OS, step) < 0 {
		t.mu.Unlock()
		return wperrors.NewGuideError(wperrors.CodeInvalidStep, "unknown step "+string(step))
	}

	switch outcome {
	case types.OutcomeSuccess:
		return t.reportSuccessLocked(ctx, step, env)
	case types.OutcomeError:
		return t.reportErrorLocked(ctx, step, env)
	}
	t.mu.Unlock()
	return wperrors.NewGuideError(wperrors.CodeInvalidParams, "unknown outcome "+string(outcome))
}

// reportSuccessLocked completes the step. Releases t.mu.
func (t *Tracker) reportSuccessLocked(ctx context.Context, step types.StepID, env analytics.Environment) error {
	if t.progress.Completed(step) {
		t.mu.Unlock()
		log.Printf("guide: step %s already completed, ignoring", step)
		return nil
	}

	t.progress.SelectedButtons[step] = types.OutcomeSuccess
	t.progress.CompletedSteps = append(t.progress.CompletedSteps, step)
	t.troubleshooting[step] = false
	t.saveLocked()

	elapsed := t.activeMinutesLocked()
	stepNumber := types.StepNumber(step)
	totalSteps := len(types.StepsFor(t.progress.OS))
	errorCount := len(t.errorSteps)
	osName := t.progress.OS
	final := stepNumber == totalSteps
	firstStep := stepNumber == 1

	t.advanceLocked()
	if final {
		t.completionOpen = true
		t.selectedEmoji = types.EmojiGood
	}
	t.saveLocked()
	t.mu.Unlock()

	t.emit(ctx, "step_completed", map[string]interface{}{
		"step_name":    string(step),
		"step_number":  stepNumber,
		"total_steps":  totalSteps,
		"time_on_step": elapsed,
	}, env)

	if final {
		t.emit(ctx, "guide_completed", map[string]interface{}{
			"step_number":             stepNumber,
			"completion_time_minutes": elapsed,
			"error_count":             errorCount,
			"os":                      string(osName),
		}, env)
		if t.counters != nil {
			t.counters.IncrementCompletions(ctx)
		}
	}

	if firstStep && !t.userCounted() {
		t.markUserCounted()
		if t.counters != nil {
			t.counters.IncrementUsers(ctx)
			t.counters.IncrementStarts(ctx)
		}
	}
	return nil
}

// reportErrorLocked records an error outcome. Releases t.mu.
func (t *Tracker) reportErrorLocked(ctx context.Context, step types.StepID, env analytics.Environment) error {
	first := true
	for _, s := range t.errorSteps {
		if s == step {
			first = false
			break
		}
	}
	if first {
		t.errorSteps = append(t.errorSteps, step)
	}
	t.progress.SelectedButtons[step] = types.OutcomeError
	t.troubleshooting[step] = true
	stepNumber := t.progress.CurrentStepIndex + 1
	osName := t.progress.OS
	t.saveLocked()
	t.mu.Unlock()

	if first {
		t.emit(ctx, "error_occurred", map[string]interface{}{
			"step_name":   string(step),
			"step_number": stepNumber,
			"os":          string(osName),
		}, env)
	}
	return nil
}

// advanceLocked moves CurrentStepIndex to the next pending step.
func (t *Tracker) advanceLocked() {
	steps := types.StepsFor(t.progress.OS)
	for i := t.progress.CurrentStepIndex; i < len(steps); i++ {
		if !t.progress.Completed(steps[i]) {
			t.progress.CurrentStepIndex = i
			return
		}
	}
	// Everything ahead is done; park on the last step.
	t.progress.CurrentStepIndex = len(steps) - 1
}

// SwitchOS resets all progress and selections for the new variant. It
// does not emit a completion event and keeps the time accumulator.
func (t *Tracker) SwitchOS(os types.OS) error {
	if !os.Valid() {
		return wperrors.NewGuideError(wperrors.CodeInvalidOS, "unknown os "+string(os))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.OS = os
	t.progress.CurrentStepIndex = 0
	t.progress.CompletedSteps = nil
	t.progress.SelectedButtons = map[types.StepID]types.Outcome{}
	t.errorSteps = nil
	t.troubleshooting = map[types.StepID]bool{}
	t.completionOpen = false
	t.feedbackSent = false

	if err := t.store.Remove(progressKey); err != nil {
		log.Printf("guide: failed to clear stored progress: %v", err)
	}
	return nil
}

// SaveProgress folds the open time interval into the accumulator,
// persists the state, and opens a new interval.
func (t *Tracker) SaveProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saveLocked()
}

func (t *Tracker) saveLocked() {
	now := t.clock.Now()
	if !t.intervalStart.IsZero() {
		t.progress.AccumulatedTimeMs += now.Sub(t.intervalStart).Milliseconds()
	}
	t.intervalStart = now
	t.progress.LastActivity = now

	raw, err := json.Marshal(t.progress)
	if err != nil {
		log.Printf("guide: failed to encode progress: %v", err)
		return
	}
	if err := t.store.Set(progressKey, string(raw)); err != nil {
		log.Printf("guide: failed to persist progress: %v", err)
	}
}

func (t *Tracker) loadStored() (types.GuideProgress, bool) {
	raw, ok, err := t.store.Get(progressKey)
	if err != nil || !ok || raw == "" {
		return types.GuideProgress{}, false
	}
	var p types.GuideProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		log.Printf("guide: dropping corrupt stored progress: %v", err)
		t.store.Remove(progressKey)
		return types.GuideProgress{}, false
	}
	return p, true
}

func (t *Tracker) userCounted() bool {
	v, ok, err := t.store.Get(countedKey)
	return err == nil && ok && v == "true"
}

func (t *Tracker) markUserCounted() {
	if err := t.store.Set(countedKey, "true"); err != nil {
		log.Printf("guide: failed to persist counted marker: %v", err)
	}
}

// emit sends an analytics event, swallowing failures: analytics must
// never interrupt guide progression.
func (t *Tracker) emit(ctx context.Context, name string, params map[string]interface{}, env analytics.Environment) {
	if t.emitter == nil {
		return
	}
	if err := t.emitter.TrackEvent(ctx, name, params, env); err != nil {
		log.Printf("guide: failed to track %s: %v", name, err)
	}
}
