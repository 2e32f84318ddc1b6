package types

import "time"

// OS selects which step sequence the guide presents.
type OS string

const (
	OSMac     OS = "mac"
	OSWindows OS = "windows"
)

// Valid reports whether the OS is a known guide variant.
func (o OS) Valid() bool {
	return o == OSMac || o == OSWindows
}

// StepID identifies one step of the installation guide.
type StepID string

// StepsPerOS is the number of steps in every OS variant.
const StepsPerOS = 6

// Step sequences per OS, in guide order.
var (
	MacSteps = []StepID{"start", "homebrew", "node", "cli", "auth", "project"}

	WindowsSteps = []StepID{
		"start-windows", "git-windows", "node-windows",
		"cli-windows", "auth-windows", "project-windows",
	}
)

// StepsFor returns the ordered step sequence for the given OS.
// Unknown values fall back to the mac sequence.
func StepsFor(os OS) []StepID {
	if os == OSWindows {
		return WindowsSteps
	}
	return MacSteps
}

// StepIndex returns the 0-based position of step within the OS sequence,
// or -1 when the step does not belong to that sequence.
func StepIndex(os OS, step StepID) int {
	for i, s := range StepsFor(os) {
		if s == step {
			return i
		}
	}
	return -1
}

// StepNumber returns the 1-based human-readable number of a step, or 0
// when the step is unknown. Both OS variants share numbering.
func StepNumber(step StepID) int {
	for _, seq := range [][]StepID{MacSteps, WindowsSteps} {
		for i, s := range seq {
			if s == step {
				return i + 1
			}
		}
	}
	return 0
}

// Outcome is the result a user reports for a step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// GuideProgress is the persisted state of one user's walk through the guide.
type GuideProgress struct {
	// OS is the active step sequence variant
	OS OS `json:"os"`

	// CurrentStepIndex is the 0-based index of the step in progress
	CurrentStepIndex int `json:"current_step"`

	// CompletedSteps holds the ids of completed steps
	CompletedSteps []StepID `json:"completed_steps"`

	// SelectedButtons records the outcome chosen per step
	SelectedButtons map[StepID]Outcome `json:"selected_buttons"`

	// AccumulatedTimeMs is active time folded in at prior save points
	AccumulatedTimeMs int64 `json:"accumulated_time_ms"`

	// LastActivity is the timestamp of the last save point
	LastActivity time.Time `json:"timestamp"`
}

// Completed reports whether the given step is in the completed set.
func (p *GuideProgress) Completed(step StepID) bool {
	for _, s := range p.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// FeedbackEmoji is a satisfaction rating on the guide's 4-point scale.
type FeedbackEmoji string

const (
	EmojiSad     FeedbackEmoji = "sad"
	EmojiNeutral FeedbackEmoji = "neutral"
	EmojiGood    FeedbackEmoji = "good"
	EmojiLove    FeedbackEmoji = "love"
)

// Score maps an emoji to its numeric feedback score. Unrecognized values
// return nil so they cannot be mistaken for the lowest rating.
func (f FeedbackEmoji) Score() *int {
	switch f {
	case EmojiSad:
		return IntPtr(2)
	case EmojiNeutral:
		return IntPtr(3)
	case EmojiGood:
		return IntPtr(4)
	case EmojiLove:
		return IntPtr(5)
	}
	return nil
}
