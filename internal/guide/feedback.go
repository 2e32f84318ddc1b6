package guide

import (
	"context"
	"log"
	"strings"

	"github.com/waypost/waypost/internal/analytics"
	wperrors "github.com/waypost/waypost/internal/errors"
	"github.com/waypost/waypost/pkg/types"
)

// SelectedEmoji returns the currently selected satisfaction rating.
// Defaults to good until the user picks one.
func (t *Tracker) SelectedEmoji() types.FeedbackEmoji {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectedEmoji
}

// NeedsText reports whether the rating encourages free-text feedback.
// The two extremes do; submission is still allowed without it.
func NeedsText(emoji types.FeedbackEmoji) bool {
	return emoji == types.EmojiLove || emoji == types.EmojiSad
}

// SelectEmoji records a satisfaction rating during the completion flow.
// Good and neutral submit immediately with no text; love and sad wait
// for SubmitFeedback so the user can add a note.
func (t *Tracker) SelectEmoji(ctx context.Context, emoji types.FeedbackEmoji, env analytics.Environment) error {
	if emoji.Score() == nil {
		return wperrors.NewValidationError(wperrors.CodeInvalidParams, "unknown feedback rating "+string(emoji))
	}

	t.mu.Lock()
	if !t.completionOpen {
		t.mu.Unlock()
		return wperrors.NewGuideError(wperrors.CodeInvalidParams, "guide is not complete")
	}
	t.selectedEmoji = emoji
	elapsed := t.activeMinutesLocked()
	t.mu.Unlock()

	t.emit(ctx, "feedback_emoji_selected", map[string]interface{}{
		"emoji":           string(emoji),
		"completion_time": elapsed,
	}, env)

	if !NeedsText(emoji) {
		return t.SubmitFeedback(ctx, "", env)
	}
	return nil
}

// SubmitFeedback emits feedback_submitted with the selected rating and
// optional free text. Repeat submissions are ignored.
func (t *Tracker) SubmitFeedback(ctx context.Context, text string, env analytics.Environment) error {
	text = strings.TrimSpace(text)

	t.mu.Lock()
	if !t.completionOpen {
		t.mu.Unlock()
		return wperrors.NewGuideError(wperrors.CodeInvalidParams, "guide is not complete")
	}
	if t.feedbackSent {
		t.mu.Unlock()
		log.Printf("guide: feedback already submitted, ignoring")
		return nil
	}
	t.feedbackSent = true
	emoji := t.selectedEmoji
	elapsed := t.activeMinutesLocked()
	t.mu.Unlock()

	t.emit(ctx, "feedback_submitted", map[string]interface{}{
		"emoji":           string(emoji),
		"feedback":        text,
		"has_text":        text != "",
		"text_length":     len(text),
		"completion_time": elapsed,
		"guide_completed": true,
	}, env)
	return nil
}
