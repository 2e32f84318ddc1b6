package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWaypostError_Error(t *testing.T) {
	err := New(ErrCategoryTransport, CodeInsertFailed, "insert failed")
	expected := "[TRANSPORT:INSERT_FAILED] insert failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestWaypostError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryTransport, CodeInsertFailed, "insert failed", cause)
	expected := "[TRANSPORT:INSERT_FAILED] insert failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestWaypostError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryStorage, CodeWriteFailed, "write failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestWaypostError_Is(t *testing.T) {
	err1 := New(ErrCategoryTransport, CodeInsertFailed, "first")
	err2 := New(ErrCategoryTransport, CodeInsertFailed, "second")
	err3 := New(ErrCategoryTransport, CodeRequestTimeout, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryTransport, CodeInsertFailed, true},
		{ErrCategoryTransport, CodeRequestTimeout, true},
		{ErrCategoryTransport, CodeLegacyFailed, true},
		{ErrCategoryTransport, CodePrimaryDisabled, false},
		{ErrCategoryStorage, CodeQuotaExceeded, true},
		{ErrCategoryStorage, CodeStoreUnavailable, false},
		{ErrCategoryValidation, CodeFieldTooLong, false},
		{ErrCategoryValidation, CodeInvalidEvent, false},
		{ErrCategoryGuide, CodeInvalidStep, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryGuide, CodeInvalidStep, "no such step")
	if GetCategory(err) != ErrCategoryGuide {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryGuide)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-WaypostError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryGuide, CodeInvalidStep, "no such step")
	if GetCode(err) != CodeInvalidStep {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidStep)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-WaypostError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeFieldTooLong, "field too long")
	detailed := err.WithDetails(map[string]interface{}{"field": "event_name"})

	if detailed.Details["field"] != "event_name" {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(CodeEmptyBatch, "no events")
	if v.Category != ErrCategoryValidation || v.Code != CodeEmptyBatch {
		t.Error("NewValidationError mismatch")
	}

	tr := NewTransportError(CodeInsertFailed, "backend down", cause)
	if tr.Category != ErrCategoryTransport || !errors.Is(tr, cause) {
		t.Error("NewTransportError mismatch")
	}

	s := NewStorageError(CodeWriteFailed, "disk full", cause)
	if s.Category != ErrCategoryStorage {
		t.Error("NewStorageError mismatch")
	}

	g := NewGuideError(CodeInvalidOS, "unknown os")
	if g.Category != ErrCategoryGuide {
		t.Error("NewGuideError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
