package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() = false, want true")
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeValidation, "invalid").
		WithDetail("field", "query").
		WithDetail("index", "3")

	if err.Details["field"] != "query" {
		t.Errorf("Details[field] = %s, want query", err.Details["field"])
	}
	if err.Details["index"] != "3" {
		t.Errorf("Details[index] = %s, want 3", err.Details["index"])
	}
}

func TestLifecycleConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *AppError
		code string
	}{
		{"TrainingDataError", TrainingDataError("bad data", cause), CodeTrainingData},
		{"TrainingFailure", TrainingFailure("train failed", cause), CodeTrainingFailure},
		{"ArtifactCorrupt", ArtifactCorrupt("/tmp/model.nlp", cause), CodeArtifactCorrupt},
		{"ModelUnavailable", ModelUnavailable("no model", cause), CodeModelUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("cause not reachable through Unwrap")
			}
		})
	}

	if got := ArtifactCorrupt("/tmp/model.nlp", cause).Details["location"]; got != "/tmp/model.nlp" {
		t.Errorf("Details[location] = %s, want /tmp/model.nlp", got)
	}
}

func TestHasCode(t *testing.T) {
	inner := TrainingDataError("invalid json", errors.New("unexpected EOF"))
	outer := ModelUnavailable("failed to load or train", fmt.Errorf("train: %w", inner))

	if !HasCode(outer, CodeModelUnavailable) {
		t.Error("HasCode(MODEL_UNAVAILABLE) = false, want true")
	}
	if !HasCode(outer, CodeTrainingData) {
		t.Error("HasCode(TRAINING_DATA_ERROR) = false, want true")
	}
	if HasCode(outer, CodeTrainingFailure) {
		t.Error("HasCode(TRAINING_FAILURE) = true, want false")
	}
	if HasCode(nil, CodeInternal) {
		t.Error("HasCode(nil) = true, want false")
	}
	if got := Code(outer); got != CodeModelUnavailable {
		t.Errorf("Code() = %s, want %s", got, CodeModelUnavailable)
	}
	if got := Code(errors.New("plain")); got != "" {
		t.Errorf("Code(plain) = %q, want empty", got)
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsNotFound(fmt.Errorf("read: %w", NotFoundError("artifact"))) {
		t.Error("IsNotFound() = false, want true")
	}
	if IsNotFound(ValidationError("x")) {
		t.Error("IsNotFound(validation) = true, want false")
	}
	if !IsValidation(ValidationError("x")) {
		t.Error("IsValidation() = false, want true")
	}
}

func TestServiceUnavailableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := ServiceUnavailableError("redis", cause)

	if err.Code != CodeUnavailable {
		t.Errorf("Code = %s, want %s", err.Code, CodeUnavailable)
	}
	if err.Message != "redis is unavailable" {
		t.Errorf("Message = %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if got := ServiceUnavailableError("", nil).Message; got != "service unavailable" {
		t.Errorf("Message without service = %q", got)
	}
}
