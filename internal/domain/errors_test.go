package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: fmt.Errorf("save order: %w", ErrOrderVersionConflict), want: true},
		{name: "joined version conflict error", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("Customer is required", "Order must contain at least one item")

	want := "Validation failed: Customer is required; Order must contain at least one item"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsValidation(fmt.Errorf("create order: %w", err)) {
		t.Fatal("expected wrapped validation error to be detected")
	}
	if IsValidation(ErrOrderNotFound) {
		t.Fatal("not found must not be treated as validation error")
	}
}

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection refused")

	if Transient("insert order", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	err := Transient("insert order", base)
	if !IsTransient(err) {
		t.Fatal("expected transient error")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected transient error to unwrap to cause")
	}
	if err.Error() != "insert order: connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsTransient(fmt.Errorf("apply: %w", ErrTransitionPremature)) {
		t.Fatal("premature transition should be retried")
	}
	if IsTransient(ErrTransitionStale) {
		t.Fatal("stale transition must not be retried")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", ErrOrderNotFound)) {
		t.Fatal("expected wrapped not found")
	}
	if IsNotFound(ErrOrderVersionConflict) {
		t.Fatal("unexpected not found")
	}
}
