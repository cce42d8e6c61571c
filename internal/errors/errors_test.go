package errors

import (
	"fmt"
	"testing"
)

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"network", NewInvalidNetworkError("disconnected", 14, 3), ErrInvalidNetwork},
		{"action", NewInvalidActionError(2, 1, "masked"), ErrInvalidAction},
		{"numeric", &NumericInstabilityError{Where: "ppo"}, ErrNumericInstability},
		{"safety", &SafetyViolation{Kind: SafetyRewardFloor}, ErrSafetyViolation},
		{"config", NewConfigurationError("load", New("boom")), ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("episode 7: %w", tt.err)
			if !Is(wrapped, tt.sentinel) {
				t.Fatalf("expected %v to match sentinel %v", wrapped, tt.sentinel)
			}
		})
	}
}

func TestInvalidNetworkCauseIsReachable(t *testing.T) {
	cause := New("branch 4 isolates bus 8")
	err := NewInvalidNetworkError("contingency", 14, 3).WithCause(cause)
	if !Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if !Is(err, ErrInvalidNetwork) {
		t.Fatal("expected sentinel in chain")
	}
}

func TestSeverityClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"network resamples", NewInvalidNetworkError("x", 1, 2), false},
		{"action is fatal", NewInvalidActionError(0, 0, "x"), true},
		{"skipped update", &NumericInstabilityError{Consecutive: 1, Patience: 3}, false},
		{"exhausted patience", &NumericInstabilityError{Consecutive: 4, Patience: 3, Fatal: true}, true},
		{"safety", &SafetyViolation{}, true},
		{"config", NewConfigurationError("x", nil), true},
		{"unknown", New("mystery"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(fmt.Errorf("wrap: %w", tt.err)); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := IsRecoverable(tt.err); got == tt.fatal {
				t.Errorf("IsRecoverable = %v, want %v", got, !tt.fatal)
			}
		})
	}
}

func TestNilIsNeitherFatalNorRecoverable(t *testing.T) {
	if IsFatal(nil) || IsRecoverable(nil) {
		t.Fatal("nil error must not be classified")
	}
}

func TestSafetyViolationAs(t *testing.T) {
	var err error = fmt.Errorf("trainer: %w", &SafetyViolation{Kind: SafetyLossCeiling, Episode: 12})
	var sv *SafetyViolation
	if !As(err, &sv) {
		t.Fatal("expected As to find SafetyViolation")
	}
	if sv.Kind != SafetyLossCeiling || sv.Episode != 12 {
		t.Errorf("unexpected violation %+v", sv)
	}
}
