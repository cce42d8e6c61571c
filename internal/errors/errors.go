// Package errors defines the training error taxonomy and classification helpers.
//
// Every failure the core can surface falls into one of five kinds:
//
//   - InvalidNetworkError: infeasible topology; the scenario is resampled.
//   - InvalidActionError: the agent chose a masked action; fatal.
//   - NumericInstabilityError: NaN/Inf in a loss or reward; the update is skipped
//     and the error only becomes fatal once the configured patience is exceeded.
//   - SafetyViolation: reward, loss or deterioration thresholds breached; fatal.
//   - ConfigurationError: missing or out-of-range parameter; fatal at startup.
//
// Callers check kinds with errors.Is against the sentinels or errors.As against
// the typed errors, and use IsFatal / IsRecoverable to decide whether to halt.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// #region severity

// Severity represents how the orchestrator must react to an error.
type Severity int

const (
	// SeverityRecoverable errors are handled locally (resample, skip update).
	SeverityRecoverable Severity = iota
	// SeverityFatal errors halt training.
	SeverityFatal
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// #endregion severity

// #region sentinels

var (
	// ErrInvalidNetwork indicates an infeasible network topology.
	ErrInvalidNetwork = New("invalid network")
	// ErrInvalidAction indicates an action outside the current action mask.
	ErrInvalidAction = New("invalid action")
	// ErrNumericInstability indicates NaN or Inf in a loss, gradient or reward.
	ErrNumericInstability = New("numeric instability")
	// ErrSafetyViolation indicates a training-health threshold was breached.
	ErrSafetyViolation = New("safety violation")
	// ErrConfiguration indicates a missing or out-of-range configuration value.
	ErrConfiguration = New("configuration error")
)

// #endregion sentinels

// #region invalid-network

// InvalidNetworkError reports why a network cannot be partitioned.
type InvalidNetworkError struct {
	Reason string
	Buses  int
	Target int
	Cause  error
}

// NewInvalidNetworkError creates an InvalidNetworkError.
func NewInvalidNetworkError(reason string, buses, target int) *InvalidNetworkError {
	return &InvalidNetworkError{Reason: reason, Buses: buses, Target: target}
}

// WithCause attaches an underlying error.
func (e *InvalidNetworkError) WithCause(err error) *InvalidNetworkError {
	e.Cause = err
	return e
}

func (e *InvalidNetworkError) Error() string {
	msg := fmt.Sprintf("invalid network: %s (buses=%d, target=%d)", e.Reason, e.Buses, e.Target)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the sentinel and the cause.
func (e *InvalidNetworkError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidNetwork, e.Cause}
	}
	return []error{ErrInvalidNetwork}
}

// Severity implements severityCarrier.
func (e *InvalidNetworkError) Severity() Severity { return SeverityRecoverable }

// #endregion invalid-network

// #region invalid-action

// InvalidActionError reports an action the environment refused.
type InvalidActionError struct {
	Bus       int
	Partition int
	Reason    string
}

// NewInvalidActionError creates an InvalidActionError.
func NewInvalidActionError(bus, partition int, reason string) *InvalidActionError {
	return &InvalidActionError{Bus: bus, Partition: partition, Reason: reason}
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action (bus=%d, partition=%d): %s", e.Bus, e.Partition, e.Reason)
}

// Unwrap returns the sentinel.
func (e *InvalidActionError) Unwrap() error { return ErrInvalidAction }

// Severity implements severityCarrier.
func (e *InvalidActionError) Severity() Severity { return SeverityFatal }

// #endregion invalid-action

// #region numeric-instability

// NumericInstabilityError reports a non-finite value in a reward or update.
// Consecutive counts how many in a row were skipped; Fatal is set once that
// count exceeds the configured patience. Errors raised at the source leave
// both at zero and the caller that owns the streak fills them in.
type NumericInstabilityError struct {
	Where       string
	Consecutive int
	Patience    int
	Fatal       bool
}

func (e *NumericInstabilityError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("numeric instability in %s: %d consecutive non-finite updates (patience %d)",
			e.Where, e.Consecutive, e.Patience)
	}
	if e.Patience == 0 && e.Consecutive == 0 {
		return fmt.Sprintf("numeric instability in %s: non-finite value", e.Where)
	}
	return fmt.Sprintf("numeric instability in %s: skipped (%d/%d)", e.Where, e.Consecutive, e.Patience)
}

// Unwrap returns the sentinel.
func (e *NumericInstabilityError) Unwrap() error { return ErrNumericInstability }

// Severity implements severityCarrier.
func (e *NumericInstabilityError) Severity() Severity {
	if e.Fatal {
		return SeverityFatal
	}
	return SeverityRecoverable
}

// #endregion numeric-instability

// #region safety-violation

// SafetyKind names the monitor rule that tripped.
type SafetyKind string

const (
	SafetyRewardFloor   SafetyKind = "reward_floor"
	SafetyLossCeiling   SafetyKind = "loss_ceiling"
	SafetyDeterioration SafetyKind = "deterioration"
)

// SafetyViolation reports a breached training-health threshold.
type SafetyViolation struct {
	Kind      SafetyKind
	Episode   int
	Value     float64
	Threshold float64
	Duration  int
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation (%s) at episode %d: value %.4f vs threshold %.4f for %d episodes",
		e.Kind, e.Episode, e.Value, e.Threshold, e.Duration)
}

// Unwrap returns the sentinel.
func (e *SafetyViolation) Unwrap() error { return ErrSafetyViolation }

// Severity implements severityCarrier.
func (e *SafetyViolation) Severity() Severity { return SeverityFatal }

// #endregion safety-violation

// #region configuration

// ConfigurationError wraps validation failures found at startup.
type ConfigurationError struct {
	Op    string
	Cause error
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(op string, cause error) *ConfigurationError {
	return &ConfigurationError{Op: op, Cause: cause}
}

func (e *ConfigurationError) Error() string {
	if e.Cause == nil {
		return "configuration error: " + e.Op
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the sentinel and the cause.
func (e *ConfigurationError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConfiguration, e.Cause}
	}
	return []error{ErrConfiguration}
}

// Severity implements severityCarrier.
func (e *ConfigurationError) Severity() Severity { return SeverityFatal }

// #endregion configuration

// #region classification

type severityCarrier interface {
	Severity() Severity
}

// SeverityOf returns the severity of the first classified error in the chain.
// Unclassified errors are fatal: the core never guesses that an unknown
// failure is safe to continue past.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityRecoverable
	}
	var sc severityCarrier
	if As(err, &sc) {
		return sc.Severity()
	}
	return SeverityFatal
}

// IsFatal reports whether err must halt training.
func IsFatal(err error) bool {
	return err != nil && SeverityOf(err) == SeverityFatal
}

// IsRecoverable reports whether err can be handled locally.
func IsRecoverable(err error) bool {
	return err != nil && SeverityOf(err) == SeverityRecoverable
}

// #endregion classification
