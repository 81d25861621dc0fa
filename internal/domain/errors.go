package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTradingHalted is returned when the circuit breaker is Open or
// Cooling. Callers must not retry the intent; resubmitting is only
// legal after the breaker closes again.
var ErrTradingHalted = errors.New("trading halted by circuit breaker")

// BackPressureError is returned when an admission wait was cut short by
// the caller's context. Capacity was never granted; the caller may try
// again later.
type BackPressureError struct {
	Class  string
	Waited time.Duration
	Err    error
}

func (e *BackPressureError) Error() string {
	return fmt.Sprintf("back-pressure on %q after %s: %v", e.Class, e.Waited, e.Err)
}

func (e *BackPressureError) Unwrap() error { return e.Err }

// ConfigError is a fatal configuration inconsistency, detected at
// startup or on first use. Not recoverable at runtime.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fatal configuration: %s: %s", e.Field, e.Reason)
}

// TransientError marks a failure as retryable: network errors,
// timeouts, exchange-side 5xx and rate-limit responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure as non-retryable, e.g. invalid order
// parameters rejected by the exchange.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// ExhaustedError wraps the last error after all retry attempts failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// EmergencyActionError reports a cancel/close action that failed during
// a breaker trigger. The breaker stays Open when it sees one.
type EmergencyActionError struct {
	Action string
	Err    error
}

func (e *EmergencyActionError) Error() string {
	return fmt.Sprintf("emergency action %q failed: %v", e.Action, e.Err)
}

func (e *EmergencyActionError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as non-retryable. Returns nil for nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsTransient reports whether err is classified retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is classified non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
