package event

import (
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvAttempt Type = iota + 1
	EvBreakerTransition
	EvLimitResync
	EvEmergencyAction
)

// Event is the interface for all journaled events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// AttemptEvent records one execution attempt of one logical operation.
// Attempts sharing an IdempotencyKey belong to the same intent.
type AttemptEvent struct {
	BaseEvent
	IdempotencyKey string `json:"idempotency_key"`
	Attempt        int    `json:"attempt"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
	StartedUnixM   int64  `json:"started_unix_m"`
}

func (e AttemptEvent) GetType() Type { return EvAttempt }

// BreakerTransitionEvent records a circuit breaker state change.
type BreakerTransitionEvent struct {
	BaseEvent
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

func (e BreakerTransitionEvent) GetType() Type { return EvBreakerTransition }

// LimitResyncEvent records an authoritative limit update from the
// exchange reaching the admission controller.
type LimitResyncEvent struct {
	BaseEvent
	Class    string `json:"class"`
	OldLimit int64  `json:"old_limit"`
	NewLimit int64  `json:"new_limit"`
}

func (e LimitResyncEvent) GetType() Type { return EvLimitResync }

// EmergencyActionEvent records one step of the trigger-time emergency
// sequence: cancel-all or one position close.
type EmergencyActionEvent struct {
	BaseEvent
	Action  string `json:"action"`
	Symbol  string `json:"symbol,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (e EmergencyActionEvent) GetType() Type { return EvEmergencyAction }
