package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OscarNeto021/ROBO/internal/domain"
)

// Resource classes tracked against exchange-imposed limits.
const (
	ClassRequestWeight = "request-weight"
	ClassOrderCount    = "order-count"
)

// emergencyReduction further shrinks the effective cap while emergency
// mode is active; emergencyClearFraction is the usage fraction below
// which emergency mode deactivates.
const (
	emergencyReduction     = 0.7
	emergencyClearFraction = 0.7
)

// Limit configures one resource class.
type Limit struct {
	Class              string
	HardLimit          int64
	Window             time.Duration
	SafetyFactor       float64 // fraction of HardLimit usable
	EmergencyThreshold float64 // usage fraction that activates emergency mode
}

// Status is a non-blocking snapshot of one class, for observability.
type Status struct {
	Class     string `json:"class"`
	Used      int64  `json:"used"`
	Cap       int64  `json:"cap"`
	HardLimit int64  `json:"hard_limit"`
	Emergency bool   `json:"emergency"`
}

type classState struct {
	mu                 sync.Mutex
	window             *Window
	hardLimit          int64
	safety             float64
	emergencyThreshold float64
	emergency          atomic.Bool
}

// Controller is the admission controller: it tracks request cost
// against sliding windows per resource class and delays callers until
// capacity is available. It never exceeds the effective cap and never
// fails for legitimate back-pressure; it only delays.
//
// Each class has its own lock; blocking one caller never blocks
// another class's accounting.
type Controller struct {
	classes map[string]*classState
}

// New creates a Controller for the given resource classes.
func New(limits ...Limit) (*Controller, error) {
	if len(limits) == 0 {
		return nil, &domain.ConfigError{Field: "limits", Reason: "no resource classes configured"}
	}

	classes := make(map[string]*classState, len(limits))
	for _, l := range limits {
		if l.HardLimit <= 0 {
			return nil, &domain.ConfigError{Field: l.Class, Reason: "hard limit must be positive"}
		}
		if l.Window <= 0 {
			return nil, &domain.ConfigError{Field: l.Class, Reason: "window duration must be positive"}
		}
		if l.SafetyFactor <= 0 || l.SafetyFactor > 1 {
			return nil, &domain.ConfigError{Field: l.Class, Reason: "safety factor must be in (0,1]"}
		}
		if int64(float64(l.HardLimit)*l.SafetyFactor) < 1 {
			return nil, &domain.ConfigError{Field: l.Class, Reason: "effective cap below 1, nothing could ever be admitted"}
		}
		if _, dup := classes[l.Class]; dup {
			return nil, &domain.ConfigError{Field: l.Class, Reason: "duplicate resource class"}
		}
		classes[l.Class] = &classState{
			window:             NewWindow(l.Window),
			hardLimit:          l.HardLimit,
			safety:             l.SafetyFactor,
			emergencyThreshold: l.EmergencyThreshold,
		}
	}
	return &Controller{classes: classes}, nil
}

// DefaultLimits returns the standard order-entry limit set:
// request weight per minute and order count per 10 seconds.
func DefaultLimits(weightLimit, orderLimit int64, safety, emergencyThreshold float64) []Limit {
	return []Limit{
		{
			Class:              ClassRequestWeight,
			HardLimit:          weightLimit,
			Window:             time.Minute,
			SafetyFactor:       safety,
			EmergencyThreshold: emergencyThreshold,
		},
		{
			Class:              ClassOrderCount,
			HardLimit:          orderLimit,
			Window:             10 * time.Second,
			SafetyFactor:       safety,
			EmergencyThreshold: emergencyThreshold,
		},
	}
}

// Acquire blocks until `cost` units of the class's capacity are
// available, records the cost and returns the elapsed wait (0 when
// capacity was immediately available).
//
// A cost that can never fit is a fatal configuration error, returned
// immediately. If ctx expires before capacity frees, Acquire returns a
// BackPressureError and the cost is NOT recorded.
func (c *Controller) Acquire(ctx context.Context, class string, cost int64) (time.Duration, error) {
	cs, ok := c.classes[class]
	if !ok {
		return 0, &domain.ConfigError{Field: class, Reason: "unknown resource class"}
	}
	if cost <= 0 {
		return 0, &domain.ConfigError{Field: class, Reason: fmt.Sprintf("cost must be positive, got %d", cost)}
	}

	var waited time.Duration
	for {
		cs.mu.Lock()
		now := time.Now()
		agg := cs.window.Aggregate(now)
		cs.updateEmergency(class, agg)

		baseCap := int64(float64(cs.hardLimit) * cs.safety)
		if cost > baseCap {
			cs.mu.Unlock()
			return waited, &domain.ConfigError{
				Field:  class,
				Reason: fmt.Sprintf("request cost %d exceeds effective cap %d, can never be admitted", cost, baseCap),
			}
		}

		effCap := baseCap
		if cs.emergency.Load() {
			effCap = int64(float64(baseCap) * emergencyReduction)
			if effCap < cost {
				// Never let the emergency reduction wedge a legal
				// request forever; it still fits the base cap.
				effCap = cost
			}
		}

		if agg+cost <= effCap {
			cs.window.Record(now, cost)
			cs.mu.Unlock()
			return waited, nil
		}

		wait := cs.window.TimeUntilFree(now, agg+cost-effCap)
		cs.mu.Unlock()

		if wait > 5*time.Second {
			slog.Warn("rate limit: waiting for capacity",
				slog.String("class", class),
				slog.Int64("cost", cost),
				slog.Duration("wait", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, &domain.BackPressureError{Class: class, Waited: waited, Err: ctx.Err()}
		case <-timer.C:
			waited += wait
		}
	}
}

// updateEmergency flips the class's emergency flag based on usage.
// Must be called with cs.mu held.
func (cs *classState) updateEmergency(class string, agg int64) {
	if cs.emergencyThreshold <= 0 {
		return
	}
	threshold := float64(cs.hardLimit) * cs.emergencyThreshold
	switch {
	case float64(agg) >= threshold:
		if cs.emergency.CompareAndSwap(false, true) {
			slog.Warn("rate limiter entering emergency mode",
				slog.String("class", class),
				slog.Int64("used", agg),
				slog.Int64("hard_limit", cs.hardLimit))
		}
	case float64(agg) < float64(cs.hardLimit)*emergencyClearFraction:
		if cs.emergency.CompareAndSwap(true, false) {
			slog.Info("rate limiter leaving emergency mode",
				slog.String("class", class),
				slog.Int64("used", agg))
		}
	}
}

// Status returns a non-blocking snapshot of one class.
func (c *Controller) Status(class string) (Status, bool) {
	cs, ok := c.classes[class]
	if !ok {
		return Status{}, false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	used := cs.window.Aggregate(time.Now())
	return Status{
		Class:     class,
		Used:      used,
		Cap:       int64(float64(cs.hardLimit) * cs.safety),
		HardLimit: cs.hardLimit,
		Emergency: cs.emergency.Load(),
	}, true
}

// Statuses returns snapshots of every class.
func (c *Controller) Statuses() []Status {
	out := make([]Status, 0, len(c.classes))
	for class := range c.classes {
		if st, ok := c.Status(class); ok {
			out = append(out, st)
		}
	}
	return out
}

// UpdateLimit resyncs a class's hard limit from the authoritative
// source (exchange info). Already-recorded usage is never reset.
func (c *Controller) UpdateLimit(class string, hardLimit int64) {
	cs, ok := c.classes[class]
	if !ok || hardLimit <= 0 {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.hardLimit != hardLimit {
		slog.Info("rate limit updated",
			slog.String("class", class),
			slog.Int64("old", cs.hardLimit),
			slog.Int64("new", hardLimit))
		cs.hardLimit = hardLimit
	}
}

// ReconcileUsage folds server-reported usage into the local window.
// When the exchange reports more usage than we have tracked (another
// process, a restart), the difference is recorded as a synthetic
// sample: the larger of the two views always wins.
func (c *Controller) ReconcileUsage(class string, serverUsed int64) {
	cs, ok := c.classes[class]
	if !ok || serverUsed <= 0 {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	now := time.Now()
	local := cs.window.Aggregate(now)
	if serverUsed > local {
		cs.window.Record(now, serverUsed-local)
		slog.Debug("reconciled rate-limit usage from server",
			slog.String("class", class),
			slog.Int64("local", local),
			slog.Int64("server", serverUsed))
	}
}

// EmergencyActive reports whether any class is in emergency mode.
// The retry executor consults this to pick more conservative delays.
func (c *Controller) EmergencyActive() bool {
	for _, cs := range c.classes {
		if cs.emergency.Load() {
			return true
		}
	}
	return false
}
