package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed  State = iota // Normal operation, orders flow
	StateOpen                 // Halted, emergency actions running or failed
	StateCooling              // Flattened, waiting out the cooldown
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateCooling:
		return "COOLING"
	default:
		return "UNKNOWN"
	}
}

// EmergencyActions is the flatten surface the breaker fires on trigger.
// Implementations route through admission control and retry but must
// not consult Admit: the breaker acting in emergency mode is exempt
// from itself.
type EmergencyActions interface {
	CancelAllOrders(ctx context.Context) error
	CloseAllPositions(ctx context.Context) error
}

// RiskProvider supplies a fresh risk snapshot for the cooldown
// re-evaluation.
type RiskProvider interface {
	Snapshot(ctx context.Context) (domain.RiskSnapshot, error)
}

// Journal receives breaker state transitions for the audit log.
type Journal interface {
	RecordTransition(from, to, reason string)
}

// Hook is a trigger callback. Hooks run outside the transition lock
// and a panicking hook is logged and skipped, never propagated: a
// broken alert integration must not delay or prevent the halt.
type Hook func(reason string)

// Config holds the breaker thresholds and timings.
type Config struct {
	Limits           domain.RiskLimits
	CooldownPeriod   time.Duration
	EmergencyTimeout time.Duration
}

// Breaker is the process-wide trading kill switch.
//
// The enabled flag is the only thing the hot path touches: Admit is a
// single atomic load and never takes the transition lock. Composite
// transitions (trigger, cooling, reset) serialize on mu, so concurrent
// trigger conditions collapse into one Open transition and one
// emergency batch.
type Breaker struct {
	enabled atomic.Bool

	mu       sync.Mutex
	state    State
	reason   string
	sinceUxM int64
	timer    *time.Timer

	cfg     Config
	actions EmergencyActions
	risk    RiskProvider
	journal Journal
	alerter metrics.Alerter

	hookMu    sync.RWMutex
	preHooks  []Hook
	postHooks []Hook
}

// Status is the breaker's externally visible state.
type Status struct {
	State          string `json:"state"`
	Reason         string `json:"reason,omitempty"`
	SinceUnixM     int64  `json:"since_unix_m"`
	TradingEnabled bool   `json:"trading_enabled"`
}

// New creates a breaker in the Closed state. journal and alerter may
// be nil; actions and risk must not be.
func New(cfg Config, actions EmergencyActions, risk RiskProvider, journal Journal, alerter metrics.Alerter) *Breaker {
	b := &Breaker{
		cfg:     cfg,
		actions: actions,
		risk:    risk,
		journal: journal,
		alerter: alerter,
		state:   StateClosed,
	}
	b.enabled.Store(true)
	b.touchLocked()
	metrics.SetBreakerState(int(StateClosed))
	return b
}

// Admit reports whether order flow may proceed. Non-blocking, a single
// atomic load; false means the caller must surface a trading-halted
// result and must not retry.
func (b *Breaker) Admit() bool {
	return b.enabled.Load()
}

// RegisterPreTriggerHook adds a hook that runs after the halt flag
// flips but before emergency actions start.
func (b *Breaker) RegisterPreTriggerHook(h Hook) {
	b.hookMu.Lock()
	b.preHooks = append(b.preHooks, h)
	b.hookMu.Unlock()
}

// RegisterPostTriggerHook adds a hook that runs after the emergency
// batch settles.
func (b *Breaker) RegisterPostTriggerHook(h Hook) {
	b.hookMu.Lock()
	b.postHooks = append(b.postHooks, h)
	b.hookMu.Unlock()
}

// Evaluate drives Closed→Open when the snapshot breaches a configured
// threshold. No-op while already halted.
func (b *Breaker) Evaluate(ctx context.Context, snap domain.RiskSnapshot) {
	if !b.enabled.Load() {
		return
	}
	if breach := b.cfg.Limits.Breach(snap); breach != "" {
		b.Trigger(ctx, breach)
	}
}

// Trigger forces the breaker Open and runs the emergency batch.
//
// The halt flag flips before any other side effect, so every Admit
// call that starts after Trigger begins observes the halted state.
// Duplicate triggers while already Open are no-ops; a trigger during
// Cooling re-opens and re-runs the batch (the actions are idempotent).
func (b *Breaker) Trigger(ctx context.Context, reason string) {
	b.enabled.Store(false)

	b.mu.Lock()
	if b.state == StateOpen {
		b.mu.Unlock()
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	from := b.state
	b.state = StateOpen
	b.reason = reason
	b.touchLocked()
	b.mu.Unlock()

	slog.Error("CIRCUIT BREAKER TRIPPED", slog.String("reason", reason), slog.String("from", from.String()))
	b.recordTransition(from, StateOpen, reason)
	b.alert(metrics.SeverityCritical, "Circuit breaker tripped", reason)
	b.runHooks(b.snapshotHooks(&b.preHooks), reason)

	failed := b.runEmergencyBatch(ctx, reason)

	b.runHooks(b.snapshotHooks(&b.postHooks), reason)

	if failed {
		// Inability to flatten is never "safe to resume": stay Open
		// until an operator intervenes or a later trigger succeeds.
		return
	}
	b.enterCooling(reason)
}

// runEmergencyBatch cancels all orders and closes all positions
// concurrently. Returns true when a hard failure means the breaker
// must stay Open. A timeout is not a hard failure: the batch did what
// it could and the cooldown re-evaluation will catch leftovers.
func (b *Breaker) runEmergencyBatch(ctx context.Context, reason string) bool {
	timeout := b.cfg.EmergencyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var wg sync.WaitGroup
	var cancelErr, closeErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		cancelErr = b.actions.CancelAllOrders(batchCtx)
	}()
	go func() {
		defer wg.Done()
		closeErr = b.actions.CloseAllPositions(batchCtx)
	}()
	wg.Wait()

	failed := false
	for action, err := range map[string]error{
		"cancel_all_orders":   cancelErr,
		"close_all_positions": closeErr,
	} {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		failed = true
		eerr := &domain.EmergencyActionError{Action: action, Err: err}
		slog.Error("Emergency action failed", slog.String("action", action), slog.Any("error", err))
		b.alert(metrics.SeverityCritical, "Emergency action failed", eerr.Error())
	}
	if batchCtx.Err() != nil {
		slog.Warn("Emergency batch timed out", slog.String("reason", reason), slog.Duration("timeout", timeout))
	}
	return failed
}

func (b *Breaker) enterCooling(reason string) {
	cooldown := b.cfg.CooldownPeriod
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return
	}
	b.state = StateCooling
	b.touchLocked()
	b.timer = time.AfterFunc(cooldown, b.reevaluate)
	b.mu.Unlock()

	slog.Info("Circuit breaker cooling", slog.String("reason", reason), slog.Duration("cooldown", cooldown))
	b.recordTransition(StateOpen, StateCooling, reason)
}

// reevaluate runs when the cooldown elapses. Thresholds clear means
// Closed; still breached means re-Open and re-run the (idempotent)
// emergency batch.
func (b *Breaker) reevaluate() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := b.risk.Snapshot(ctx)
	if err != nil {
		// Blind is not safe. Keep Cooling and ask again in a bit.
		slog.Warn("Risk snapshot failed during cooldown re-evaluation", slog.Any("error", err))
		b.mu.Lock()
		if b.state == StateCooling {
			b.timer = time.AfterFunc(10*time.Second, b.reevaluate)
		}
		b.mu.Unlock()
		return
	}

	if breach := b.cfg.Limits.Breach(snap); breach != "" {
		b.Trigger(ctx, fmt.Sprintf("still breached after cooldown: %s", breach))
		return
	}

	b.mu.Lock()
	if b.state != StateCooling {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	b.reason = ""
	b.touchLocked()
	b.mu.Unlock()
	b.enabled.Store(true)

	slog.Info("Circuit breaker closed, trading resumed")
	b.recordTransition(StateCooling, StateClosed, "cooldown elapsed, thresholds clear")
	b.alert(metrics.SeverityWarning, "Circuit breaker closed", "trading resumed after cooldown")
}

// ManualReset forces the breaker Closed regardless of state. Operator
// escape hatch; bypasses the risk re-evaluation on purpose.
func (b *Breaker) ManualReset() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	from := b.state
	b.state = StateClosed
	b.reason = ""
	b.touchLocked()
	b.mu.Unlock()
	b.enabled.Store(true)

	slog.Warn("Circuit breaker manually reset", slog.String("from", from.String()))
	if from != StateClosed {
		b.recordTransition(from, StateClosed, "manual reset")
	}
}

// State returns the current composite state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status reports the breaker's externally visible state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:          b.state.String(),
		Reason:         b.reason,
		SinceUnixM:     b.sinceUxM,
		TradingEnabled: b.enabled.Load(),
	}
}

func (b *Breaker) touchLocked() {
	b.sinceUxM = time.Now().UnixMicro()
}

func (b *Breaker) snapshotHooks(list *[]Hook) []Hook {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	out := make([]Hook, len(*list))
	copy(out, *list)
	return out
}

func (b *Breaker) runHooks(hooks []Hook, reason string) {
	for i, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Breaker hook panicked", slog.Int("hook", i), slog.Any("panic", r))
				}
			}()
			h(reason)
		}()
	}
}

func (b *Breaker) recordTransition(from, to State, reason string) {
	metrics.IncBreakerTransition(to.String())
	metrics.SetBreakerState(int(to))
	if b.journal != nil {
		b.journal.RecordTransition(from.String(), to.String(), reason)
	}
}

func (b *Breaker) alert(severity, title, detail string) {
	if b.alerter != nil {
		b.alerter.Alert(severity, title, detail)
	}
}
