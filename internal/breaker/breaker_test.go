package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OscarNeto021/ROBO/internal/domain"
)

type fakeActions struct {
	mu          sync.Mutex
	cancelCalls int
	closeCalls  int
	cancelErr   error
	closeErr    error
	delay       time.Duration
}

func (f *fakeActions) CancelAllOrders(ctx context.Context) error {
	f.mu.Lock()
	f.cancelCalls++
	err := f.cancelErr
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return err
}

func (f *fakeActions) CloseAllPositions(ctx context.Context) error {
	f.mu.Lock()
	f.closeCalls++
	err := f.closeErr
	f.mu.Unlock()
	return err
}

func (f *fakeActions) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls, f.closeCalls
}

type fakeRisk struct {
	mu   sync.Mutex
	snap domain.RiskSnapshot
	err  error
}

func (f *fakeRisk) Snapshot(ctx context.Context) (domain.RiskSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeRisk) set(snap domain.RiskSnapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeAlerter) Alert(severity, title, detail string) {
	f.mu.Lock()
	f.titles = append(f.titles, title)
	f.mu.Unlock()
}

func (f *fakeAlerter) has(title string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.titles {
		if t == title {
			return true
		}
	}
	return false
}

func testConfig() Config {
	return Config{
		Limits: domain.RiskLimits{
			MaxDrawdownPct:  15,
			MaxDailyLossPct: 5,
			MaxErrorRate:    0.5,
		},
		CooldownPeriod:   50 * time.Millisecond,
		EmergencyTimeout: time.Second,
	}
}

func waitForState(t *testing.T, b *Breaker, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if b.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("breaker never reached %s, stuck at %s", want, b.State())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestAdmitFlipsImmediatelyOnTrigger(t *testing.T) {
	actions := &fakeActions{}
	b := New(testConfig(), actions, &fakeRisk{}, nil, nil)

	if !b.Admit() {
		t.Fatal("new breaker must admit")
	}

	b.Trigger(context.Background(), "manual")

	if b.Admit() {
		t.Fatal("Admit must be false after Trigger returns")
	}
	cancels, closes := actions.calls()
	if cancels != 1 || closes != 1 {
		t.Errorf("emergency batch calls = (%d, %d), want (1, 1)", cancels, closes)
	}
}

func TestConcurrentTriggersCollapseToOneBatch(t *testing.T) {
	actions := &fakeActions{delay: 20 * time.Millisecond}
	cfg := testConfig()
	cfg.CooldownPeriod = time.Hour // keep it out of Closed during the test
	b := New(cfg, actions, &fakeRisk{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Trigger(context.Background(), "concurrent")
		}()
	}
	wg.Wait()

	cancels, closes := actions.calls()
	if cancels != 1 || closes != 1 {
		t.Errorf("concurrent triggers ran %d cancel and %d close batches, want 1 each", cancels, closes)
	}
}

func TestHooksRunAndPanicsAreIsolated(t *testing.T) {
	actions := &fakeActions{}
	b := New(testConfig(), actions, &fakeRisk{}, nil, nil)

	var mu sync.Mutex
	var order []string
	b.RegisterPreTriggerHook(func(reason string) {
		mu.Lock()
		order = append(order, "pre:"+reason)
		mu.Unlock()
	})
	b.RegisterPreTriggerHook(func(string) { panic("broken integration") })
	b.RegisterPostTriggerHook(func(reason string) {
		mu.Lock()
		order = append(order, "post:"+reason)
		mu.Unlock()
	})

	b.Trigger(context.Background(), "hooks")

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "pre:hooks" || order[1] != "post:hooks" {
		t.Errorf("hook order = %v", order)
	}
	if b.Admit() {
		t.Error("panicking hook must not prevent the halt")
	}
}

func TestEmergencyFailureKeepsBreakerOpen(t *testing.T) {
	actions := &fakeActions{closeErr: errors.New("exchange down")}
	alerter := &fakeAlerter{}
	b := New(testConfig(), actions, &fakeRisk{}, nil, alerter)

	b.Trigger(context.Background(), "drawdown")

	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want OPEN after failed flatten", got)
	}
	// Cooldown must never start: wait past it and re-check.
	time.Sleep(120 * time.Millisecond)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state drifted to %s, must stay OPEN", got)
	}
	if b.Admit() {
		t.Error("Admit must stay false while Open")
	}
	if !alerter.has("Emergency action failed") {
		t.Error("emergency failure must raise an alert")
	}
}

func TestCooldownClosesWhenRiskClears(t *testing.T) {
	actions := &fakeActions{}
	risk := &fakeRisk{}
	b := New(testConfig(), actions, risk, nil, nil)

	b.Trigger(context.Background(), "manual")
	if got := b.State(); got != StateCooling {
		t.Fatalf("state = %s, want COOLING after clean flatten", got)
	}
	if b.Admit() {
		t.Fatal("Cooling must still reject order flow")
	}

	waitForState(t, b, StateClosed)
	if !b.Admit() {
		t.Error("Closed breaker must admit again")
	}
}

func TestCooldownReopensWhileStillBreached(t *testing.T) {
	actions := &fakeActions{}
	risk := &fakeRisk{}
	risk.set(domain.RiskSnapshot{DrawdownPct: 20}) // above the 15% limit
	b := New(testConfig(), actions, risk, nil, nil)

	b.Trigger(context.Background(), "drawdown")
	waitForState(t, b, StateCooling)

	// Re-evaluation must re-run the idempotent batch, not close.
	deadline := time.After(2 * time.Second)
	for {
		cancels, _ := actions.calls()
		if cancels >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("breaker never re-ran the emergency batch")
		case <-time.After(2 * time.Millisecond):
		}
	}
	if b.Admit() {
		t.Fatal("still-breached breaker must not admit")
	}

	// Once risk clears, a later re-evaluation closes it.
	risk.set(domain.RiskSnapshot{})
	waitForState(t, b, StateClosed)
}

func TestEvaluateTriggersOnBreach(t *testing.T) {
	actions := &fakeActions{}
	cfg := testConfig()
	cfg.CooldownPeriod = time.Hour
	b := New(cfg, actions, &fakeRisk{}, nil, nil)

	b.Evaluate(context.Background(), domain.RiskSnapshot{DailyLossPct: 2})
	if !b.Admit() {
		t.Fatal("within-bounds snapshot must not trip the breaker")
	}

	b.Evaluate(context.Background(), domain.RiskSnapshot{DailyLossPct: 6})
	if b.Admit() {
		t.Fatal("breaching snapshot must trip the breaker")
	}

	// Further evaluations while halted are no-ops.
	b.Evaluate(context.Background(), domain.RiskSnapshot{DailyLossPct: 10})
	cancels, _ := actions.calls()
	if cancels != 1 {
		t.Errorf("cancel batches = %d, want 1", cancels)
	}
}

func TestManualReset(t *testing.T) {
	actions := &fakeActions{closeErr: errors.New("stuck")}
	b := New(testConfig(), actions, &fakeRisk{}, nil, nil)

	b.Trigger(context.Background(), "manual")
	if b.State() != StateOpen {
		t.Fatal("setup: breaker should be stuck Open")
	}

	b.ManualReset()
	if b.State() != StateClosed || !b.Admit() {
		t.Errorf("after reset: state = %s, admit = %v", b.State(), b.Admit())
	}
}

func TestEmergencyTimeoutStillCools(t *testing.T) {
	actions := &fakeActions{delay: 500 * time.Millisecond}
	cfg := testConfig()
	cfg.EmergencyTimeout = 20 * time.Millisecond
	cfg.CooldownPeriod = time.Hour
	b := New(cfg, actions, &fakeRisk{}, nil, nil)

	start := time.Now()
	b.Trigger(context.Background(), "slow exchange")
	elapsed := time.Since(start)

	if elapsed > 300*time.Millisecond {
		t.Errorf("trigger took %v, emergency timeout not enforced", elapsed)
	}
	if got := b.State(); got != StateCooling {
		t.Errorf("state = %s, want COOLING after timeout (leftovers caught by re-evaluation)", got)
	}
}
