package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/OscarNeto021/ROBO/internal/breaker"
	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/exchange"
)

// PositionRiskProvider builds risk snapshots from live exchange state.
// It covers the position-size dimension itself; drawdown, daily loss
// and error rate come from an external equity tracker when one is
// wired, via the Augment callback.
type PositionRiskProvider struct {
	client exchange.Client

	mu      sync.Mutex
	augment func(*domain.RiskSnapshot)
}

func NewPositionRiskProvider(client exchange.Client) *PositionRiskProvider {
	return &PositionRiskProvider{client: client}
}

// SetAugment installs a callback that fills the snapshot fields this
// provider cannot compute on its own.
func (p *PositionRiskProvider) SetAugment(fn func(*domain.RiskSnapshot)) {
	p.mu.Lock()
	p.augment = fn
	p.mu.Unlock()
}

// Snapshot reads the current positions directly from the client. It
// intentionally bypasses guard admission: the breaker calls this while
// the window may be saturated, and a risk read must not queue behind
// order flow.
func (p *PositionRiskProvider) Snapshot(ctx context.Context) (domain.RiskSnapshot, error) {
	positions, err := p.client.Positions(ctx)
	if err != nil {
		return domain.RiskSnapshot{}, err
	}

	snap := domain.RiskSnapshot{TakenUnixM: time.Now().UnixMicro()}
	for i := range positions {
		if n := positions[i].Notional(); n > snap.PositionMicros {
			snap.PositionMicros = n
		}
	}

	p.mu.Lock()
	augment := p.augment
	p.mu.Unlock()
	if augment != nil {
		augment(&snap)
	}
	return snap, nil
}

// RiskMonitor periodically feeds fresh snapshots to the breaker.
type RiskMonitor struct {
	breaker  *breaker.Breaker
	provider breaker.RiskProvider
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRiskMonitor(b *breaker.Breaker, provider breaker.RiskProvider, interval time.Duration) *RiskMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RiskMonitor{breaker: b, provider: provider, interval: interval}
}

// Start begins the evaluation loop.
func (m *RiskMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := m.provider.Snapshot(ctx)
				if err != nil {
					slog.Warn("Risk snapshot failed", slog.Any("error", err))
					continue
				}
				m.breaker.Evaluate(ctx, snap)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (m *RiskMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
}
