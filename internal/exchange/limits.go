package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLimitsInterval is how often the exchange's published rate
// limits are re-fetched when config does not say otherwise.
const DefaultLimitsInterval = 5 * time.Minute

// LimitsPoller keeps the admission controller synchronized with the
// exchange's published rate limits. The exchange can change limits
// without notice; polling exchangeInfo is the only way to find out.
type LimitsPoller struct {
	client   Client
	interval time.Duration
	onUpdate func(Limits)

	mu     sync.Mutex
	last   Limits
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLimitsPoller creates a poller. onUpdate fires only when the
// fetched limits differ from the previous fetch.
func NewLimitsPoller(client Client, interval time.Duration, onUpdate func(Limits)) *LimitsPoller {
	if interval <= 0 {
		interval = DefaultLimitsInterval
	}
	return &LimitsPoller{
		client:   client,
		interval: interval,
		onUpdate: onUpdate,
	}
}

// Start fetches once synchronously, then polls in the background.
// The initial fetch error is returned so startup can fall back to
// configured limits instead of running blind.
func (p *LimitsPoller) Start(ctx context.Context) error {
	initialErr := p.fetch(ctx)

	pollCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				if err := p.fetch(pollCtx); err != nil {
					slog.Warn("Exchange limits fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return initialErr
}

func (p *LimitsPoller) fetch(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s
			delay := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		limits, err := p.client.Limits(ctx)
		if err != nil {
			lastErr = err
			slog.Warn("Exchange limits fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
			continue
		}
		p.apply(limits)
		return nil
	}
	return lastErr
}

func (p *LimitsPoller) apply(limits Limits) {
	p.mu.Lock()
	changed := limits != p.last
	p.last = limits
	p.mu.Unlock()

	if changed {
		slog.Info("Exchange limits updated",
			slog.Int64("weight_per_minute", limits.WeightPerMinute),
			slog.Int64("orders_per_10s", limits.OrdersPer10Sec),
		)
		if p.onUpdate != nil {
			p.onUpdate(limits)
		}
	}
}

// Last returns the most recently fetched limits, zero before the
// first successful fetch.
func (p *LimitsPoller) Last() Limits {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Stop stops the polling.
func (p *LimitsPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
