// Integration smoke test: drives the full safety pipeline against the
// in-memory exchange. No network, no keys; run it to see admission,
// retry, reconciliation and the breaker working end to end.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/OscarNeto021/ROBO/internal/breaker"
	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/exchange"
	"github.com/OscarNeto021/ROBO/internal/guard"
	"github.com/OscarNeto021/ROBO/internal/limiter"
	"github.com/OscarNeto021/ROBO/internal/retry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting pipeline integration test (PAPER)...")

	client := exchange.NewMockClient()
	client.SetPositions([]domain.Position{
		{Symbol: "BTCUSDT", Side: domain.SideBuy, QtySats: 100_000_000, MarkPriceMicros: 50_000_000_000},
	})

	lim, err := limiter.New(limiter.DefaultLimits(1200, 50, 0.8, 0.9)...)
	if err != nil {
		slog.Error("❌ limiter", slog.Any("error", err))
		os.Exit(1)
	}
	exec := retry.New(lim, nil)

	pol := guard.Policy{
		MaxAttempts:    3,
		MinWait:        100 * time.Millisecond,
		MaxWait:        2 * time.Second,
		JitterFraction: 0.2,
	}
	flattener := guard.NewFlattener(lim, exec, client, nil, []string{"BTCUSDT"}, pol)
	b := breaker.New(breaker.Config{
		Limits:           domain.RiskLimits{MaxDrawdownPct: 15},
		CooldownPeriod:   2 * time.Second,
		EmergencyTimeout: 10 * time.Second,
	}, flattener, guard.NewPositionRiskProvider(client), nil, nil)
	g := guard.New(b, lim, exec, client, pol)

	ctx := context.Background()

	// 1. Plain submission.
	ord, err := g.PlaceOrder(ctx, domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		PriceMicros: 49_000_000_000, QtySats: 10_000_000,
	})
	if err != nil {
		slog.Error("❌ PlaceOrder", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("✅ Order placed", "id", ord.ID, "key", ord.ClientOrderID)

	// 2. Transient failure with server-side acceptance: the retry
	// layer must reconcile instead of resubmitting.
	client.FailSubmits = 1
	client.RegisterOnFailure = true
	ord, err = g.PlaceOrder(ctx, domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.TypeLimit,
		PriceMicros: 51_000_000_000, QtySats: 10_000_000,
	})
	if err != nil {
		slog.Error("❌ PlaceOrder with lost response", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("✅ Lost response recovered", "id", ord.ID, "reconciled", ord.Reconciled)

	// 3. Trip the breaker and watch the book flatten.
	b.Trigger(ctx, "integration test halt")
	if _, err := g.PlaceOrder(ctx, domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeMarket, QtySats: 1,
	}); err != domain.ErrTradingHalted {
		slog.Error("❌ Expected ErrTradingHalted", slog.Any("error", err))
		os.Exit(1)
	}
	open, _ := client.OpenOrders(ctx, "")
	positions, _ := client.Positions(ctx)
	slog.Info("✅ Breaker tripped and flattened", "open_orders", len(open), "positions", len(positions))

	// 4. Cooldown with clear risk closes the breaker again.
	deadline := time.Now().Add(10 * time.Second)
	for !b.Admit() {
		if time.Now().After(deadline) {
			slog.Error("❌ Breaker never closed after cooldown")
			os.Exit(1)
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Info("✅ Breaker closed after cooldown, trading resumed")

	slog.Info("🎉 Integration smoke test passed")
}
