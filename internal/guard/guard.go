// Package guard composes the safety layers into the single object
// order flow goes through: breaker admit, admission control, retried
// execution against the exchange client.
package guard

import (
	"context"
	"time"

	"github.com/OscarNeto021/ROBO/internal/breaker"
	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/exchange"
	"github.com/OscarNeto021/ROBO/internal/limiter"
	"github.com/OscarNeto021/ROBO/internal/metrics"
	"github.com/OscarNeto021/ROBO/internal/retry"
)

// Request weights per endpoint, matching the exchange's published
// weight table.
const (
	weightOrder      = 1
	weightCancel     = 1
	weightQueryOrder = 1
	weightCancelAll  = 1
	weightOpenOrders = 40 // all-symbols listing
	weightPositions  = 5
)

// Policy carries the retry bounds applied to every guarded call.
type Policy struct {
	MaxAttempts    int
	MinWait        time.Duration
	MaxWait        time.Duration
	JitterFraction float64
}

// Guard is the explicit context object constructed once at startup and
// handed to every caller. There are no package-level singletons; the
// composition root owns the lifecycle.
type Guard struct {
	breaker *breaker.Breaker
	limiter *limiter.Controller
	exec    *retry.Executor
	client  exchange.Client
	pol     Policy
}

// New wires the pipeline. All collaborators are required.
func New(b *breaker.Breaker, lim *limiter.Controller, exec *retry.Executor, client exchange.Client, pol Policy) *Guard {
	return &Guard{
		breaker: b,
		limiter: lim,
		exec:    exec,
		client:  client,
		pol:     pol,
	}
}

// Breaker exposes the breaker for the ops surface.
func (g *Guard) Breaker() *breaker.Breaker { return g.breaker }

// Limiter exposes the admission controller for the ops surface.
func (g *Guard) Limiter() *limiter.Controller { return g.limiter }

func (g *Guard) retryPolicy(class string, cost int64) retry.Policy {
	return retry.Policy{
		MaxAttempts:    g.pol.MaxAttempts,
		MinWait:        g.pol.MinWait,
		MaxWait:        g.pol.MaxWait,
		JitterFraction: g.pol.JitterFraction,
		Class:          class,
		Cost:           cost,
	}
}

// acquire admits cost against one class and feeds the wait histogram.
func (g *Guard) acquire(ctx context.Context, class string, cost int64) error {
	waited, err := g.limiter.Acquire(ctx, class, cost)
	if err != nil {
		return err
	}
	metrics.ObserveAdmissionWait(class, waited.Seconds())
	return nil
}

// PlaceOrder runs one order intent through the full pipeline. An empty
// IdempotencyKey is filled in; a caller-supplied key is kept verbatim
// so resubmissions of the same intent stay deduplicated.
func (g *Guard) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	if !g.breaker.Admit() {
		return nil, domain.ErrTradingHalted
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = retry.NewIdempotencyKey(intent.Symbol, intent.Side)
	}

	if err := g.acquire(ctx, limiter.ClassOrderCount, 1); err != nil {
		return nil, err
	}
	if err := g.acquire(ctx, limiter.ClassRequestWeight, weightOrder); err != nil {
		return nil, err
	}

	ord, err := retry.DoOrder(ctx, g.exec, intent.IdempotencyKey,
		g.retryPolicy(limiter.ClassRequestWeight, weightOrder),
		func(ctx context.Context) (*domain.Order, error) {
			return g.client.SubmitOrder(ctx, intent)
		},
		func(ctx context.Context) (*domain.Order, error) {
			return g.client.QueryOrderByKey(ctx, intent.Symbol, intent.IdempotencyKey)
		},
	)
	g.reconcileWeight()
	return ord, err
}

// CancelOrder cancels one order through the pipeline.
func (g *Guard) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if !g.breaker.Admit() {
		return domain.ErrTradingHalted
	}
	if err := g.acquire(ctx, limiter.ClassRequestWeight, weightCancel); err != nil {
		return err
	}

	_, err := retry.Do(ctx, g.exec, "cancel_"+orderID,
		g.retryPolicy(limiter.ClassRequestWeight, weightCancel),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.client.CancelOrder(ctx, symbol, orderID)
		},
	)
	g.reconcileWeight()
	return err
}

// QueryOrder fetches an order by its idempotency key. Queries are not
// order-affecting, so the breaker does not gate them: status readers
// keep working through a halt.
func (g *Guard) QueryOrder(ctx context.Context, symbol, key string) (*domain.Order, error) {
	if err := g.acquire(ctx, limiter.ClassRequestWeight, weightQueryOrder); err != nil {
		return nil, err
	}
	ord, err := retry.Do(ctx, g.exec, "query_"+key,
		g.retryPolicy(limiter.ClassRequestWeight, weightQueryOrder),
		func(ctx context.Context) (*domain.Order, error) {
			return g.client.QueryOrderByKey(ctx, symbol, key)
		},
	)
	g.reconcileWeight()
	return ord, err
}

// OpenOrders lists open orders through the pipeline.
func (g *Guard) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	if err := g.acquire(ctx, limiter.ClassRequestWeight, weightOpenOrders); err != nil {
		return nil, err
	}
	orders, err := retry.Do(ctx, g.exec, "open_orders",
		g.retryPolicy(limiter.ClassRequestWeight, weightOpenOrders),
		func(ctx context.Context) ([]domain.Order, error) {
			return g.client.OpenOrders(ctx, symbol)
		},
	)
	g.reconcileWeight()
	return orders, err
}

// Positions lists open positions through the pipeline.
func (g *Guard) Positions(ctx context.Context) ([]domain.Position, error) {
	if err := g.acquire(ctx, limiter.ClassRequestWeight, weightPositions); err != nil {
		return nil, err
	}
	positions, err := retry.Do(ctx, g.exec, "positions",
		g.retryPolicy(limiter.ClassRequestWeight, weightPositions),
		func(ctx context.Context) ([]domain.Position, error) {
			return g.client.Positions(ctx)
		},
	)
	g.reconcileWeight()
	return positions, err
}

// reconcileWeight pulls the server-reported usage into the local
// window. The server's number wins when it is larger; local samples
// win otherwise, so a stale header never frees capacity early.
func (g *Guard) reconcileWeight() {
	if used := g.client.UsedWeight(); used > 0 {
		g.limiter.ReconcileUsage(limiter.ClassRequestWeight, used)
	}
}
