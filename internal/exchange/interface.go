package exchange

import (
	"context"

	"github.com/OscarNeto021/ROBO/internal/domain"
)

// Limits are the authoritative rate limits reported by the exchange.
type Limits struct {
	WeightPerMinute int64
	OrdersPer10Sec  int64
}

// Client is the exchange order-entry surface this core wraps. One
// logical trading account, one endpoint family.
type Client interface {
	// SubmitOrder places the order described by intent, using the
	// intent's IdempotencyKey as the client order ID.
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error)

	// CancelOrder cancels an order by exchange ID.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// QueryOrderByKey looks an order up by its client order ID.
	// Returns (nil, nil) when no such order exists.
	QueryOrderByKey(ctx context.Context, symbol, idempotencyKey string) (*domain.Order, error)

	// CancelAllOrders cancels every open order on a symbol.
	CancelAllOrders(ctx context.Context, symbol string) error

	// OpenOrders lists open orders, all symbols when symbol is empty.
	OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)

	// Positions lists open positions.
	Positions(ctx context.Context) ([]domain.Position, error)

	// ClosePosition flattens pos with a reduce-only market order.
	ClosePosition(ctx context.Context, pos domain.Position) (*domain.Order, error)

	// Limits fetches the authoritative rate limits.
	Limits(ctx context.Context) (Limits, error)

	// UsedWeight returns the request-weight usage the exchange
	// reported on the most recent response, 0 if unknown.
	UsedWeight() int64
}
