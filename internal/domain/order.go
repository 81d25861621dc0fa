package domain

import (
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

// Order sides and types. The exchange wire format uses the same strings.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeLimit  = "LIMIT"
	TypeMarket = "MARKET"
)

// Order statuses as reported by the exchange.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// OrderIntent is one logical order as produced by a strategy.
// IdempotencyKey is generated once per intent and never changes across
// retry attempts; it is the sole guard against duplicate placement.
type OrderIntent struct {
	Symbol         string
	Side           string // "BUY", "SELL"
	Type           string // "LIMIT", "MARKET"
	PriceMicros    quant.PriceMicros // 0 for MARKET orders
	QtySats        quant.QtySats
	IdempotencyKey string
}

// Order is the exchange's view of a submitted order.
// All monetary values are strictly int64.
type Order struct {
	ID             string
	ClientOrderID  string // echoes the intent's IdempotencyKey
	Symbol         string
	Side           string
	Type           string
	PriceMicros    quant.PriceMicros
	QtySats        quant.QtySats
	FilledQtySats  quant.QtySats
	Status         string
	CreatedUnixM   int64 // Unix Microseconds
	Reconciled     bool  // true when recovered via idempotency lookup, not a fresh submission
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return o.Status == StatusNew || o.Status == StatusPartiallyFilled
}

// Position is an open position on the exchange.
type Position struct {
	Symbol           string
	Side             string // "BUY" means long, "SELL" means short
	QtySats          quant.QtySats
	EntryPriceMicros quant.PriceMicros
	MarkPriceMicros  quant.PriceMicros
}

// Notional returns the position's current value.
func (p *Position) Notional() quant.PriceMicros {
	n := quant.Notional(p.MarkPriceMicros, p.QtySats)
	if n < 0 {
		n = -n
	}
	return n
}

// CloseSide returns the order side that flattens this position.
func (p *Position) CloseSide() string {
	if p.Side == SideBuy {
		return SideSell
	}
	return SideBuy
}
