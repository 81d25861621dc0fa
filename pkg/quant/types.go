package quant

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 1.23 USD = 1,230,000 PriceMicros.
type PriceMicros int64

// QtySats represents quantity multiplied by 100,000,000 (10^8).
// E.g., 1.0 BTC = 100,000,000 QtySats.
type QtySats int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1000000
	QtyScale   = 100000000
)

// ToPriceMicros converts a float64 (from external API) to PriceMicros.
// Note: Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float64 to QtySats.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

// Now returns the current time as a TimeStamp.
func Now() TimeStamp {
	return TimeStamp(time.Now().UnixMicro())
}

func (t TimeStamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.6f", float64(p)/PriceScale)
}

func (q QtySats) String() string {
	return fmt.Sprintf("%.8f", float64(q)/QtyScale)
}

// Notional returns price * qty as PriceMicros.
// Computed in float64; sub-micro rounding is acceptable for risk sizing.
func Notional(p PriceMicros, q QtySats) PriceMicros {
	return PriceMicros(math.Round(float64(p) * float64(q) / QtyScale))
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}
