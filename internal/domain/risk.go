package domain

import (
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

// RiskSnapshot is a read-only view of current account risk, produced by
// an external risk/metrics collaborator. The breaker only reads it.
type RiskSnapshot struct {
	DrawdownPct     float64 // peak-to-now equity drop, percent
	DailyLossPct    float64 // realized+unrealized loss today, percent (positive = loss)
	PositionMicros  quant.PriceMicros // largest single-position notional
	ErrorRate       float64 // fraction of recent attempts that failed
	TakenUnixM      int64
}

// RiskLimits are the thresholds that trip the circuit breaker.
type RiskLimits struct {
	MaxDrawdownPct    float64
	MaxDailyLossPct   float64
	MaxPositionMicros quant.PriceMicros
	MaxErrorRate      float64
}

// Breach returns a human-readable reason if the snapshot violates any
// limit, or "" if trading is within bounds.
func (l RiskLimits) Breach(s RiskSnapshot) string {
	switch {
	case l.MaxDrawdownPct > 0 && s.DrawdownPct >= l.MaxDrawdownPct:
		return "max drawdown exceeded"
	case l.MaxDailyLossPct > 0 && s.DailyLossPct >= l.MaxDailyLossPct:
		return "max daily loss exceeded"
	case l.MaxPositionMicros > 0 && s.PositionMicros >= l.MaxPositionMicros:
		return "max position size exceeded"
	case l.MaxErrorRate > 0 && s.ErrorRate >= l.MaxErrorRate:
		return "error rate exceeded"
	}
	return ""
}
