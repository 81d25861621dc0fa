package exchange

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/OscarNeto021/ROBO/internal/infra"
)

// Mode represents the trading execution mode
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeReal  Mode = "REAL"
)

// NewClient returns the Client implementation for the configured mode.
func NewClient(cfg *infra.Config) (Client, error) {
	mode := Mode(cfg.Trading.Mode)

	slog.Info("Initializing exchange client", "mode", mode)

	switch mode {
	case ModePaper:
		return NewMockClient(), nil

	case ModeReal:
		// Real Trading: SAFETY LATCH CHECK
		if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
			return nil, fmt.Errorf("SAFETY_GUARD: Real trading requires 'CONFIRM_REAL_MONEY=true' environment variable")
		}
		slog.Info("🚨🚨🚨 Connecting to REAL exchange (Mainnet) 🚨🚨🚨")
		return NewRESTClient(cfg), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}
