// Package app is the composition root. It builds the safety pipeline
// once at startup and owns its lifecycle; nothing in the tree reaches
// for a global.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/OscarNeto021/ROBO/internal/breaker"
	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/exchange"
	"github.com/OscarNeto021/ROBO/internal/guard"
	"github.com/OscarNeto021/ROBO/internal/infra"
	"github.com/OscarNeto021/ROBO/internal/limiter"
	"github.com/OscarNeto021/ROBO/internal/metrics"
	"github.com/OscarNeto021/ROBO/internal/ops"
	"github.com/OscarNeto021/ROBO/internal/retry"
	"github.com/OscarNeto021/ROBO/internal/storage"
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

const metadataKeyLimits = "exchange_limits"

// App holds the wired components. Construct with Bootstrap, run with
// Run; teardown happens in reverse construction order.
type App struct {
	Config  *infra.Config
	Journal *storage.Journal
	Client  exchange.Client
	Limiter *limiter.Controller
	Breaker *breaker.Breaker
	Guard   *guard.Guard

	poller  *exchange.LimitsPoller
	monitor *guard.RiskMonitor
	ops     *ops.Server
	unlock  func()
}

// persistedLimits is the metadata payload carrying the last known
// authoritative limits across restarts.
type persistedLimits struct {
	WeightPerMinute int64 `json:"weight_per_minute"`
	OrdersPer10Sec  int64 `json:"orders_per_10s"`
}

// attemptRecorder fans attempt records out to the journal and the
// attempts counter.
type attemptRecorder struct {
	journal *storage.Journal
}

func (r attemptRecorder) RecordAttempt(rec domain.AttemptRecord) {
	metrics.IncAttempt(rec.Outcome)
	r.journal.RecordAttempt(rec)
}

// Bootstrap loads config and wires every component. On error nothing
// keeps running; partial construction is torn down.
func Bootstrap() (*App, error) {
	slog.Info("🚀 Bootstrapping robo-guard...")

	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return nil, err
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	mode := strings.ToLower(cfg.Trading.Mode)
	workDir := infra.GetWorkspaceDir()
	dataDir := filepath.Join(workDir, "data", mode)
	if err := infra.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	unlock, err := infra.CreateLockFile(workDir)
	if err != nil {
		return nil, err
	}

	journal, err := storage.OpenJournal(filepath.Join(dataDir, "journal.db"))
	if err != nil {
		unlock()
		return nil, err
	}
	slog.Info("✅ Journal initialized (WAL-mode)", "dir", dataDir, "mode", mode)

	client, err := exchange.NewClient(cfg)
	if err != nil {
		journal.Close()
		unlock()
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Journal: journal,
		Client:  client,
		unlock:  unlock,
	}
	if err := app.wire(); err != nil {
		journal.Close()
		unlock()
		return nil, err
	}
	return app, nil
}

func (a *App) wire() error {
	cfg := a.Config

	weightLimit, orderLimit := a.loadPersistedLimits(cfg.RateLimiter.WeightLimit, cfg.RateLimiter.OrderLimit)
	lim, err := limiter.New(limiter.DefaultLimits(
		weightLimit, orderLimit,
		cfg.RateLimiter.SafetyFactor, cfg.RateLimiter.EmergencyThreshold,
	)...)
	if err != nil {
		return err
	}
	a.Limiter = lim

	exec := retry.New(lim, attemptRecorder{journal: a.Journal})

	pol := guard.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		MinWait:        time.Duration(cfg.Retry.MinWaitMS) * time.Millisecond,
		MaxWait:        time.Duration(cfg.Retry.MaxWaitMS) * time.Millisecond,
		JitterFraction: cfg.Retry.JitterFraction,
	}

	flattener := guard.NewFlattener(lim, exec, a.Client, a.Journal, cfg.Exchange.Symbols, pol)
	provider := guard.NewPositionRiskProvider(a.Client)

	a.Breaker = breaker.New(breaker.Config{
		Limits: domain.RiskLimits{
			MaxDrawdownPct:    cfg.Risk.MaxDrawdownPct,
			MaxDailyLossPct:   cfg.Risk.MaxDailyLossPct,
			MaxPositionMicros: quant.ToPriceMicros(cfg.Risk.MaxPositionSizeUSD),
			MaxErrorRate:      cfg.Risk.MaxErrorRate,
		},
		CooldownPeriod:   time.Duration(cfg.Risk.CooldownPeriodSec) * time.Second,
		EmergencyTimeout: time.Duration(cfg.Risk.EmergencyTimeoutSec) * time.Second,
	}, flattener, provider, a.Journal, metrics.SlogAlerter{})

	a.Guard = guard.New(a.Breaker, lim, exec, a.Client, pol)

	a.poller = exchange.NewLimitsPoller(a.Client, cfg.UpdateInterval(), a.applyLimits)
	a.monitor = guard.NewRiskMonitor(a.Breaker, provider, time.Duration(cfg.Risk.CheckIntervalSec)*time.Second)
	a.ops = ops.NewServer(cfg.Server.Addr, a.Breaker, lim, a.Journal,
		time.Duration(cfg.Server.PushIntervalMS)*time.Millisecond)

	return nil
}

// loadPersistedLimits prefers the last limits the exchange actually
// reported over the configured defaults; a fresh install falls back to
// config until the first poll lands.
func (a *App) loadPersistedLimits(weightLimit, orderLimit int64) (int64, int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := a.Journal.GetMetadata(ctx, metadataKeyLimits)
	if err != nil || raw == "" {
		return weightLimit, orderLimit
	}
	var p persistedLimits
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("Persisted limits unreadable, using config", slog.Any("error", err))
		return weightLimit, orderLimit
	}
	if p.WeightPerMinute > 0 {
		weightLimit = p.WeightPerMinute
	}
	if p.OrdersPer10Sec > 0 {
		orderLimit = p.OrdersPer10Sec
	}
	slog.Info("Restored exchange limits from journal",
		slog.Int64("weight_per_minute", weightLimit),
		slog.Int64("orders_per_10s", orderLimit))
	return weightLimit, orderLimit
}

// applyLimits is the poller callback: resync the admission controller,
// journal the change and persist for the next restart.
func (a *App) applyLimits(l exchange.Limits) {
	if st, ok := a.Limiter.Status(limiter.ClassRequestWeight); ok && st.HardLimit != l.WeightPerMinute {
		a.Journal.RecordResync(limiter.ClassRequestWeight, st.HardLimit, l.WeightPerMinute)
	}
	if st, ok := a.Limiter.Status(limiter.ClassOrderCount); ok && st.HardLimit != l.OrdersPer10Sec {
		a.Journal.RecordResync(limiter.ClassOrderCount, st.HardLimit, l.OrdersPer10Sec)
	}
	a.Limiter.UpdateLimit(limiter.ClassRequestWeight, l.WeightPerMinute)
	a.Limiter.UpdateLimit(limiter.ClassOrderCount, l.OrdersPer10Sec)

	payload, err := json.Marshal(persistedLimits{
		WeightPerMinute: l.WeightPerMinute,
		OrdersPer10Sec:  l.OrdersPer10Sec,
	})
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Journal.UpsertMetadata(ctx, metadataKeyLimits, string(payload), time.Now().UnixMicro()); err != nil {
			slog.Warn("Failed to persist exchange limits", slog.Any("error", err))
		}
	}
}

// sampleGauges refreshes the limiter gauges for Prometheus.
func (a *App) sampleGauges() {
	for _, st := range a.Limiter.Statuses() {
		metrics.SetLimitUsage(st.Class, st.Used, st.Cap)
		metrics.SetEmergencyMode(st.Class, st.Emergency)
	}
}

// Run starts the background loops and blocks until ctx is cancelled,
// then tears everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.poller.Start(ctx); err != nil {
		// Config limits stay in force until the next poll succeeds.
		slog.Warn("Initial limits fetch failed, using configured limits", slog.Any("error", err))
	}
	a.monitor.Start()

	opsErr := make(chan error, 1)
	go func() { opsErr <- a.ops.Start() }()

	gaugeTicker := time.NewTicker(2 * time.Second)
	defer gaugeTicker.Stop()

	slog.Info("✅ robo-guard running",
		slog.String("mode", a.Config.Trading.Mode),
		slog.String("ops_addr", a.Config.Server.Addr))

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-opsErr:
			if err != nil {
				runErr = fmt.Errorf("ops server: %w", err)
			}
			break loop
		case <-gaugeTicker.C:
			a.sampleGauges()
		}
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.ops.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Ops server shutdown failed", slog.Any("error", err))
	}
	a.monitor.Stop()
	a.poller.Stop()
	if rc, ok := a.Client.(*exchange.RESTClient); ok {
		rc.Close() // wipes signing keys
	}
	if err := a.Journal.Close(); err != nil {
		slog.Warn("Journal close failed", slog.Any("error", err))
	}
	a.unlock()

	return runErr
}
