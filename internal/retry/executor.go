package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/infra"
)

// Pacer is the slice of the admission controller the executor needs:
// re-attempts are real API calls and must be admitted like any other,
// and emergency mode makes backoff more conservative.
type Pacer interface {
	Acquire(ctx context.Context, class string, cost int64) (time.Duration, error)
	EmergencyActive() bool
}

// Recorder receives one AttemptRecord per attempt. Implementations
// must be non-blocking; the retry path never waits on them.
type Recorder interface {
	RecordAttempt(rec domain.AttemptRecord)
}

// NopRecorder discards attempt records.
type NopRecorder struct{}

func (NopRecorder) RecordAttempt(domain.AttemptRecord) {}

// Policy bounds one retried operation.
type Policy struct {
	MaxAttempts    int
	MinWait        time.Duration
	MaxWait        time.Duration
	JitterFraction float64

	// Class/Cost charge re-attempts against the admission controller.
	// Empty Class skips pacing (used by operations whose caller has
	// already paid for every attempt).
	Class string
	Cost  int64
}

// Executor wraps exchange calls with bounded exponential-backoff retry
// and idempotency bookkeeping.
type Executor struct {
	pacer Pacer
	rec   Recorder
}

// New creates an executor. rec may be nil.
func New(pacer Pacer, rec Recorder) *Executor {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Executor{pacer: pacer, rec: rec}
}

// Do invokes op with retry under pol. Only errors classified transient
// are retried; fatal errors and breaker-halt rejections propagate on
// the first attempt. After MaxAttempts the last error is returned
// wrapped in an ExhaustedError.
func Do[T any](ctx context.Context, e *Executor, key string, pol Policy, op func(context.Context) (T, error)) (T, error) {
	return invoke(ctx, e, key, pol, op, nil)
}

// DoOrder is Do for order submissions: before every re-attempt it
// first reconciles by looking the idempotency key up on the exchange.
// A prior attempt may have succeeded server-side even though the local
// call failed (e.g. a timeout after the order was accepted); in that
// case the existing order is returned instead of resubmitting.
func DoOrder(ctx context.Context, e *Executor, key string, pol Policy,
	submit func(context.Context) (*domain.Order, error),
	lookup func(context.Context) (*domain.Order, error),
) (*domain.Order, error) {
	reconcile := func(ctx context.Context) (*domain.Order, bool) {
		ord, err := lookup(ctx)
		if err != nil {
			slog.Warn("idempotency reconciliation failed, will resubmit",
				slog.String("key", key), slog.Any("error", err))
			return nil, false
		}
		if ord == nil {
			return nil, false
		}
		ord.Reconciled = true
		return ord, true
	}
	return invoke(ctx, e, key, pol, submit, reconcile)
}

func invoke[T any](ctx context.Context, e *Executor, key string, pol Policy,
	op func(context.Context) (T, error),
	reconcile func(context.Context) (T, bool),
) (T, error) {
	var zero T
	var lastErr error

	if pol.MaxAttempts < 1 {
		return zero, &domain.ConfigError{Field: "retry.max_attempts", Reason: "must be >= 1"}
	}

	for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
		if attempt > 1 {
			// The prior attempt may have succeeded server-side.
			if reconcile != nil {
				if res, found := reconcile(ctx); found {
					e.record(key, attempt, domain.OutcomeReconciled, nil)
					return res, nil
				}
			}

			// Re-attempts are real API calls: pay for admission.
			if pol.Class != "" {
				if _, err := e.pacer.Acquire(ctx, pol.Class, pol.Cost); err != nil {
					return zero, fmt.Errorf("pacing attempt %d: %w", attempt, err)
				}
			}
		}

		started := time.Now()
		res, err := op(ctx)
		if err == nil {
			e.recordAt(started, key, attempt, domain.OutcomeSuccess, nil)
			return res, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			e.recordAt(started, key, attempt, domain.OutcomeFatal, err)
			return zero, err
		}
		e.recordAt(started, key, attempt, domain.OutcomeTransient, err)

		if attempt == pol.MaxAttempts {
			break
		}

		delay := e.delay(attempt, pol)
		slog.Warn("transient failure, backing off",
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	e.record(key, pol.MaxAttempts, domain.OutcomeExhausted, lastErr)
	return zero, &domain.ExhaustedError{Attempts: pol.MaxAttempts, Err: lastErr}
}

// delay computes the jittered exponential backoff for the given
// attempt. While the limiter is in emergency mode the full MaxWait is
// used: hammering a saturated API is never the right move.
func (e *Executor) delay(attempt int, pol Policy) time.Duration {
	d := infra.Backoff(attempt, pol.MinWait, pol.MaxWait)
	if e.pacer != nil && e.pacer.EmergencyActive() {
		d = pol.MaxWait
	}
	if pol.JitterFraction > 0 {
		d += time.Duration(rand.Float64() * pol.JitterFraction * float64(d))
	}
	return d
}

func (e *Executor) record(key string, attempt int, outcome string, err error) {
	e.recordAt(time.Now(), key, attempt, outcome, err)
}

func (e *Executor) recordAt(started time.Time, key string, attempt int, outcome string, err error) {
	rec := domain.AttemptRecord{
		IdempotencyKey: key,
		Attempt:        attempt,
		StartedUnixM:   started.UnixMicro(),
		Outcome:        outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.rec.RecordAttempt(rec)
}
