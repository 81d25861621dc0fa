package guard

import (
	"context"
	"errors"
	"sync"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/exchange"
	"github.com/OscarNeto021/ROBO/internal/limiter"
	"github.com/OscarNeto021/ROBO/internal/retry"
)

// EmergencyJournal records each step of the flatten sequence.
type EmergencyJournal interface {
	RecordEmergency(action, symbol string, actionErr error)
}

// Flattener implements the breaker's emergency actions. Its calls ride
// the admission controller and the retry executor like any other, but
// deliberately skip the breaker's Admit gate: the breaker flattening
// the book is exempt from its own halt.
type Flattener struct {
	limiter *limiter.Controller
	exec    *retry.Executor
	client  exchange.Client
	journal EmergencyJournal
	symbols []string
	pol     Policy
}

// NewFlattener builds the emergency action set. symbols is the set of
// markets to cancel orders on; journal may be nil.
func NewFlattener(lim *limiter.Controller, exec *retry.Executor, client exchange.Client, journal EmergencyJournal, symbols []string, pol Policy) *Flattener {
	return &Flattener{
		limiter: lim,
		exec:    exec,
		client:  client,
		journal: journal,
		symbols: symbols,
		pol:     pol,
	}
}

func (f *Flattener) retryPolicy(cost int64) retry.Policy {
	return retry.Policy{
		MaxAttempts:    f.pol.MaxAttempts,
		MinWait:        f.pol.MinWait,
		MaxWait:        f.pol.MaxWait,
		JitterFraction: f.pol.JitterFraction,
		Class:          limiter.ClassRequestWeight,
		Cost:           cost,
	}
}

func (f *Flattener) record(action, symbol string, err error) {
	if f.journal != nil {
		f.journal.RecordEmergency(action, symbol, err)
	}
}

// CancelAllOrders cancels every open order on every configured symbol.
// Symbols are cancelled concurrently; the first hard failure is
// reported, but every symbol is attempted.
func (f *Flattener) CancelAllOrders(ctx context.Context) error {
	symbols := f.symbols
	if len(symbols) == 0 {
		symbols = []string{""} // client treats empty as all
	}

	errs := make([]error, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			err := f.cancelAll(ctx, symbol)
			f.record("cancel_all_orders", symbol, err)
			errs[i] = err
		}(i, symbol)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (f *Flattener) cancelAll(ctx context.Context, symbol string) error {
	if _, err := f.limiter.Acquire(ctx, limiter.ClassRequestWeight, weightCancelAll); err != nil {
		return err
	}
	_, err := retry.Do(ctx, f.exec, "emergency_cancel_all_"+symbol,
		f.retryPolicy(weightCancelAll),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, f.client.CancelAllOrders(ctx, symbol)
		},
	)
	return err
}

// CloseAllPositions fetches the open positions and flattens each with
// a reduce-only market order, concurrently. Closing an already-flat
// position is a no-op on the exchange, so re-runs are idempotent.
func (f *Flattener) CloseAllPositions(ctx context.Context) error {
	if _, err := f.limiter.Acquire(ctx, limiter.ClassRequestWeight, weightPositions); err != nil {
		return err
	}
	positions, err := retry.Do(ctx, f.exec, "emergency_positions",
		f.retryPolicy(weightPositions),
		func(ctx context.Context) ([]domain.Position, error) {
			return f.client.Positions(ctx)
		},
	)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	errs := make([]error, len(positions))
	var wg sync.WaitGroup
	for i, pos := range positions {
		wg.Add(1)
		go func(i int, pos domain.Position) {
			defer wg.Done()
			err := f.closeOne(ctx, pos)
			f.record("close_position", pos.Symbol, err)
			errs[i] = err
		}(i, pos)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (f *Flattener) closeOne(ctx context.Context, pos domain.Position) error {
	if _, err := f.limiter.Acquire(ctx, limiter.ClassOrderCount, 1); err != nil {
		return err
	}
	if _, err := f.limiter.Acquire(ctx, limiter.ClassRequestWeight, weightOrder); err != nil {
		return err
	}
	_, err := retry.Do(ctx, f.exec, "emergency_close_"+pos.Symbol,
		f.retryPolicy(weightOrder),
		func(ctx context.Context) (*domain.Order, error) {
			return f.client.ClosePosition(ctx, pos)
		},
	)
	return err
}
