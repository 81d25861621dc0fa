package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

// MockClient is an in-memory exchange for paper trading and tests.
// Failure injection is scripted per call site so tests can drive the
// retry and reconciliation paths deterministically.
type MockClient struct {
	mu sync.Mutex

	// FailSubmits makes the next N SubmitOrder calls fail transiently.
	FailSubmits int
	// FailCancels makes the next N cancel calls fail transiently.
	FailCancels int
	// SubmitErr, when set, is returned verbatim by SubmitOrder.
	SubmitErr error
	// RegisterOnFailure records the order server-side even when the
	// submit call reports failure, mimicking a response lost on the
	// wire after the exchange accepted the order.
	RegisterOnFailure bool

	orders    map[string]*domain.Order // by client order ID
	positions []domain.Position
	limits    Limits
	used      int64
	nextID    int64

	submitCalls    int
	cancelAllCalls int
	closeCalls     int
}

// NewMockClient returns an empty mock with sane default limits.
func NewMockClient() *MockClient {
	return &MockClient{
		orders: make(map[string]*domain.Order),
		limits: Limits{WeightPerMinute: 1200, OrdersPer10Sec: 50},
	}
}

func (m *MockClient) SubmitOrder(_ context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCalls++
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	if _, dup := m.orders[intent.IdempotencyKey]; dup {
		return nil, domain.Fatal(&ExchangeError{Status: 400, Code: -4015, Message: "duplicate client order id"})
	}
	if m.FailSubmits > 0 {
		m.FailSubmits--
		if m.RegisterOnFailure {
			m.register(intent)
		}
		return nil, domain.Transient(fmt.Errorf("injected submit failure"))
	}

	ord := m.register(intent)
	out := *ord
	return &out, nil
}

func (m *MockClient) register(intent domain.OrderIntent) *domain.Order {
	m.nextID++
	ord := &domain.Order{
		ID:            strconv.FormatInt(m.nextID, 10),
		ClientOrderID: intent.IdempotencyKey,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Type:          intent.Type,
		PriceMicros:   intent.PriceMicros,
		QtySats:       intent.QtySats,
		Status:        domain.StatusNew,
		CreatedUnixM:  int64(quant.Now()),
	}
	if intent.Type == domain.TypeMarket {
		ord.Status = domain.StatusFilled
		ord.FilledQtySats = intent.QtySats
	}
	m.orders[intent.IdempotencyKey] = ord
	return ord
}

func (m *MockClient) CancelOrder(_ context.Context, _ string, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCancels > 0 {
		m.FailCancels--
		return domain.Transient(fmt.Errorf("injected cancel failure"))
	}
	for _, ord := range m.orders {
		if ord.ID == orderID && ord.IsOpen() {
			ord.Status = domain.StatusCanceled
			return nil
		}
	}
	return nil // already gone counts as canceled
}

func (m *MockClient) QueryOrderByKey(_ context.Context, _ string, idempotencyKey string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ord, ok := m.orders[idempotencyKey]
	if !ok {
		return nil, nil
	}
	out := *ord
	return &out, nil
}

func (m *MockClient) CancelAllOrders(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelAllCalls++
	if m.FailCancels > 0 {
		m.FailCancels--
		return domain.Transient(fmt.Errorf("injected cancel-all failure"))
	}
	for _, ord := range m.orders {
		if (symbol == "" || ord.Symbol == symbol) && ord.IsOpen() {
			ord.Status = domain.StatusCanceled
		}
	}
	return nil
}

func (m *MockClient) OpenOrders(_ context.Context, symbol string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []domain.Order
	for _, ord := range m.orders {
		if (symbol == "" || ord.Symbol == symbol) && ord.IsOpen() {
			open = append(open, *ord)
		}
	}
	return open, nil
}

func (m *MockClient) Positions(_ context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

func (m *MockClient) ClosePosition(ctx context.Context, pos domain.Position) (*domain.Order, error) {
	m.mu.Lock()
	m.closeCalls++
	kept := m.positions[:0]
	for _, p := range m.positions {
		if p.Symbol != pos.Symbol {
			kept = append(kept, p)
		}
	}
	m.positions = kept
	m.mu.Unlock()

	return m.SubmitOrder(ctx, domain.OrderIntent{
		Symbol:         pos.Symbol,
		Side:           pos.CloseSide(),
		Type:           domain.TypeMarket,
		QtySats:        pos.QtySats,
		IdempotencyKey: fmt.Sprintf("close_%s_%d", pos.Symbol, quant.Now()),
	})
}

func (m *MockClient) Limits(_ context.Context) (Limits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits, nil
}

func (m *MockClient) UsedWeight() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// SetLimits overrides what Limits reports.
func (m *MockClient) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = l
}

// SetUsedWeight overrides what UsedWeight reports.
func (m *MockClient) SetUsedWeight(w int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = w
}

// SetPositions seeds the open positions.
func (m *MockClient) SetPositions(positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append([]domain.Position(nil), positions...)
}

// SubmitCalls reports how many times SubmitOrder ran.
func (m *MockClient) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// CancelAllCalls reports how many times CancelAllOrders ran.
func (m *MockClient) CancelAllCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelAllCalls
}

// CloseCalls reports how many times ClosePosition ran.
func (m *MockClient) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
