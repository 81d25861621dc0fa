package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/infra"
	"github.com/OscarNeto021/ROBO/pkg/quant"
)

const (
	// MainnetURL is the production futures REST endpoint.
	MainnetURL = "https://fapi.binance.com"
	// TestnetURL is the paper futures REST endpoint.
	TestnetURL = "https://testnet.binancefuture.com"

	usedWeightHeader = "X-MBX-USED-WEIGHT-1M"

	defaultHTTPTimeout = 15 * time.Second
)

// Exchange error codes we branch on.
const (
	codeOrderDoesNotExist = -2013
	codeUnknownOrder      = -2011
)

// RESTClient talks to the futures REST API. All request signing goes
// through Signer; all responses feed the used-weight gauge so the
// admission controller can reconcile against server-side counters.
type RESTClient struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
	recvWindow int64 // milliseconds

	usedWeight atomic.Int64
}

// NewRESTClient builds a client from config. The caller owns the
// signer's lifecycle and should Wipe it on shutdown.
func NewRESTClient(cfg *infra.Config) *RESTClient {
	base := cfg.Exchange.RestURL
	if base == "" {
		base = MainnetURL
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(base, "/"),
		signer:     NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		recvWindow: int64(cfg.Exchange.RecvWindowMS),
	}
}

// apiError is the exchange's JSON error envelope.
type apiError struct {
	Code    int64  `json:"code"`
	Message string `json:"msg"`
}

// orderResponse covers both order placement and order query payloads.
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
}

type positionResponse struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	MarkPrice   string `json:"markPrice"`
}

type exchangeInfoResponse struct {
	RateLimits []struct {
		RateLimitType string `json:"rateLimitType"`
		Interval      string `json:"interval"`
		IntervalNum   int64  `json:"intervalNum"`
		Limit         int64  `json:"limit"`
	} `json:"rateLimits"`
}

// SubmitOrder places an order. The intent's IdempotencyKey travels as
// newClientOrderId, so a retried submission of the same intent is
// rejected server-side as a duplicate instead of doubling exposure.
func (c *RESTClient) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", intent.Symbol)
	params.Set("side", intent.Side)
	params.Set("type", intent.Type)
	params.Set("quantity", intent.QtySats.String())
	params.Set("newClientOrderId", intent.IdempotencyKey)
	if intent.Type == domain.TypeLimit {
		params.Set("price", intent.PriceMicros.String())
		params.Set("timeInForce", "GTC")
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode order response: %w", err))
	}
	return orderFromResponse(&resp)
}

// CancelOrder cancels by exchange order ID. An already-gone order is
// treated as success.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	_, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if isOrderMissing(err) {
		return nil
	}
	return err
}

// QueryOrderByKey looks an order up by client order ID. A missing
// order is (nil, nil), not an error: the retry layer uses that answer
// to decide whether a prior attempt landed.
func (c *RESTClient) QueryOrderByKey(ctx context.Context, symbol, idempotencyKey string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", idempotencyKey)

	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if isOrderMissing(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode order response: %w", err))
	}
	return orderFromResponse(&resp)
}

// CancelAllOrders cancels every open order on the symbol.
func (c *RESTClient) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	_, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// OpenOrders lists open orders, all symbols when symbol is empty.
func (c *RESTClient) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}

	var resps []orderResponse
	if err := json.Unmarshal(body, &resps); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode open orders: %w", err))
	}
	orders := make([]domain.Order, 0, len(resps))
	for i := range resps {
		ord, err := orderFromResponse(&resps[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, *ord)
	}
	return orders, nil
}

// Positions lists the non-flat positions on the account.
func (c *RESTClient) Positions(ctx context.Context) ([]domain.Position, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{})
	if err != nil {
		return nil, err
	}

	var resps []positionResponse
	if err := json.Unmarshal(body, &resps); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode positions: %w", err))
	}

	positions := make([]domain.Position, 0, len(resps))
	for i := range resps {
		pos, err := positionFromResponse(&resps[i])
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue // flat
		}
		positions = append(positions, *pos)
	}
	return positions, nil
}

// ClosePosition flattens pos with a reduce-only market order.
func (c *RESTClient) ClosePosition(ctx context.Context, pos domain.Position) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", pos.Symbol)
	params.Set("side", pos.CloseSide())
	params.Set("type", domain.TypeMarket)
	params.Set("quantity", pos.QtySats.String())
	params.Set("reduceOnly", "true")

	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode close response: %w", err))
	}
	return orderFromResponse(&resp)
}

// Limits fetches the authoritative request-weight and order-count
// limits from exchangeInfo.
func (c *RESTClient) Limits(ctx context.Context) (Limits, error) {
	body, err := c.publicRequest(ctx, "/fapi/v1/exchangeInfo")
	if err != nil {
		return Limits{}, err
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return Limits{}, domain.Transient(fmt.Errorf("decode exchangeInfo: %w", err))
	}

	var limits Limits
	for _, rl := range info.RateLimits {
		switch rl.RateLimitType {
		case "REQUEST_WEIGHT":
			if rl.Interval == "MINUTE" && rl.IntervalNum == 1 {
				limits.WeightPerMinute = rl.Limit
			}
		case "ORDERS":
			if rl.Interval == "SECOND" && rl.IntervalNum == 10 {
				limits.OrdersPer10Sec = rl.Limit
			}
		}
	}
	if limits.WeightPerMinute == 0 && limits.OrdersPer10Sec == 0 {
		return Limits{}, domain.Transient(fmt.Errorf("exchangeInfo carried no rate limits"))
	}
	return limits, nil
}

// UsedWeight returns the most recently reported 1-minute weight usage.
func (c *RESTClient) UsedWeight() int64 {
	return c.usedWeight.Load()
}

// Close wipes the signing keys.
func (c *RESTClient) Close() {
	c.signer.Wipe()
}

func (c *RESTClient) signedRequest(ctx context.Context, method, path string, p url.Values) ([]byte, error) {
	p.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		p.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	query := p.Encode()
	query += "&signature=" + c.signer.Sign(query)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, domain.Fatal(err)
	}
	req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	return c.do(req)
}

func (c *RESTClient) publicRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, domain.Fatal(err)
	}
	return c.do(req)
}

func (c *RESTClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, resets, DNS failures: all worth retrying.
		return nil, domain.Transient(err)
	}
	defer resp.Body.Close()

	if w := resp.Header.Get(usedWeightHeader); w != "" {
		if used, perr := strconv.ParseInt(w, 10, 64); perr == nil {
			c.usedWeight.Store(used)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.Transient(err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	return nil, classifyHTTPError(resp.StatusCode, body)
}

// classifyHTTPError maps an error response onto the retry taxonomy.
// 429 and 418 are the exchange telling us to back off; 5xx is their
// problem; everything else in 4xx means the request itself is wrong
// and retrying it verbatim cannot help.
func classifyHTTPError(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)

	err := &ExchangeError{Status: status, Code: ae.Code, Message: ae.Message}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusTeapot:
		return domain.Transient(err)
	case status >= 500:
		return domain.Transient(err)
	default:
		return domain.Fatal(err)
	}
}

// ExchangeError is a non-200 REST response.
type ExchangeError struct {
	Status  int
	Code    int64
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error: http %d code %d: %s", e.Status, e.Code, e.Message)
}

func isOrderMissing(err error) bool {
	if err == nil {
		return false
	}
	var ee *ExchangeError
	if !errors.As(err, &ee) {
		return false
	}
	return ee.Code == codeOrderDoesNotExist || ee.Code == codeUnknownOrder
}

func orderFromResponse(r *orderResponse) (*domain.Order, error) {
	price, err := parseMicros(r.Price)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("order %s price %q: %w", r.ClientOrderID, r.Price, err))
	}
	qty, err := parseSats(r.OrigQty)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("order %s qty %q: %w", r.ClientOrderID, r.OrigQty, err))
	}
	filled, err := parseSats(r.ExecutedQty)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("order %s filled %q: %w", r.ClientOrderID, r.ExecutedQty, err))
	}

	return &domain.Order{
		ID:            strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Type:          r.Type,
		PriceMicros:   price,
		QtySats:       qty,
		FilledQtySats: filled,
		Status:        r.Status,
		CreatedUnixM:  r.UpdateTime * 1000,
	}, nil
}

// positionFromResponse returns nil for flat positions. Position
// direction rides on the sign of positionAmt.
func positionFromResponse(r *positionResponse) (*domain.Position, error) {
	amt, err := decimal.NewFromString(r.PositionAmt)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("position %s amount %q: %w", r.Symbol, r.PositionAmt, err))
	}
	if amt.IsZero() {
		return nil, nil
	}

	side := domain.SideBuy
	if amt.IsNegative() {
		side = domain.SideSell
		amt = amt.Neg()
	}

	entry, err := parseMicros(r.EntryPrice)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("position %s entry %q: %w", r.Symbol, r.EntryPrice, err))
	}
	mark, err := parseMicros(r.MarkPrice)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("position %s mark %q: %w", r.Symbol, r.MarkPrice, err))
	}

	return &domain.Position{
		Symbol:           r.Symbol,
		Side:             side,
		QtySats:          quant.QtySats(amt.Shift(8).IntPart()),
		EntryPriceMicros: entry,
		MarkPriceMicros:  mark,
	}, nil
}

func parseMicros(s string) (quant.PriceMicros, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return quant.PriceMicros(d.Shift(6).IntPart()), nil
}

func parseSats(s string) (quant.QtySats, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return quant.QtySats(d.Shift(8).IntPart()), nil
}
