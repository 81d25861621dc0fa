package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OscarNeto021/ROBO/internal/domain"
	"github.com/OscarNeto021/ROBO/internal/infra"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RESTClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &infra.Config{}
	cfg.Exchange.RestURL = srv.URL
	cfg.Exchange.APIKey = "test-key"
	cfg.Exchange.APISecret = "test-secret"
	cfg.Exchange.RecvWindowMS = 5000
	return NewRESTClient(cfg), srv
}

func TestSubmitOrderParsesResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		q := r.URL.Query()
		if q.Get("newClientOrderId") != "robo_1_abc_btcusdt_buy" {
			t.Errorf("newClientOrderId = %q", q.Get("newClientOrderId"))
		}
		if q.Get("timeInForce") != "GTC" {
			t.Errorf("limit order missing timeInForce, got %q", q.Get("timeInForce"))
		}
		if q.Get("signature") == "" {
			t.Error("request is unsigned")
		}
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Error("missing api key header")
		}

		w.Header().Set(usedWeightHeader, "42")
		w.Write([]byte(`{
			"orderId": 9001,
			"clientOrderId": "robo_1_abc_btcusdt_buy",
			"symbol": "BTCUSDT",
			"side": "BUY",
			"type": "LIMIT",
			"price": "50000.5",
			"origQty": "0.25",
			"executedQty": "0",
			"status": "NEW",
			"updateTime": 1700000000000
		}`))
	})

	ord, err := client.SubmitOrder(context.Background(), domain.OrderIntent{
		Symbol:         "BTCUSDT",
		Side:           domain.SideBuy,
		Type:           domain.TypeLimit,
		PriceMicros:    50000_500000,
		QtySats:        25_000_000,
		IdempotencyKey: "robo_1_abc_btcusdt_buy",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	if ord.ID != "9001" {
		t.Errorf("ID = %q, want 9001", ord.ID)
	}
	if ord.PriceMicros != 50000_500000 {
		t.Errorf("PriceMicros = %d, want 50000500000", ord.PriceMicros)
	}
	if ord.QtySats != 25_000_000 {
		t.Errorf("QtySats = %d, want 25000000", ord.QtySats)
	}
	if ord.Status != domain.StatusNew {
		t.Errorf("Status = %q", ord.Status)
	}
	if client.UsedWeight() != 42 {
		t.Errorf("UsedWeight = %d, want 42 from response header", client.UsedWeight())
	}
}

func TestQueryOrderMissingIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -2013, "msg": "Order does not exist."}`))
	})

	ord, err := client.QueryOrderByKey(context.Background(), "BTCUSDT", "robo_x")
	if err != nil {
		t.Fatalf("missing order must not be an error, got %v", err)
	}
	if ord != nil {
		t.Fatalf("missing order must be nil, got %+v", ord)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests."}`, true},
		{"banned", http.StatusTeapot, `{"code":-1003,"msg":"IP banned."}`, true},
		{"server error", http.StatusInternalServerError, `{"code":-1000,"msg":"Unknown error."}`, true},
		{"bad gateway", http.StatusBadGateway, ``, true},
		{"bad request", http.StatusBadRequest, `{"code":-1102,"msg":"Mandatory parameter missing."}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key."}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := client.SubmitOrder(context.Background(), domain.OrderIntent{
				Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeMarket,
				QtySats: 1, IdempotencyKey: "robo_k",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := domain.IsTransient(err); got != tc.transient {
				t.Errorf("IsTransient = %v, want %v (err: %v)", got, tc.transient, err)
			}
			if !tc.transient && !domain.IsFatal(err) {
				t.Errorf("4xx error should be fatal, got %v", err)
			}
		})
	}
}

func TestConnectionFailureIsTransient(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.SubmitOrder(context.Background(), domain.OrderIntent{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeMarket,
		QtySats: 1, IdempotencyKey: "robo_k",
	})
	if !domain.IsTransient(err) {
		t.Errorf("connection failure should be transient, got %v", err)
	}
}

func TestLimitsParsesExchangeInfo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/exchangeInfo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"rateLimits": [
				{"rateLimitType": "REQUEST_WEIGHT", "interval": "MINUTE", "intervalNum": 1, "limit": 2400},
				{"rateLimitType": "ORDERS", "interval": "SECOND", "intervalNum": 10, "limit": 300},
				{"rateLimitType": "ORDERS", "interval": "MINUTE", "intervalNum": 1, "limit": 1200}
			]
		}`))
	})

	limits, err := client.Limits(context.Background())
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if limits.WeightPerMinute != 2400 {
		t.Errorf("WeightPerMinute = %d, want 2400", limits.WeightPerMinute)
	}
	if limits.OrdersPer10Sec != 300 {
		t.Errorf("OrdersPer10Sec = %d, want 300", limits.OrdersPer10Sec)
	}
}

func TestPositionsSkipsFlatAndDetectsShorts(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol": "BTCUSDT", "positionAmt": "0", "entryPrice": "0", "markPrice": "50000"},
			{"symbol": "ETHUSDT", "positionAmt": "-2.5", "entryPrice": "3000", "markPrice": "3100"}
		]`))
	})

	positions, err := client.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len = %d, want 1 (flat filtered out)", len(positions))
	}

	pos := positions[0]
	if pos.Side != domain.SideSell {
		t.Errorf("Side = %q, want SELL for negative positionAmt", pos.Side)
	}
	if pos.QtySats != 250_000_000 {
		t.Errorf("QtySats = %d, want 250000000", pos.QtySats)
	}
	if pos.CloseSide() != domain.SideBuy {
		t.Errorf("CloseSide = %q, want BUY", pos.CloseSide())
	}
}

func TestCancelMissingOrderIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -2011, "msg": "Unknown order sent."}`))
	})

	if err := client.CancelOrder(context.Background(), "BTCUSDT", "9001"); err != nil {
		t.Errorf("canceling an already-gone order should succeed, got %v", err)
	}
}
