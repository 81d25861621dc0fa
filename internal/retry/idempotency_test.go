package retry

import (
	"strings"
	"testing"
)

func TestNewIdempotencyKey_Format(t *testing.T) {
	key := NewIdempotencyKey("BTC/USDT", "BUY")

	if !strings.HasPrefix(key, "robo_") {
		t.Errorf("key %q missing prefix", key)
	}
	if !strings.HasSuffix(key, "_btcusdt_buy") {
		t.Errorf("key %q: symbol/side not normalized", key)
	}

	parts := strings.Split(key, "_")
	if len(parts) != 5 {
		t.Errorf("key %q has %d parts, want 5", key, len(parts))
	}
}

func TestNewIdempotencyKey_Unique(t *testing.T) {
	const n = 10000
	seen := make(map[string]bool, n)

	for i := 0; i < n; i++ {
		key := NewIdempotencyKey("BTCUSDT", "SELL")
		if seen[key] {
			t.Fatalf("duplicate idempotency key after %d generations: %s", i, key)
		}
		seen[key] = true
	}
}
