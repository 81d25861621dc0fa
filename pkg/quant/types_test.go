package quant

import (
	"sync"
	"testing"
)

func TestToPriceMicros(t *testing.T) {
	tests := []struct {
		in   float64
		want PriceMicros
	}{
		{0, 0},
		{1.23, 1230000},
		{-1.23, -1230000},
		{0.000001, 1},
		{100000.5, 100000500000},
	}

	for _, tt := range tests {
		if got := ToPriceMicros(tt.in); got != tt.want {
			t.Errorf("ToPriceMicros(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestToQtySats(t *testing.T) {
	if got := ToQtySats(1.0); got != 100000000 {
		t.Errorf("ToQtySats(1.0) = %d, want 100000000", got)
	}
	if got := ToQtySats(0.00000001); got != 1 {
		t.Errorf("ToQtySats(1e-8) = %d, want 1", got)
	}
}

func TestNotional(t *testing.T) {
	// 0.5 BTC at 50,000 USD = 25,000 USD
	price := ToPriceMicros(50000)
	qty := ToQtySats(0.5)

	got := Notional(price, qty)
	want := ToPriceMicros(25000)
	if got != want {
		t.Errorf("Notional = %s, want %s", got, want)
	}
}

func TestString(t *testing.T) {
	if s := PriceMicros(1230000).String(); s != "1.230000" {
		t.Errorf("PriceMicros.String() = %q", s)
	}
	if s := QtySats(100000000).String(); s != "1.00000000" {
		t.Errorf("QtySats.String() = %q", s)
	}
}

func TestNextSeq_Concurrent(t *testing.T) {
	var seq uint64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				NextSeq(&seq)
			}
		}()
	}
	wg.Wait()

	if seq != 1000 {
		t.Errorf("expected seq=1000 after 1000 increments, got %d", seq)
	}
}
