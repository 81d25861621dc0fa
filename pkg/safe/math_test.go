package safe

import (
	"math"
	"testing"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s: expected panic, got none", name)
		}
	}()
	fn()
}

func TestAdd(t *testing.T) {
	if got := Add(2, 3); got != 5 {
		t.Errorf("Add(2,3) = %d", got)
	}
	if got := Add(-2, -3); got != -5 {
		t.Errorf("Add(-2,-3) = %d", got)
	}

	mustPanic(t, "Add overflow", func() { Add(math.MaxInt64, 1) })
	mustPanic(t, "Add underflow", func() { Add(math.MinInt64, -1) })
}

func TestSub(t *testing.T) {
	if got := Sub(5, 3); got != 2 {
		t.Errorf("Sub(5,3) = %d", got)
	}

	mustPanic(t, "Sub overflow", func() { Sub(math.MaxInt64, -1) })
	mustPanic(t, "Sub underflow", func() { Sub(math.MinInt64, 1) })
}

func TestMul(t *testing.T) {
	if got := Mul(4, 5); got != 20 {
		t.Errorf("Mul(4,5) = %d", got)
	}
	if got := Mul(0, math.MaxInt64); got != 0 {
		t.Errorf("Mul(0,max) = %d", got)
	}
	if got := Mul(-4, 5); got != -20 {
		t.Errorf("Mul(-4,5) = %d", got)
	}

	mustPanic(t, "Mul overflow", func() { Mul(math.MaxInt64, 2) })
	mustPanic(t, "Mul overflow negative", func() { Mul(math.MinInt64, 2) })
}

func TestDiv(t *testing.T) {
	if got := Div(20, 5); got != 4 {
		t.Errorf("Div(20,5) = %d", got)
	}

	mustPanic(t, "Div by zero", func() { Div(1, 0) })
	mustPanic(t, "Div overflow", func() { Div(math.MinInt64, -1) })
}
