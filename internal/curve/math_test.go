package curve

import (
	"math"
	"testing"
)

func TestApplyFeeOnInput(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		feeBps int32
		want   int64
	}{
		{"one percent", 10_000, 100, 9_900},
		{"zero fee passes through", 100_000, 0, 100_000},
		{"floor rounding", 999, 150, 984},
		{"zero amount", 0, 100, 0},
		{"negative amount", -5, 100, 0},
		{"fee at denominator", 10_000, 10_000, 0},
		{"negative fee", 10_000, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyFeeOnInput(tt.amount, tt.feeBps); got != tt.want {
				t.Errorf("ApplyFeeOnInput(%d, %d) = %d, want %d", tt.amount, tt.feeBps, got, tt.want)
			}
		})
	}
}

func TestQuoteBuy(t *testing.T) {
	// effIn = 100_000 * 9850/10000 = 98_500
	// out   = 1_000_000 * 98_500 / 1_098_500 = 89_667 (floored)
	got := QuoteBuy(1_000_000, 1_000_000, 100_000, 150)
	if got != 89_667 {
		t.Errorf("QuoteBuy = %d, want 89667", got)
	}
}

func TestQuoteSellFeesOutputNotInput(t *testing.T) {
	// gross = 1_000_000 * 100_000 / 1_100_000 = 90_909
	// out   = 90_909 * 9850/10000 = 89_545
	got := QuoteSell(1_000_000, 1_000_000, 100_000, 150)
	if got != 89_545 {
		t.Errorf("QuoteSell = %d, want 89545", got)
	}

	// Feeing the input instead would floor the formula over a smaller
	// numerator and land on a different amount; the two sides must not
	// agree on symmetric reserves.
	buy := QuoteBuy(1_000_000, 1_000_000, 100_000, 150)
	if buy == got {
		t.Errorf("buy and sell quotes coincide at %d; fee sides are conflated", got)
	}
}

func TestSellGrossIgnoresFee(t *testing.T) {
	got := SellGross(1_000_000, 1_000_000, 100_000)
	if got != 90_909 {
		t.Errorf("SellGross = %d, want 90909", got)
	}
}

func TestBuyOut(t *testing.T) {
	got := BuyOut(10_000, 1_000_000, 49_500)
	if got != 831_932 {
		t.Errorf("BuyOut = %d, want 831932", got)
	}
}

func TestInverseBuyCeils(t *testing.T) {
	base, token := int64(1_000_000), int64(1_000_000)
	tokensOut := int64(89_667)

	need := InverseBuy(base, token, tokensOut)
	if need != 98_500 {
		t.Fatalf("InverseBuy = %d, want 98500", need)
	}
	if got := BuyOut(base, token, need); got < tokensOut {
		t.Errorf("BuyOut(need) = %d, under-delivers %d", got, tokensOut)
	}
	if got := BuyOut(base, token, need-1); got >= tokensOut {
		t.Errorf("BuyOut(need-1) = %d, need was not minimal", got)
	}
}

func TestInverseBuyBounds(t *testing.T) {
	if got := InverseBuy(1_000_000, 1_000_000, 1_000_000); got != 0 {
		t.Errorf("InverseBuy at full reserves = %d, want 0", got)
	}
	if got := InverseBuy(1_000_000, 1_000_000, 2_000_000); got != 0 {
		t.Errorf("InverseBuy beyond reserves = %d, want 0", got)
	}
}

func TestQuotesDegenerateInputs(t *testing.T) {
	tests := []struct {
		name                string
		base, token, amount int64
	}{
		{"zero base reserves", 0, 1_000_000, 100},
		{"zero token reserves", 1_000_000, 0, 100},
		{"zero amount", 1_000_000, 1_000_000, 0},
		{"negative amount", 1_000_000, 1_000_000, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuoteBuy(tt.base, tt.token, tt.amount, 100); got != 0 {
				t.Errorf("QuoteBuy = %d, want 0", got)
			}
			if got := QuoteSell(tt.base, tt.token, tt.amount, 100); got != 0 {
				t.Errorf("QuoteSell = %d, want 0", got)
			}
		})
	}
}

func TestMulDiv128BitIntermediate(t *testing.T) {
	// a*b overflows int64; the floor result must still be exact.
	got := MulDiv(math.MaxInt64, 2, 4)
	want := int64(4_611_686_018_427_387_903)
	if got != want {
		t.Errorf("MulDiv(MaxInt64, 2, 4) = %d, want %d", got, want)
	}

	if got := MulDiv(5, 3, 0); got != 0 {
		t.Errorf("MulDiv with zero denominator = %d, want 0", got)
	}
}
