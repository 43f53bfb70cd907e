package curve

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Price is the exact spot price of a curve: the ratio of base to token
// reserves at a post-trade snapshot. Keeping the raw reserve pair instead of
// a quotient makes comparisons exact (cross-multiplication in 128 bits) and
// defers any lossy conversion to the presentation layer.
type Price struct {
	Base  int64
	Token int64
}

// PriceFromReserves captures a reserve snapshot as a price.
func PriceFromReserves(base, token int64) Price {
	return Price{Base: base, Token: token}
}

// IsZero reports whether the price is undefined or zero.
func (p Price) IsZero() bool {
	return p.Token <= 0 || p.Base <= 0
}

// Cmp compares two prices exactly: -1 if p < o, 0 if equal, +1 if p > o.
func (p Price) Cmp(o Price) int {
	if p.Token <= 0 || o.Token <= 0 {
		switch {
		case p.Token <= 0 && o.Token <= 0:
			return 0
		case p.Token <= 0:
			return -1
		default:
			return 1
		}
	}
	// p.Base/p.Token vs o.Base/o.Token  <=>  p.Base*o.Token vs o.Base*p.Token
	left := getInt()
	right := getInt()
	tmp := getInt()
	left.Mul(left.SetInt64(p.Base), tmp.SetInt64(o.Token))
	right.Mul(right.SetInt64(o.Base), tmp.SetInt64(p.Token))
	c := left.Cmp(right)
	putInt(left)
	putInt(right)
	putInt(tmp)
	return c
}

// ValueOf returns the base-asset value of tokenAmount at this price,
// floor-rounded: tokenAmount * Base / Token.
func (p Price) ValueOf(tokenAmount int64) int64 {
	if p.IsZero() || tokenAmount <= 0 {
		return 0
	}
	return mulDivFloor(tokenAmount, p.Base, p.Token)
}

// Decimal renders the price as an arbitrary-precision decimal for
// presentation. Core arithmetic never round-trips through this.
func (p Price) Decimal() decimal.Decimal {
	if p.Token <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(p.Base).DivRound(decimal.NewFromInt(p.Token), 12)
}

// String renders the price as a decimal string with 12 fractional digits.
func (p Price) String() string {
	return p.Decimal().String()
}

// Float64 is a presentation-only conversion.
func (p Price) Float64() float64 {
	if p.Token <= 0 {
		return 0
	}
	r := new(big.Rat).SetFrac64(p.Base, p.Token)
	f, _ := r.Float64()
	return f
}
