package curve

import (
	"math/big"
	"sync"
)

// BpsDenominator is the basis-point scale used for fees and fractions.
const BpsDenominator = 10_000

// Quote functions never error: degenerate inputs (zero or negative reserves
// or amounts) return 0, since previews are routinely requested against
// not-yet-initialized curves.

// Intermediate products of two int64 amounts need 128 bits. Pooled big.Ints
// keep the hot quote path allocation-free.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// mulDivFloor computes a*b/den with a 128-bit intermediate, rounding down.
func mulDivFloor(a, b, den int64) int64 {
	if den == 0 {
		return 0
	}
	num := getInt()
	d := getInt()
	num.Mul(num.SetInt64(a), d.SetInt64(b))
	d.SetInt64(den)
	num.Quo(num, d)
	result := num.Int64()
	putInt(num)
	putInt(d)
	return result
}

// mulDivCeil computes a*b/den with a 128-bit intermediate, rounding up.
func mulDivCeil(a, b, den int64) int64 {
	if den == 0 {
		return 0
	}
	num := getInt()
	d := getInt()
	rem := getInt()
	num.Mul(num.SetInt64(a), d.SetInt64(b))
	d.SetInt64(den)
	num.QuoRem(num, d, rem)
	result := num.Int64()
	if rem.Sign() != 0 {
		result++
	}
	putInt(num)
	putInt(d)
	putInt(rem)
	return result
}

// ApplyFeeOnInput returns amount*(BpsDenominator-feeBps)/BpsDenominator,
// the effective input after the fee is taken off the top.
func ApplyFeeOnInput(amount int64, feeBps int32) int64 {
	if amount <= 0 || feeBps < 0 || int64(feeBps) >= BpsDenominator {
		return 0
	}
	return mulDivFloor(amount, BpsDenominator-int64(feeBps), BpsDenominator)
}

// ApplyFeeOnOutput returns amount*(BpsDenominator-feeBps)/BpsDenominator,
// the realized output after the fee is deducted from the gross proceeds.
func ApplyFeeOnOutput(amount int64, feeBps int32) int64 {
	return ApplyFeeOnInput(amount, feeBps)
}

// QuoteBuy prices a buy preview. The fee is deducted from baseIn BEFORE the
// constant-product formula is applied:
//
//	effIn     = baseIn * (1 - fee)
//	tokensOut = tokenReserves * effIn / (baseReserves + effIn)
//
// Floor division — the venue never over-delivers.
func QuoteBuy(baseReserves, tokenReserves, baseIn int64, feeBps int32) int64 {
	if baseReserves <= 0 || tokenReserves <= 0 || baseIn <= 0 {
		return 0
	}
	effIn := ApplyFeeOnInput(baseIn, feeBps)
	if effIn <= 0 {
		return 0
	}
	return mulDivFloor(tokenReserves, effIn, baseReserves+effIn)
}

// QuoteSell prices a sell preview. The constant-product formula is applied
// first, then the fee is deducted from the OUTPUT:
//
//	gross   = baseReserves * tokensIn / (tokenReserves + tokensIn)
//	baseOut = gross * (1 - fee)
//
// The fee-application order is a hard contract: buys fee the input, sells
// fee the output. The two must never be conflated.
func QuoteSell(baseReserves, tokenReserves, tokensIn int64, feeBps int32) int64 {
	if baseReserves <= 0 || tokenReserves <= 0 || tokensIn <= 0 {
		return 0
	}
	gross := mulDivFloor(baseReserves, tokensIn, tokenReserves+tokensIn)
	return ApplyFeeOnOutput(gross, feeBps)
}

// SellGross returns the pre-fee curve output for a sell. Reserve snapshots
// move by the gross amount; the fee never touches the reserves.
func SellGross(baseReserves, tokenReserves, tokensIn int64) int64 {
	if baseReserves <= 0 || tokenReserves <= 0 || tokensIn <= 0 {
		return 0
	}
	return mulDivFloor(baseReserves, tokensIn, tokenReserves+tokensIn)
}

// BuyOut returns the curve output for an effective (post-fee) base input.
func BuyOut(baseReserves, tokenReserves, effBaseIn int64) int64 {
	if baseReserves <= 0 || tokenReserves <= 0 || effBaseIn <= 0 {
		return 0
	}
	return mulDivFloor(tokenReserves, effBaseIn, baseReserves+effBaseIn)
}

// InverseBuy solves for the effective base input required to receive
// tokensOut. Ceiling division: under-quoting would fail on execution.
func InverseBuy(baseReserves, tokenReserves, tokensOut int64) int64 {
	if baseReserves <= 0 || tokenReserves <= 0 || tokensOut <= 0 {
		return 0
	}
	if tokensOut >= tokenReserves {
		return 0
	}
	return mulDivCeil(baseReserves, tokensOut, tokenReserves-tokensOut)
}

// MulDiv exposes the 128-bit a*b/den floor operation for callers that fold
// ledger amounts (cost-basis proportions, concentration shares).
func MulDiv(a, b, den int64) int64 {
	return mulDivFloor(a, b, den)
}
