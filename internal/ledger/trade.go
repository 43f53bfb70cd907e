package ledger

import (
	"fmt"
	"time"

	"curveledger/internal/curve"
)

// Trade is one executed swap against a token's bonding curve. Records are
// append-only and immutable once written.
//
// BaseAmount is the amount that moved through the reserves: for a buy, the
// effective (post-fee) base input; for a sell, the gross base output before
// the fee. Fees never touch the reserves, so both reserve deltas equal
// BaseAmount exactly.
type Trade struct {
	// Seq is assigned upstream, strictly monotonic per token, starting at 1.
	Seq     int64  `json:"seq"`
	TokenID string `json:"token_id"`
	UserID  string `json:"user_id"`
	IsBuy   bool   `json:"is_buy"`

	BaseAmount  int64 `json:"base_amount"`
	TokenAmount int64 `json:"token_amount"`

	// Post-trade virtual reserve snapshot.
	BaseReservesAfter  int64 `json:"base_reserves_after"`
	TokenReservesAfter int64 `json:"token_reserves_after"`

	// Versioned input timestamp from the execution venue, never wall-clock.
	Timestamp time.Time `json:"timestamp"`
}

// Price returns the post-trade spot price.
func (t Trade) Price() curve.Price {
	return curve.PriceFromReserves(t.BaseReservesAfter, t.TokenReservesAfter)
}

// IdempotencyKey is the stable dedup key for a trade record.
func (t Trade) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", t.TokenID, t.Seq)
}

// Equal reports whether two records carry identical content. Timestamps
// compare by instant, not location.
func (t Trade) Equal(o Trade) bool {
	return t.Seq == o.Seq &&
		t.TokenID == o.TokenID &&
		t.UserID == o.UserID &&
		t.IsBuy == o.IsBuy &&
		t.BaseAmount == o.BaseAmount &&
		t.TokenAmount == o.TokenAmount &&
		t.BaseReservesAfter == o.BaseReservesAfter &&
		t.TokenReservesAfter == o.TokenReservesAfter &&
		t.Timestamp.Equal(o.Timestamp)
}

// TokenConfig is created once per token and immutable thereafter, except for
// the single one-way Graduated flip.
type TokenConfig struct {
	TokenID   string `json:"token_id"`
	CreatorID string `json:"creator_id"`

	InitialBaseReserves  int64 `json:"initial_base_reserves"`
	InitialTokenReserves int64 `json:"initial_token_reserves"`

	// LockedBps is the fraction of token reserves that can never be sold
	// into the curve, reserved for post-graduation liquidity.
	LockedBps int32 `json:"locked_bps"`
	FeeBps    int32 `json:"fee_bps"`

	Graduated bool      `json:"graduated"`
	CreatedAt time.Time `json:"created_at"`
}

// InitialPrice is the curve price before any trade exists.
func (c TokenConfig) InitialPrice() curve.Price {
	return curve.PriceFromReserves(c.InitialBaseReserves, c.InitialTokenReserves)
}

// Validate checks the config is usable as a curve.
func (c TokenConfig) Validate() error {
	if c.TokenID == "" {
		return fmt.Errorf("token config: empty token_id")
	}
	if c.InitialBaseReserves <= 0 || c.InitialTokenReserves <= 0 {
		return fmt.Errorf("token config %s: non-positive initial reserves (%d, %d)",
			c.TokenID, c.InitialBaseReserves, c.InitialTokenReserves)
	}
	if c.LockedBps < 0 || int64(c.LockedBps) >= curve.BpsDenominator {
		return fmt.Errorf("token config %s: locked_bps %d out of range", c.TokenID, c.LockedBps)
	}
	if c.FeeBps < 0 || int64(c.FeeBps) >= curve.BpsDenominator {
		return fmt.Errorf("token config %s: fee_bps %d out of range", c.TokenID, c.FeeBps)
	}
	return nil
}
