package derive

import (
	"curveledger/internal/curve"
	"curveledger/internal/ledger"
)

// CostBasis is the weighted-average cost state for one user on one token,
// replayed left-to-right by sequence number from (0, 0, 0).
type CostBasis struct {
	// CostBasis is the cumulative fee-inclusive base-asset cost attributed
	// to the tokens still held.
	CostBasis   int64 `json:"cost_basis"`
	TokensHeld  int64 `json:"tokens_held"`
	RealizedPnL int64 `json:"realized_pnl"`

	// Lifetime turnover: total fee-inclusive cost paid and fee-net proceeds
	// received.
	Bought int64 `json:"bought"`
	Sold   int64 `json:"sold"`
}

// ReplayCostBasis replays a chronological user×token trade subsequence.
//
// Buy:  cost = BaseAmount*(1+fee) is added to the basis, tokens accrue.
// Sell: a proportional share of the basis is removed and the fee-net
// proceeds beyond it realize as P&L. A sell against zero holdings is a
// no-op — it reflects pre-ledger or external holdings, not an error.
func ReplayCostBasis(trades []ledger.Trade, feeBps int32) CostBasis {
	var cb CostBasis
	for _, t := range trades {
		if t.IsBuy {
			cost := curve.MulDiv(t.BaseAmount, curve.BpsDenominator+int64(feeBps), curve.BpsDenominator)
			cb.CostBasis += cost
			cb.TokensHeld += t.TokenAmount
			cb.Bought += cost
			continue
		}

		if cb.TokensHeld == 0 {
			continue
		}

		received := curve.MulDiv(t.BaseAmount, curve.BpsDenominator-int64(feeBps), curve.BpsDenominator)

		// Tokens sold beyond the tracked holdings came from outside the
		// ledger; the proportion is capped at 1 so a sell can never remove
		// more cost than exists.
		sold := t.TokenAmount
		if sold > cb.TokensHeld {
			sold = cb.TokensHeld
		}
		costRemoved := curve.MulDiv(cb.CostBasis, sold, cb.TokensHeld)

		cb.CostBasis -= costRemoved
		cb.TokensHeld -= sold
		cb.RealizedPnL += received - costRemoved
		cb.Sold += received
	}
	return cb
}

// AvgEntryPrice is the exact rational cost per token, undefined (zero) when
// nothing is held.
func (cb CostBasis) AvgEntryPrice() curve.Price {
	if cb.TokensHeld <= 0 {
		return curve.Price{}
	}
	return curve.PriceFromReserves(cb.CostBasis, cb.TokensHeld)
}

// UnrealizedPnL values the held tokens at the current price against the
// remaining cost basis. Defined only while tokens are held.
func (cb CostBasis) UnrealizedPnL(current curve.Price) int64 {
	if cb.TokensHeld <= 0 {
		return 0
	}
	return current.ValueOf(cb.TokensHeld) - cb.CostBasis
}

// TokenPosition pairs a replayed cost state with the token's current price.
type TokenPosition struct {
	TokenID string
	State   CostBasis
	Current curve.Price
}

// Portfolio is the cross-token aggregate over a user's open positions.
// Positions with zero holdings are filtered out entirely, so realized gains
// on fully-exited tokens do not contribute to the aggregate — a deliberate
// product decision carried over from the launchpad, not an oversight.
type Portfolio struct {
	UnrealizedPnL int64            `json:"unrealized_pnl"`
	Bought        int64            `json:"bought"`
	Sold          int64            `json:"sold"`
	Positions     []PortfolioEntry `json:"positions"`
}

// PortfolioEntry is one open position inside a portfolio view.
type PortfolioEntry struct {
	TokenID       string `json:"token_id"`
	TokensHeld    int64  `json:"tokens_held"`
	CostBasis     int64  `json:"cost_basis"`
	UnrealizedPnL int64  `json:"unrealized_pnl"`
}

// AggregatePortfolio sums unrealized P&L and turnover across positions with
// tokens still held.
func AggregatePortfolio(positions []TokenPosition) Portfolio {
	var p Portfolio
	for _, pos := range positions {
		if pos.State.TokensHeld <= 0 {
			continue
		}
		unrealized := pos.State.UnrealizedPnL(pos.Current)
		p.UnrealizedPnL += unrealized
		p.Bought += pos.State.Bought
		p.Sold += pos.State.Sold
		p.Positions = append(p.Positions, PortfolioEntry{
			TokenID:       pos.TokenID,
			TokensHeld:    pos.State.TokensHeld,
			CostBasis:     pos.State.CostBasis,
			UnrealizedPnL: unrealized,
		})
	}
	return p
}
