package query

import (
	"time"

	"github.com/shopspring/decimal"

	"curveledger/internal/curve"
	"curveledger/internal/derive"
)

// CurveStateResponse is the full derived view of one token's curve.
// AsOfSeq is the ledger sequence the response was derived from.
type CurveStateResponse struct {
	TokenID       string      `json:"token_id"`
	State         curve.State `json:"state"`
	Band          string      `json:"band"`
	CompletionPct float64     `json:"completion_pct"`
	// PriceDecimal is presentation-only; ordering and comparison always
	// use the exact rational price.
	PriceDecimal decimal.Decimal `json:"price_decimal"`
	TradeCount   int64           `json:"trade_count"`
	AsOfSeq      int64           `json:"as_of_seq"`
}

// HoldersResponse ranks the current holders of a token.
type HoldersResponse struct {
	TokenID       string                 `json:"token_id"`
	Holders       []derive.HolderBalance `json:"holders"`
	Concentration derive.Concentration   `json:"concentration"`
	AsOfSeq       int64                  `json:"as_of_seq"`
}

// PnLResponse is one user's position on one token.
type PnLResponse struct {
	TokenID       string      `json:"token_id"`
	UserID        string      `json:"user_id"`
	TokensHeld    int64       `json:"tokens_held"`
	CostBasis     int64       `json:"cost_basis"`
	AvgEntryPrice curve.Price `json:"avg_entry_price"`
	RealizedPnL   int64       `json:"realized_pnl"`
	UnrealizedPnL int64       `json:"unrealized_pnl"`
	AsOfSeq       int64       `json:"as_of_seq"`
}

// PortfolioResponse aggregates a user's open positions across tokens.
type PortfolioResponse struct {
	UserID             string        `json:"user_id"`
	Positions          []PnLResponse `json:"positions"`
	TotalCostBasis     int64         `json:"total_cost_basis"`
	TotalRealizedPnL   int64         `json:"total_realized_pnl"`
	TotalUnrealizedPnL int64         `json:"total_unrealized_pnl"`
}

// CandlesResponse is an OHLC series. Empty buckets are omitted.
type CandlesResponse struct {
	TokenID  string          `json:"token_id"`
	WidthSec int64           `json:"width_sec"`
	Candles  []derive.Candle `json:"candles"`
	AsOfSeq  int64           `json:"as_of_seq"`
}

// TradesResponse is a page of the trade tape, newest first.
type TradesResponse struct {
	TokenID string       `json:"token_id"`
	Trades  []TradeEntry `json:"trades"`
	AsOfSeq int64        `json:"as_of_seq"`
}

// TradeEntry is one tape row with its derived post-trade price.
type TradeEntry struct {
	Seq         int64       `json:"seq"`
	UserID      string      `json:"user_id"`
	IsBuy       bool        `json:"is_buy"`
	BaseAmount  int64       `json:"base_amount"`
	TokenAmount int64       `json:"token_amount"`
	Price       curve.Price `json:"price"`
	Timestamp   time.Time   `json:"timestamp"`
}

// IntegrityReport is the result of re-folding a token's ledger and
// checking it against the recorded snapshots.
type IntegrityReport struct {
	TokenID       string   `json:"token_id"`
	TradesChecked int64    `json:"trades_checked"`
	Faults        []string `json:"faults,omitempty"`
	IsHealthy     bool     `json:"is_healthy"`
}

// SortBy selects the ordering dimension for token listings.
type SortBy int

const (
	SortByBump      SortBy = iota // most recent trade first
	SortByNear                    // closest to graduation first
	SortByGraduated               // graduated tokens, newest activity first
)

// Order is the listing direction.
type Order int

const (
	OrderDesc Order = iota
	OrderAsc
)

// TokenListing is one row of the token discovery surface, served from
// the token_stats projection.
type TokenListing struct {
	TokenID       string    `json:"token_id"`
	LastSeq       int64     `json:"last_seq"`
	PriceBase     int64     `json:"price_base"`
	PriceToken    int64     `json:"price_token"`
	CompletionBps int64     `json:"completion_bps"`
	Graduated     bool      `json:"graduated"`
	LastTradeAt   time.Time `json:"last_trade_at"`
}
