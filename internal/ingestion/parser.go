package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"curveledger/internal/ledger"
)

// --- JSON wire formats ---
// These structs mirror the payloads produced by the execution venue.
// Field names use snake_case to match the upstream producer.

type tradeExecutedJSON struct {
	Seq                int64  `json:"seq"`
	TokenID            string `json:"token_id"`
	UserID             string `json:"user_id"`
	IsBuy              bool   `json:"is_buy"`
	BaseAmount         int64  `json:"base_amount"`
	TokenAmount        int64  `json:"token_amount"`
	BaseReservesAfter  int64  `json:"base_reserves_after"`
	TokenReservesAfter int64  `json:"token_reserves_after"`
	TimestampUs        int64  `json:"timestamp_us"`
}

type tokenCreatedJSON struct {
	TokenID              string `json:"token_id"`
	CreatorID            string `json:"creator_id"`
	InitialBaseReserves  int64  `json:"initial_base_reserves"`
	InitialTokenReserves int64  `json:"initial_token_reserves"`
	LockedBps            int32  `json:"locked_bps"`
	FeeBps               int32  `json:"fee_bps"`
	TimestampUs          int64  `json:"timestamp_us"`
}

// ParseTradeExecuted converts a launch.trades.executed payload into a
// ledger record. Structural validation only: sequence and reserve
// consistency are the ledger's job.
func ParseTradeExecuted(data []byte) (ledger.Trade, error) {
	var j tradeExecutedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return ledger.Trade{}, fmt.Errorf("parse TradeExecuted: %w", err)
	}

	if j.TokenID == "" {
		return ledger.Trade{}, fmt.Errorf("parse TradeExecuted: missing token_id")
	}
	if j.UserID == "" {
		return ledger.Trade{}, fmt.Errorf("parse TradeExecuted: missing user_id")
	}
	if j.Seq <= 0 {
		return ledger.Trade{}, fmt.Errorf("parse TradeExecuted: non-positive seq %d", j.Seq)
	}
	if j.BaseAmount <= 0 || j.TokenAmount <= 0 {
		return ledger.Trade{}, fmt.Errorf("parse TradeExecuted: non-positive amounts (%d, %d)",
			j.BaseAmount, j.TokenAmount)
	}
	if j.TimestampUs <= 0 {
		return ledger.Trade{}, fmt.Errorf("parse TradeExecuted: missing timestamp_us")
	}

	return ledger.Trade{
		Seq:                j.Seq,
		TokenID:            j.TokenID,
		UserID:             j.UserID,
		IsBuy:              j.IsBuy,
		BaseAmount:         j.BaseAmount,
		TokenAmount:        j.TokenAmount,
		BaseReservesAfter:  j.BaseReservesAfter,
		TokenReservesAfter: j.TokenReservesAfter,
		Timestamp:          time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

// ParseTokenCreated converts a launch.tokens.created payload into a
// token config. Range validation is delegated to TokenConfig.Validate.
func ParseTokenCreated(data []byte) (ledger.TokenConfig, error) {
	var j tokenCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return ledger.TokenConfig{}, fmt.Errorf("parse TokenCreated: %w", err)
	}

	if j.TimestampUs <= 0 {
		return ledger.TokenConfig{}, fmt.Errorf("parse TokenCreated: missing timestamp_us")
	}

	cfg := ledger.TokenConfig{
		TokenID:              j.TokenID,
		CreatorID:            j.CreatorID,
		InitialBaseReserves:  j.InitialBaseReserves,
		InitialTokenReserves: j.InitialTokenReserves,
		LockedBps:            j.LockedBps,
		FeeBps:               j.FeeBps,
		CreatedAt:            time.UnixMicro(j.TimestampUs).UTC(),
	}
	if err := cfg.Validate(); err != nil {
		return ledger.TokenConfig{}, fmt.Errorf("parse TokenCreated: %w", err)
	}
	return cfg, nil
}
