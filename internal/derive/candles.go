package derive

import (
	"curveledger/internal/curve"
	"curveledger/internal/ledger"
)

// Candle is an OHLC summary of one fixed-width time bucket. Prices come
// from post-trade reserve snapshots. Volume fields are token amounts and
// stay absent from payloads while zero.
type Candle struct {
	TokenID     string      `json:"token_id"`
	BucketStart int64       `json:"bucket_start"` // unix seconds, floor-aligned to width
	Open        curve.Price `json:"open"`
	High        curve.Price `json:"high"`
	Low         curve.Price `json:"low"`
	Close       curve.Price `json:"close"`

	DevBuyVolume  int64 `json:"dev_buy_volume,omitempty"`
	DevSellVolume int64 `json:"dev_sell_volume,omitempty"`

	// Populated only when a user filter was supplied to the aggregation.
	UserBuyVolume  int64 `json:"user_buy_volume,omitempty"`
	UserSellVolume int64 `json:"user_sell_volume,omitempty"`
}

// BucketStart aligns a unix-seconds timestamp down to its bucket.
func BucketStart(ts, widthSec int64) int64 {
	if widthSec <= 0 {
		return ts
	}
	start := (ts / widthSec) * widthSec
	// Integer division truncates toward zero; pre-epoch timestamps need the
	// floor, not the truncation.
	if ts < 0 && ts%widthSec != 0 {
		start -= widthSec
	}
	return start
}

// BuildCandles buckets a token's trade subsequence within [from, to] into
// widthSec-wide candles, ascending by bucket start.
//
// The very first bucket in range opens at the config's initial-reserve
// price — not at the first trade's own price — and every later bucket opens
// at the previous bucket's close. Buckets with no trades are omitted, not
// synthesized; consumers handle the gaps.
//
// userID, when non-empty, additionally accumulates that user's buy/sell
// volume per bucket.
func BuildCandles(cfg ledger.TokenConfig, trades []ledger.Trade, widthSec, from, to int64, userID string) []Candle {
	if widthSec <= 0 {
		return nil
	}

	var candles []Candle
	prevClose := cfg.InitialPrice()

	var cur *Candle
	for _, t := range trades {
		ts := t.Timestamp.Unix()
		if ts < from || ts > to {
			continue
		}

		bucket := BucketStart(ts, widthSec)
		price := t.Price()

		if cur == nil || cur.BucketStart != bucket {
			if cur != nil {
				prevClose = cur.Close
				candles = append(candles, *cur)
			}
			cur = &Candle{
				TokenID:     cfg.TokenID,
				BucketStart: bucket,
				Open:        prevClose,
				High:        price,
				Low:         price,
				Close:       price,
			}
		} else {
			if price.Cmp(cur.High) > 0 {
				cur.High = price
			}
			if price.Cmp(cur.Low) < 0 {
				cur.Low = price
			}
			cur.Close = price
		}

		if t.UserID == cfg.CreatorID {
			if t.IsBuy {
				cur.DevBuyVolume += t.TokenAmount
			} else {
				cur.DevSellVolume += t.TokenAmount
			}
		}
		if userID != "" && t.UserID == userID {
			if t.IsBuy {
				cur.UserBuyVolume += t.TokenAmount
			} else {
				cur.UserSellVolume += t.TokenAmount
			}
		}
	}
	if cur != nil {
		candles = append(candles, *cur)
	}
	return candles
}
