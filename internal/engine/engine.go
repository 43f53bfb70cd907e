package engine

import (
	"errors"
	"fmt"
	"time"

	"curveledger/internal/curve"
	"curveledger/internal/derive"
	"curveledger/internal/ledger"
	"curveledger/internal/observability"
)

// Output is what the engine hands to the persistence worker. Exactly one
// of Trade or Config is set.
type Output struct {
	Trade  *ledger.Trade
	Config *ledger.TokenConfig
}

// NotificationKind classifies outbound notifications.
type NotificationKind int

const (
	NotifyCurveUpdate NotificationKind = iota
	NotifyTrade
	NotifyCandleBucket
	NotifyPnLUpdate
	NotifyGraduation
	NotifyBandChange
	NotifyTokenCreated
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyCurveUpdate:
		return "curve_update"
	case NotifyTrade:
		return "trade"
	case NotifyCandleBucket:
		return "candle_bucket"
	case NotifyPnLUpdate:
		return "pnl_update"
	case NotifyGraduation:
		return "graduation"
	case NotifyBandChange:
		return "band_change"
	case NotifyTokenCreated:
		return "token_created"
	default:
		return "unknown"
	}
}

// Notification is pushed to the publisher and the market feed. Fields
// beyond Kind and TokenID are populated per kind.
type Notification struct {
	Kind        NotificationKind  `json:"-"`
	TokenID     string            `json:"-"`
	UserID      string            `json:"-"`
	Seq         int64             `json:"-"`
	State       curve.State       `json:"state,omitempty"`
	Band        curve.Band        `json:"band,omitempty"`
	Trade       *ledger.Trade     `json:"trade,omitempty"`
	Position    *derive.CostBasis `json:"position,omitempty"`
	BucketStart int64             `json:"bucket_start,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Engine is the single-threaded write path. All trades for all tokens
// flow through ProcessTrade on one goroutine; the ledger store does its
// own locking only because the query side reads concurrently.
type Engine struct {
	store       *ledger.Store
	metrics     *observability.Metrics
	candleWidth int64 // seconds

	// per-token derived state the engine tracks across trades
	bands   map[string]curve.Band
	buckets map[string]int64

	persistChan chan<- Output
	publishChan chan<- Notification
}

func New(
	store *ledger.Store,
	candleWidthSec int64,
	persistChan chan<- Output,
	publishChan chan<- Notification,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		store:       store,
		metrics:     metrics,
		candleWidth: candleWidthSec,
		bands:       make(map[string]curve.Band),
		buckets:     make(map[string]int64),
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// CreateToken registers a new token config, persists it, and announces it.
func (e *Engine) CreateToken(cfg ledger.TokenConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.store.CreateToken(cfg); err != nil {
		if errors.Is(err, ledger.ErrTokenExists) {
			// Re-delivered creation event. Idempotent skip.
			return nil
		}
		return err
	}

	e.bands[cfg.TokenID] = curve.BandEarly
	e.buckets[cfg.TokenID] = 0

	if e.metrics != nil {
		e.metrics.TokensCreated.Inc()
	}

	e.persistChan <- Output{Config: &cfg}
	e.publish(Notification{
		Kind:      NotifyTokenCreated,
		TokenID:   cfg.TokenID,
		Timestamp: cfg.CreatedAt,
	})
	return nil
}

// ProcessTrade is the main write pipeline: duplicate detection, append
// with sequence and reserve validation, graduation and band derivation,
// then emit to persistence (blocking) and publisher (non-blocking).
func (e *Engine) ProcessTrade(trade ledger.Trade) error {
	start := time.Now()

	// Duplicate detection: an already-applied sequence with identical
	// content is a redelivery and is silently skipped. Same sequence
	// with different content is corruption upstream.
	if lastSeq := e.store.LastSeq(trade.TokenID); lastSeq > 0 && trade.Seq <= lastSeq {
		prior, ok := e.store.TradeAt(trade.TokenID, trade.Seq)
		if ok && prior.Equal(trade) {
			if e.metrics != nil {
				e.metrics.TradesRejected.WithLabelValues("duplicate").Inc()
			}
			return nil
		}
		if e.metrics != nil {
			e.metrics.TradesRejected.WithLabelValues("conflict").Inc()
		}
		return fmt.Errorf("trade %s: %w", trade.IdempotencyKey(), ledger.ErrStaleSequence)
	}

	if err := e.store.Append(trade); err != nil {
		if e.metrics != nil {
			e.metrics.TradesRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		return err
	}

	// Append succeeded, so the config exists.
	cfg, _ := e.store.Config(trade.TokenID)

	state := e.stateAfter(cfg, &trade)
	e.deriveTransitions(&trade, state)

	// Persistence is a blocking send. The engine stalls rather than
	// lose a trade; the publisher below may drop.
	e.persistChan <- Output{Trade: &trade}
	if e.metrics != nil && cap(e.persistChan) > 0 && len(e.persistChan) == cap(e.persistChan) {
		e.metrics.PersistBackpressure.Inc()
	}

	e.publish(Notification{
		Kind:      NotifyTrade,
		TokenID:   trade.TokenID,
		UserID:    trade.UserID,
		Seq:       trade.Seq,
		Trade:     &trade,
		Timestamp: trade.Timestamp,
	})
	e.publish(Notification{
		Kind:      NotifyCurveUpdate,
		TokenID:   trade.TokenID,
		Seq:       trade.Seq,
		State:     state,
		Timestamp: trade.Timestamp,
	})
	e.publishPnL(cfg, &trade)

	if e.metrics != nil {
		side := "sell"
		if trade.IsBuy {
			side = "buy"
		}
		e.metrics.TradesApplied.WithLabelValues(side).Inc()
		e.metrics.TradeApplyDur.Observe(time.Since(start).Seconds())
		e.metrics.EngineLastSeq.WithLabelValues(trade.TokenID).Set(float64(trade.Seq))
	}
	return nil
}

// RestoreToken and RestoreTrade rebuild in-memory state during startup
// replay. Nothing is re-persisted and nothing is published.
func (e *Engine) RestoreToken(cfg ledger.TokenConfig) error {
	if err := e.store.CreateToken(cfg); err != nil && !errors.Is(err, ledger.ErrTokenExists) {
		return err
	}
	e.bands[cfg.TokenID] = curve.BandEarly
	return nil
}

func (e *Engine) RestoreTrade(trade ledger.Trade) error {
	if err := e.store.Append(trade); err != nil {
		return err
	}
	cfg, ok := e.store.Config(trade.TokenID)
	if !ok {
		return fmt.Errorf("restore %s: %w", trade.IdempotencyKey(), ledger.ErrUnknownToken)
	}
	state := e.stateAfter(cfg, &trade)
	if state.IsGraduated {
		e.store.MarkGraduated(trade.TokenID)
	}
	e.bands[trade.TokenID] = state.BandOf()
	e.buckets[trade.TokenID] = derive.BucketStart(trade.Timestamp.Unix(), e.candleWidth)
	if e.metrics != nil {
		e.metrics.ReplayTradesTotal.Inc()
	}
	return nil
}

// stateAfter projects the curve state from the trade's post-trade
// reserve snapshot.
func (e *Engine) stateAfter(cfg ledger.TokenConfig, trade *ledger.Trade) curve.State {
	graduated := e.store.IsGraduated(trade.TokenID)
	return curve.ProjectState(
		cfg.InitialBaseReserves,
		cfg.InitialTokenReserves,
		cfg.LockedBps,
		trade.BaseReservesAfter,
		trade.TokenReservesAfter,
		graduated,
	)
}

// deriveTransitions handles graduation, band crossings, and candle
// bucket rolls for an applied trade.
func (e *Engine) deriveTransitions(trade *ledger.Trade, state curve.State) {
	if state.IsGraduated {
		// One-way flag. MarkGraduated reports whether this trade
		// flipped it, so graduation fires exactly once per token.
		if e.store.MarkGraduated(trade.TokenID) {
			if e.metrics != nil {
				e.metrics.Graduations.Inc()
			}
			e.publish(Notification{
				Kind:      NotifyGraduation,
				TokenID:   trade.TokenID,
				Seq:       trade.Seq,
				State:     state,
				Timestamp: trade.Timestamp,
			})
		}
	}

	band := state.BandOf()
	if prev, ok := e.bands[trade.TokenID]; !ok || band != prev {
		e.bands[trade.TokenID] = band
		if ok {
			if e.metrics != nil {
				e.metrics.BandCrossings.WithLabelValues(band.String()).Inc()
			}
			e.publish(Notification{
				Kind:      NotifyBandChange,
				TokenID:   trade.TokenID,
				Seq:       trade.Seq,
				State:     state,
				Band:      band,
				Timestamp: trade.Timestamp,
			})
		}
	}

	bucket := derive.BucketStart(trade.Timestamp.Unix(), e.candleWidth)
	if prev, ok := e.buckets[trade.TokenID]; !ok || bucket != prev {
		prevBucket := int64(0)
		if ok {
			prevBucket = prev
		}
		e.buckets[trade.TokenID] = bucket
		if ok && prevBucket != 0 {
			// The previous bucket just closed.
			e.publish(Notification{
				Kind:        NotifyCandleBucket,
				TokenID:     trade.TokenID,
				Seq:         trade.Seq,
				BucketStart: prevBucket,
				Timestamp:   trade.Timestamp,
			})
		}
	}
}

// publishPnL replays the trader's cost basis and pushes the updated
// position. The replay walks only this user's trades for this token.
func (e *Engine) publishPnL(cfg ledger.TokenConfig, trade *ledger.Trade) {
	trades := e.store.UserTrades(trade.TokenID, trade.UserID)
	if len(trades) == 0 {
		return
	}
	basis := derive.ReplayCostBasis(trades, cfg.FeeBps)
	e.publish(Notification{
		Kind:      NotifyPnLUpdate,
		TokenID:   trade.TokenID,
		UserID:    trade.UserID,
		Seq:       trade.Seq,
		Position:  &basis,
		Timestamp: trade.Timestamp,
	})
}

// publish is a non-blocking send. Consumers that fall behind lose
// notifications and recover by querying.
func (e *Engine) publish(n Notification) {
	select {
	case e.publishChan <- n:
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, ledger.ErrStaleSequence):
		return "stale_sequence"
	case errors.Is(err, ledger.ErrSequenceGap):
		return "sequence_gap"
	case errors.Is(err, ledger.ErrReserveMismatch):
		return "reserve_mismatch"
	default:
		return "other"
	}
}
