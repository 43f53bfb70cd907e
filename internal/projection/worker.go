package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"curveledger/internal/engine"
	"curveledger/internal/observability"
)

// Worker maintains the token_stats projection that powers the token
// discovery listings. It consumes the engine's non-blocking publish
// channel, so it may miss notifications under load; Rebuild restores it
// from the durable ledger.
type Worker struct {
	db        *sql.DB
	inputChan <-chan engine.Notification
	metrics   *observability.Metrics
}

func NewWorker(db *sql.DB, inputChan <-chan engine.Notification, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, n); err != nil {
				// Eventually consistent: a failed update is repaired
				// by the next one or by a rebuild.
				log.Printf("WARN: projection update failed token=%s seq=%d: %v", n.TokenID, n.Seq, err)
				if w.metrics != nil {
					w.metrics.ProjectionErrors.Inc()
				}
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, n engine.Notification) error {
	switch n.Kind {
	case engine.NotifyTokenCreated:
		return w.upsertCreated(ctx, n)
	case engine.NotifyCurveUpdate, engine.NotifyGraduation:
		return w.upsertState(ctx, n)
	default:
		// Candle, PnL, band, and tape notifications carry nothing the
		// listing needs beyond what the curve update already wrote.
		return nil
	}
}

func (w *Worker) upsertCreated(ctx context.Context, n engine.Notification) error {
	start := time.Now()
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO projections.token_stats
			(token_id, last_seq, price_base, price_token, completion_bps, graduated, last_trade_at, updated_at)
		VALUES ($1, 0, 0, 0, 0, FALSE, NULL, NOW())
		ON CONFLICT (token_id) DO NOTHING
	`, n.TokenID)
	if err == nil && w.metrics != nil {
		w.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
	}
	return err
}

func (w *Worker) upsertState(ctx context.Context, n engine.Notification) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Guard on last_seq so a stale notification never rewinds the row.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.token_stats
			(token_id, last_seq, price_base, price_token, completion_bps, graduated, last_trade_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (token_id) DO UPDATE SET
			last_seq = EXCLUDED.last_seq,
			price_base = EXCLUDED.price_base,
			price_token = EXCLUDED.price_token,
			completion_bps = EXCLUDED.completion_bps,
			graduated = projections.token_stats.graduated OR EXCLUDED.graduated,
			last_trade_at = EXCLUDED.last_trade_at,
			updated_at = NOW()
		WHERE projections.token_stats.last_seq <= EXCLUDED.last_seq
	`, n.TokenID, n.Seq, n.State.Price.Base, n.State.Price.Token,
		n.State.CompletionBps, n.State.IsGraduated, n.Timestamp); err != nil {
		return fmt.Errorf("token_stats upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, updated_at)
		VALUES ('token_stats', NOW())
		ON CONFLICT (worker_id) DO UPDATE SET updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// RebuildRow rewrites one token's projection row from authoritative
// derived state, used after startup replay to repair drops.
func (w *Worker) RebuildRow(ctx context.Context, tokenID string, lastSeq, priceBase, priceToken, completionBps int64, graduated bool, lastTradeAt time.Time) error {
	var at interface{}
	if !lastTradeAt.IsZero() {
		at = lastTradeAt
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO projections.token_stats
			(token_id, last_seq, price_base, price_token, completion_bps, graduated, last_trade_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (token_id) DO UPDATE SET
			last_seq = EXCLUDED.last_seq,
			price_base = EXCLUDED.price_base,
			price_token = EXCLUDED.price_token,
			completion_bps = EXCLUDED.completion_bps,
			graduated = EXCLUDED.graduated,
			last_trade_at = EXCLUDED.last_trade_at,
			updated_at = NOW()
	`, tokenID, lastSeq, priceBase, priceToken, completionBps, graduated, at)
	return err
}
