package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"curveledger/internal/engine"
	"curveledger/internal/ledger"
	"curveledger/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes to
// Postgres. The engine blocks on that channel, so if this worker falls
// behind, the write path stalls rather than lose a record.
type Worker struct {
	writer       *Writer
	db           *sql.DB
	inputChan    <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run batches incoming outputs and flushes either when the batch is
// full or the flush timeout expires. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	tradeBatch := make([]ledger.Trade, 0, w.batchSize)
	tokenBatch := make([]ledger.TokenConfig, 0, 8)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(tradeBatch) > 0 || len(tokenBatch) > 0 {
				// Shutdown flush runs on a background context so the
				// batch is not lost to the cancellation itself.
				if err := w.flush(context.Background(), tradeBatch, tokenBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				if len(tradeBatch) > 0 || len(tokenBatch) > 0 {
					if err := w.flush(context.Background(), tradeBatch, tokenBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			if out.Trade != nil {
				tradeBatch = append(tradeBatch, *out.Trade)
			}
			if out.Config != nil {
				tokenBatch = append(tokenBatch, *out.Config)
			}

			if len(tradeBatch) >= w.batchSize {
				w.flushWithRetry(ctx, tradeBatch, tokenBatch)
				tradeBatch = tradeBatch[:0]
				tokenBatch = tokenBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(tradeBatch) > 0 || len(tokenBatch) > 0 {
				w.flushWithRetry(ctx, tradeBatch, tokenBatch)
				tradeBatch = tradeBatch[:0]
				tokenBatch = tokenBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops a batch: it retries until the write succeeds or the context is
// cancelled, in which case it makes one final attempt on a background
// context.
func (w *Worker) flushWithRetry(ctx context.Context, trades []ledger.Trade, tokens []ledger.TokenConfig) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, trades=%d)",
				attempt, backoff, len(trades))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), trades, tokens); err != nil {
					log.Printf("ERROR: final flush on shutdown failed: %v", err)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, trades, tokens); err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, trades []ledger.Trade, tokens []ledger.TokenConfig) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteTokenBatch(ctx, tx, tokens); err != nil {
		w.countError("write_tokens")
		return err
	}
	if err := w.writer.WriteTradeBatch(ctx, tx, trades); err != nil {
		w.countError("write_trades")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(trades)))
		w.metrics.PersistTradesWritten.Add(float64(len(trades)))
		if len(trades) > 0 {
			w.metrics.PersistLastSeq.Set(float64(trades[len(trades)-1].Seq))
		}
	}
	return nil
}

func (w *Worker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
