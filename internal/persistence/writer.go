package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"curveledger/internal/ledger"
)

// Writer batch-writes ledger records to Postgres using multi-row INSERT
// with ON CONFLICT DO NOTHING, so redelivered batches after a crash are
// idempotent.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteTradeBatch inserts trade records inside the given transaction.
func (w *Writer) WriteTradeBatch(ctx context.Context, tx *sql.Tx, trades []ledger.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	query := `INSERT INTO curve_ledger.trades
		(token_id, seq, user_id, is_buy, base_amount, token_amount,
		 base_reserves_after, token_reserves_after, executed_at)
		VALUES `

	values := make([]string, 0, len(trades))
	args := make([]interface{}, 0, len(trades)*9)

	for i, t := range trades {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			t.TokenID, t.Seq, t.UserID, t.IsBuy, t.BaseAmount, t.TokenAmount,
			t.BaseReservesAfter, t.TokenReservesAfter, t.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (token_id, seq) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteTokenBatch inserts token configs inside the given transaction.
// Configs are immutable; graduation is re-derived from the trade log, so
// no column ever needs an update.
func (w *Writer) WriteTokenBatch(ctx context.Context, tx *sql.Tx, configs []ledger.TokenConfig) error {
	if len(configs) == 0 {
		return nil
	}

	query := `INSERT INTO curve_ledger.tokens
		(token_id, creator_id, initial_base_reserves, initial_token_reserves,
		 locked_bps, fee_bps, created_at)
		VALUES `

	values := make([]string, 0, len(configs))
	args := make([]interface{}, 0, len(configs)*7)

	for i, c := range configs {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			c.TokenID, c.CreatorID, c.InitialBaseReserves, c.InitialTokenReserves,
			c.LockedBps, c.FeeBps, c.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (token_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
