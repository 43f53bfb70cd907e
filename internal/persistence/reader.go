package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"curveledger/internal/ledger"
)

// Reader streams the durable ledger back out of Postgres for cold-start
// replay. The in-memory store is rebuilt by re-applying every trade in
// order; nothing derived is ever loaded.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// LoadTokens returns every token config, oldest first.
func (r *Reader) LoadTokens(ctx context.Context) ([]ledger.TokenConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token_id, creator_id, initial_base_reserves, initial_token_reserves,
		       locked_bps, fee_bps, created_at
		FROM curve_ledger.tokens
		ORDER BY created_at, token_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	var configs []ledger.TokenConfig
	for rows.Next() {
		var c ledger.TokenConfig
		if err := rows.Scan(
			&c.TokenID, &c.CreatorID, &c.InitialBaseReserves, &c.InitialTokenReserves,
			&c.LockedBps, &c.FeeBps, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		configs = append(configs, c)
	}

	return configs, rows.Err()
}

// StreamTrades walks all trades grouped by token in sequence order,
// invoking fn for each. Replay aborts on the first error so a corrupt
// row never gets silently skipped.
func (r *Reader) StreamTrades(ctx context.Context, fn func(ledger.Trade) error) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token_id, seq, user_id, is_buy, base_amount, token_amount,
		       base_reserves_after, token_reserves_after, executed_at
		FROM curve_ledger.trades
		ORDER BY token_id, seq
	`)
	if err != nil {
		return 0, fmt.Errorf("stream trades: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		var t ledger.Trade
		if err := rows.Scan(
			&t.TokenID, &t.Seq, &t.UserID, &t.IsBuy, &t.BaseAmount, &t.TokenAmount,
			&t.BaseReservesAfter, &t.TokenReservesAfter, &t.Timestamp,
		); err != nil {
			return count, fmt.Errorf("scan trade: %w", err)
		}
		if err := fn(t); err != nil {
			return count, fmt.Errorf("replay %s seq %d: %w", t.TokenID, t.Seq, err)
		}
		count++
	}

	return count, rows.Err()
}

// LastPersistedSeq returns the highest persisted sequence for a token,
// or 0 when the token has no trades.
func (r *Reader) LastPersistedSeq(ctx context.Context, tokenID string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM curve_ledger.trades WHERE token_id = $1
	`, tokenID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
