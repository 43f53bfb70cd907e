package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TokenLister serves the token discovery surface from the Postgres
// token_stats projection. Sort dimensions are a closed enum mapped to
// fixed ORDER BY clauses; nothing caller-supplied is ever interpolated
// into SQL.
type TokenLister struct {
	db *sql.DB
}

func NewTokenLister(db *sql.DB) *TokenLister {
	return &TokenLister{db: db}
}

const maxListLimit = 200

// ListTokens returns a page of tokens ordered by the requested
// dimension.
//
//	SortByBump:      last trade time (activity feed)
//	SortByNear:      completion, ungraduated tokens only
//	SortByGraduated: last trade time, graduated tokens only
func (l *TokenLister) ListTokens(ctx context.Context, sortBy SortBy, order Order, limit int) ([]TokenListing, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	base := `
		SELECT token_id, last_seq, price_base, price_token,
		       completion_bps, graduated, last_trade_at
		FROM projections.token_stats`

	var stmt string
	switch {
	case sortBy == SortByBump && order == OrderDesc:
		stmt = base + ` ORDER BY last_trade_at DESC, token_id LIMIT $1`
	case sortBy == SortByBump && order == OrderAsc:
		stmt = base + ` ORDER BY last_trade_at ASC, token_id LIMIT $1`
	case sortBy == SortByNear && order == OrderDesc:
		stmt = base + ` WHERE NOT graduated ORDER BY completion_bps DESC, token_id LIMIT $1`
	case sortBy == SortByNear && order == OrderAsc:
		stmt = base + ` WHERE NOT graduated ORDER BY completion_bps ASC, token_id LIMIT $1`
	case sortBy == SortByGraduated && order == OrderDesc:
		stmt = base + ` WHERE graduated ORDER BY last_trade_at DESC, token_id LIMIT $1`
	case sortBy == SortByGraduated && order == OrderAsc:
		stmt = base + ` WHERE graduated ORDER BY last_trade_at ASC, token_id LIMIT $1`
	default:
		return nil, fmt.Errorf("list tokens: unknown sort (%d, %d)", sortBy, order)
	}

	rows, err := l.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []TokenListing
	for rows.Next() {
		var t TokenListing
		var lastTradeAt sql.NullTime
		if err := rows.Scan(
			&t.TokenID, &t.LastSeq, &t.PriceBase, &t.PriceToken,
			&t.CompletionBps, &t.Graduated, &lastTradeAt,
		); err != nil {
			return nil, err
		}
		if lastTradeAt.Valid {
			t.LastTradeAt = lastTradeAt.Time
		} else {
			t.LastTradeAt = time.Time{}
		}
		listings = append(listings, t)
	}

	return listings, rows.Err()
}
