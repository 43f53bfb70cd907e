// Package derive holds the read-side derivations: pure, total folds over
// immutable ledger slices. Nothing in this package mutates shared state, so
// every function is safe to run concurrently and re-running one over the
// same slice yields identical output.
package derive

import (
	"errors"
	"fmt"
	"sort"

	"curveledger/internal/curve"
	"curveledger/internal/ledger"
)

// ErrCorruptLedger marks a fold that drove a holder balance negative. A
// correctly validated ledger can never do this, so the derivation rejects
// the slice instead of clamping.
var ErrCorruptLedger = errors.New("derive: ledger fold produced negative balance")

// HolderBalance is a derived (user, balance) pair for one token.
type HolderBalance struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// FoldBalances folds a token's ordered trade subsequence into signed
// balances per holder: buys add TokenAmount, sells subtract it. Any interim
// negative balance aborts the fold.
func FoldBalances(trades []ledger.Trade) (map[string]int64, error) {
	balances := make(map[string]int64)
	for _, t := range trades {
		if t.IsBuy {
			balances[t.UserID] += t.TokenAmount
		} else {
			balances[t.UserID] -= t.TokenAmount
		}
		if balances[t.UserID] < 0 {
			return nil, fmt.Errorf("%w: token=%s user=%s seq=%d balance=%d",
				ErrCorruptLedger, t.TokenID, t.UserID, t.Seq, balances[t.UserID])
		}
	}
	return balances, nil
}

// FoldUserBalance folds a single user's balance from their trade
// subsequence.
func FoldUserBalance(trades []ledger.Trade) (int64, error) {
	var balance int64
	for _, t := range trades {
		if t.IsBuy {
			balance += t.TokenAmount
		} else {
			balance -= t.TokenAmount
		}
		if balance < 0 {
			return 0, fmt.Errorf("%w: token=%s user=%s seq=%d balance=%d",
				ErrCorruptLedger, t.TokenID, t.UserID, t.Seq, balance)
		}
	}
	return balance, nil
}

// RankHolders orders holders by balance descending (user ID ascending on
// ties, for determinism), keeping only balances above minBalance and zero
// excluded.
func RankHolders(balances map[string]int64, minBalance int64) []HolderBalance {
	out := make([]HolderBalance, 0, len(balances))
	for user, bal := range balances {
		if bal <= 0 || bal < minBalance {
			continue
		}
		out = append(out, HolderBalance{UserID: user, Balance: bal})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Concentration is the derived holder-distribution view for one token.
// Shares are basis points of circulating supply.
type Concentration struct {
	Holders    int   `json:"holders"`
	Top10Bps   int64 `json:"top10_bps"`
	CreatorBps int64 `json:"creator_bps"`
}

// ComputeConcentration derives holder count, top-10 share, and creator
// share. circulating is initial token reserves minus current token reserves;
// a zero or negative denominator yields zero shares, never a division
// fault.
func ComputeConcentration(balances map[string]int64, circulating int64, creatorID string) Concentration {
	ranked := RankHolders(balances, 0)

	c := Concentration{Holders: len(ranked)}
	if circulating <= 0 {
		return c
	}

	var top10 int64
	for i, h := range ranked {
		if i >= 10 {
			break
		}
		top10 += h.Balance
	}
	c.Top10Bps = curve.MulDiv(top10, curve.BpsDenominator, circulating)

	if creator, ok := balances[creatorID]; ok && creator > 0 {
		c.CreatorBps = curve.MulDiv(creator, curve.BpsDenominator, circulating)
	}
	return c
}
