package query

import (
	"fmt"
	"math"
	"sync"
	"time"

	"curveledger/internal/curve"
	"curveledger/internal/derive"
	"curveledger/internal/ledger"
	"curveledger/internal/observability"
)

// Service answers read queries by folding the in-memory ledger. Token
// discovery (ListTokens) is the exception: it reads the Postgres
// token_stats projection so it can sort across all tokens cheaply.
type Service struct {
	store   *ledger.Store
	metrics *observability.Metrics

	// Holder folds are O(trades); memoize per token keyed by the last
	// applied sequence so repeated queries between trades are O(1).
	mu    sync.Mutex
	memos map[string]holderMemo
}

type holderMemo struct {
	seq      int64
	balances map[string]int64
}

func NewService(store *ledger.Store, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		metrics: metrics,
		memos:   make(map[string]holderMemo),
	}
}

// GetCurveState derives the current curve view for one token.
func (s *Service) GetCurveState(tokenID string) (*CurveStateResponse, error) {
	defer s.observe("curve_state", time.Now())

	_, state, lastSeq, err := s.stateOf(tokenID)
	if err != nil {
		return nil, err
	}

	return &CurveStateResponse{
		TokenID:       tokenID,
		State:         state,
		Band:          state.BandOf().String(),
		CompletionPct: state.CompletionPct(),
		PriceDecimal:  state.Price.Decimal(),
		// Not lastSeq: a token whose history was pruned upstream anchors
		// its first record above 1.
		TradeCount: int64(len(s.store.Trades(tokenID))),
		AsOfSeq:    lastSeq,
	}, nil
}

// GetHolderBalances ranks holders with at least minBalance tokens,
// largest first.
func (s *Service) GetHolderBalances(tokenID string, minBalance int64) (*HoldersResponse, error) {
	defer s.observe("holders", time.Now())

	cfg, state, lastSeq, err := s.stateOf(tokenID)
	if err != nil {
		return nil, err
	}

	balances, err := s.foldHolders(tokenID, lastSeq)
	if err != nil {
		return nil, err
	}

	circulating := cfg.InitialTokenReserves - state.TokenReserves
	return &HoldersResponse{
		TokenID:       tokenID,
		Holders:       derive.RankHolders(balances, minBalance),
		Concentration: derive.ComputeConcentration(balances, circulating, cfg.CreatorID),
		AsOfSeq:       lastSeq,
	}, nil
}

// GetUserPnL replays one user's cost basis on one token and marks the
// open position to the current curve price.
func (s *Service) GetUserPnL(tokenID, userID string) (*PnLResponse, error) {
	defer s.observe("user_pnl", time.Now())

	cfg, state, lastSeq, err := s.stateOf(tokenID)
	if err != nil {
		return nil, err
	}

	basis := derive.ReplayCostBasis(s.store.UserTrades(tokenID, userID), cfg.FeeBps)
	resp := &PnLResponse{
		TokenID:       tokenID,
		UserID:        userID,
		TokensHeld:    basis.TokensHeld,
		CostBasis:     basis.CostBasis,
		AvgEntryPrice: basis.AvgEntryPrice(),
		RealizedPnL:   basis.RealizedPnL,
		UnrealizedPnL: basis.UnrealizedPnL(state.Price),
		AsOfSeq:       lastSeq,
	}
	return resp, nil
}

// GetPortfolioPnL aggregates a user's open positions across every token
// they have traded. Fully exited positions are excluded: their realized
// PnL remains visible on the per-token query.
func (s *Service) GetPortfolioPnL(userID string) (*PortfolioResponse, error) {
	defer s.observe("portfolio", time.Now())

	resp := &PortfolioResponse{UserID: userID}
	for _, tokenID := range s.store.TokensOf(userID) {
		p, err := s.GetUserPnL(tokenID, userID)
		if err != nil {
			return nil, err
		}
		if p.TokensHeld <= 0 {
			continue
		}
		resp.Positions = append(resp.Positions, *p)
		resp.TotalCostBasis += p.CostBasis
		resp.TotalRealizedPnL += p.RealizedPnL
		resp.TotalUnrealizedPnL += p.UnrealizedPnL
	}
	return resp, nil
}

// GetCandles builds an OHLC series over [from, to] (unix seconds, zero
// means unbounded). A non-empty userID additionally splits per-user
// volumes.
func (s *Service) GetCandles(tokenID string, widthSec, from, to int64, userID string) (*CandlesResponse, error) {
	defer s.observe("candles", time.Now())

	if widthSec <= 0 {
		return nil, fmt.Errorf("candles: non-positive bucket width %d", widthSec)
	}
	cfg, ok := s.store.Config(tokenID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownToken, tokenID)
	}
	if to <= 0 {
		to = math.MaxInt64
	}
	if from < 0 {
		from = 0
	}

	trades := s.store.Trades(tokenID)
	return &CandlesResponse{
		TokenID:  tokenID,
		WidthSec: widthSec,
		Candles:  derive.BuildCandles(cfg, trades, widthSec, from, to, userID),
		AsOfSeq:  s.store.LastSeq(tokenID),
	}, nil
}

// GetTrades returns the trade tape newest-first. beforeSeq paginates:
// zero means from the latest.
func (s *Service) GetTrades(tokenID string, limit int, beforeSeq int64) (*TradesResponse, error) {
	defer s.observe("trades", time.Now())

	if _, ok := s.store.Config(tokenID); !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownToken, tokenID)
	}
	if limit <= 0 {
		limit = 50
	}

	all := s.store.Trades(tokenID)
	end := len(all)
	if beforeSeq > 0 {
		// Sequences are dense, so the slice index is derivable.
		for end > 0 && all[end-1].Seq >= beforeSeq {
			end--
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	resp := &TradesResponse{TokenID: tokenID, AsOfSeq: s.store.LastSeq(tokenID)}
	for i := end - 1; i >= start; i-- {
		t := all[i]
		resp.Trades = append(resp.Trades, TradeEntry{
			Seq:         t.Seq,
			UserID:      t.UserID,
			IsBuy:       t.IsBuy,
			BaseAmount:  t.BaseAmount,
			TokenAmount: t.TokenAmount,
			Price:       t.Price(),
			Timestamp:   t.Timestamp,
		})
	}
	return resp, nil
}

// VerifyIntegrity independently re-folds a token's ledger: sequence
// density, reserve conservation against the recorded amounts, quote
// consistency, and holder non-negativity. The ledger rejects violations
// at append time; this re-derives the same facts from scratch so drift
// in either path is caught.
func (s *Service) VerifyIntegrity(tokenID string) (*IntegrityReport, error) {
	defer s.observe("verify_integrity", time.Now())

	cfg, ok := s.store.Config(tokenID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownToken, tokenID)
	}

	report := &IntegrityReport{TokenID: tokenID}
	trades := s.store.Trades(tokenID)

	base := cfg.InitialBaseReserves
	token := cfg.InitialTokenReserves
	balances := make(map[string]int64)
	var prevSeq int64

	for _, t := range trades {
		report.TradesChecked++

		if prevSeq != 0 && t.Seq != prevSeq+1 {
			report.Faults = append(report.Faults,
				fmt.Sprintf("seq %d follows %d: not dense", t.Seq, prevSeq))
		}
		prevSeq = t.Seq

		if t.IsBuy {
			base += t.BaseAmount
			token -= t.TokenAmount
			balances[t.UserID] += t.TokenAmount
		} else {
			base -= t.BaseAmount
			token += t.TokenAmount
			balances[t.UserID] -= t.TokenAmount
		}

		if base != t.BaseReservesAfter || token != t.TokenReservesAfter {
			report.Faults = append(report.Faults,
				fmt.Sprintf("seq %d: refolded reserves (%d, %d) disagree with snapshot (%d, %d)",
					t.Seq, base, token, t.BaseReservesAfter, t.TokenReservesAfter))
			// Resynchronize so one fault does not cascade.
			base = t.BaseReservesAfter
			token = t.TokenReservesAfter
		}
		if bal := balances[t.UserID]; bal < 0 {
			report.Faults = append(report.Faults,
				fmt.Sprintf("seq %d: user %s balance %d below zero", t.Seq, t.UserID, bal))
		}
	}

	// Conservation: every token that left the reserves is held by someone.
	var held int64
	for _, bal := range balances {
		held += bal
	}
	if sold := cfg.InitialTokenReserves - token; held != sold {
		report.Faults = append(report.Faults,
			fmt.Sprintf("held %d != sold %d: tokens not conserved", held, sold))
	}

	report.IsHealthy = len(report.Faults) == 0
	return report, nil
}

// stateOf projects the current curve state for a token.
func (s *Service) stateOf(tokenID string) (ledger.TokenConfig, curve.State, int64, error) {
	cfg, ok := s.store.Config(tokenID)
	if !ok {
		return ledger.TokenConfig{}, curve.State{}, 0, fmt.Errorf("%w: %s", ledger.ErrUnknownToken, tokenID)
	}

	currentBase := cfg.InitialBaseReserves
	currentToken := cfg.InitialTokenReserves
	var lastSeq int64
	if last, ok := s.store.LastTrade(tokenID); ok {
		currentBase = last.BaseReservesAfter
		currentToken = last.TokenReservesAfter
		lastSeq = last.Seq
	}

	state := curve.ProjectState(
		cfg.InitialBaseReserves, cfg.InitialTokenReserves, cfg.LockedBps,
		currentBase, currentToken, cfg.Graduated,
	)
	return cfg, state, lastSeq, nil
}

func (s *Service) foldHolders(tokenID string, lastSeq int64) (map[string]int64, error) {
	s.mu.Lock()
	memo, ok := s.memos[tokenID]
	s.mu.Unlock()
	if ok && memo.seq == lastSeq {
		return memo.balances, nil
	}

	balances, err := derive.FoldBalances(s.store.Trades(tokenID))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.memos[tokenID] = holderMemo{seq: lastSeq, balances: balances}
	s.mu.Unlock()
	return balances, nil
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
