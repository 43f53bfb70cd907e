package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"curveledger/internal/curve"
)

// Ledger integrity errors. An append that returns one of these has NOT
// modified the store; the record must be surfaced to the ingestion boundary,
// never silently accepted or auto-corrected.
var (
	ErrUnknownToken    = errors.New("ledger: unknown token")
	ErrTokenExists     = errors.New("ledger: token already registered")
	ErrStaleSequence   = errors.New("ledger: stale sequence")
	ErrSequenceGap     = errors.New("ledger: sequence gap")
	ErrReserveMismatch = errors.New("ledger: reserve snapshot inconsistent with constant-product math")
)

// reserveTolerance is the permitted integer-rounding drift between a trade's
// recorded amounts and the constant-product quote recomputed from the prior
// snapshot.
const reserveTolerance = 2

// Store is the append-only trade log: the single source of truth. There is
// exactly one writer (the ingestion path); derivations are read-only folds
// over immutable slices, so an RWMutex is all the coordination needed.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]*tokenLog
	// userTokens tracks which tokens each user has ever traded, for
	// portfolio-wide folds.
	userTokens map[string]map[string]struct{}
}

type tokenLog struct {
	config TokenConfig
	trades []Trade
}

func NewStore() *Store {
	return &Store{
		tokens:     make(map[string]*tokenLog),
		userTokens: make(map[string]map[string]struct{}),
	}
}

// CreateToken registers a token config exactly once.
func (s *Store) CreateToken(cfg TokenConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[cfg.TokenID]; exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, cfg.TokenID)
	}
	s.tokens[cfg.TokenID] = &tokenLog{config: cfg}
	return nil
}

// Append is the only write path into the log. It rejects out-of-order
// sequence numbers and reserve snapshots that disagree with constant-product
// math applied to the prior record, and otherwise appends the immutable
// record.
func (s *Store) Append(t Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.tokens[t.TokenID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, t.TokenID)
	}

	if err := validateSequence(log, t.Seq); err != nil {
		return err
	}
	if err := validateReserves(log, t); err != nil {
		return err
	}

	log.trades = append(log.trades, t)

	set, ok := s.userTokens[t.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.userTokens[t.UserID] = set
	}
	set[t.TokenID] = struct{}{}

	return nil
}

// validateSequence enforces strict per-token monotonicity. The first record
// anchors the baseline; every later record must be exactly last+1.
func validateSequence(log *tokenLog, seq int64) error {
	if seq <= 0 {
		return fmt.Errorf("%w: token=%s seq=%d", ErrStaleSequence, log.config.TokenID, seq)
	}
	if len(log.trades) == 0 {
		return nil
	}
	last := log.trades[len(log.trades)-1].Seq
	if seq <= last {
		return fmt.Errorf("%w: token=%s last=%d got=%d", ErrStaleSequence, log.config.TokenID, last, seq)
	}
	if seq != last+1 {
		return fmt.Errorf("%w: token=%s expected=%d got=%d", ErrSequenceGap, log.config.TokenID, last+1, seq)
	}
	return nil
}

// validateReserves checks the post-trade snapshot against the prior state.
// The reserve deltas must equal the recorded amounts exactly (fees never
// touch reserves), and the output amount must match the constant-product
// quote within the integer-rounding tolerance.
func validateReserves(log *tokenLog, t Trade) error {
	if t.BaseAmount <= 0 || t.TokenAmount <= 0 {
		return fmt.Errorf("%w: token=%s seq=%d non-positive amounts (%d, %d)",
			ErrReserveMismatch, t.TokenID, t.Seq, t.BaseAmount, t.TokenAmount)
	}

	prevBase := log.config.InitialBaseReserves
	prevToken := log.config.InitialTokenReserves
	if n := len(log.trades); n > 0 {
		prevBase = log.trades[n-1].BaseReservesAfter
		prevToken = log.trades[n-1].TokenReservesAfter
	}

	var expBase, expToken, quoted, recorded int64
	if t.IsBuy {
		expBase = prevBase + t.BaseAmount
		expToken = prevToken - t.TokenAmount
		quoted = curve.BuyOut(prevBase, prevToken, t.BaseAmount)
		recorded = t.TokenAmount
	} else {
		expBase = prevBase - t.BaseAmount
		expToken = prevToken + t.TokenAmount
		quoted = curve.SellGross(prevBase, prevToken, t.TokenAmount)
		recorded = t.BaseAmount
	}

	if expBase <= 0 || expToken <= 0 {
		return fmt.Errorf("%w: token=%s seq=%d reserves exhausted (%d, %d)",
			ErrReserveMismatch, t.TokenID, t.Seq, expBase, expToken)
	}
	if t.BaseReservesAfter != expBase || t.TokenReservesAfter != expToken {
		return fmt.Errorf("%w: token=%s seq=%d snapshot (%d, %d) want (%d, %d)",
			ErrReserveMismatch, t.TokenID, t.Seq,
			t.BaseReservesAfter, t.TokenReservesAfter, expBase, expToken)
	}
	if diff := quoted - recorded; diff > reserveTolerance || diff < -reserveTolerance {
		return fmt.Errorf("%w: token=%s seq=%d amount %d deviates from quote %d",
			ErrReserveMismatch, t.TokenID, t.Seq, recorded, quoted)
	}
	return nil
}

// MarkGraduated flips the one-way graduation flag. Returns true only on the
// first flip; repeating it is a no-op.
func (s *Store) MarkGraduated(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.tokens[tokenID]
	if !ok || log.config.Graduated {
		return false
	}
	log.config.Graduated = true
	return true
}

// IsGraduated reports the current graduation flag for a token.
func (s *Store) IsGraduated(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.tokens[tokenID]
	return ok && log.config.Graduated
}

// Config returns the token's config.
func (s *Store) Config(tokenID string) (TokenConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.tokens[tokenID]
	if !ok {
		return TokenConfig{}, false
	}
	return log.config, true
}

// Trades returns the full ordered trade subsequence for a token. Records are
// immutable and the log is append-only, so the bounded slice header is a
// stable read-only view.
func (s *Store) Trades(tokenID string) []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.tokens[tokenID]
	if !ok {
		return nil
	}
	return log.trades[:len(log.trades):len(log.trades)]
}

// LastTrade returns the most recent record for a token, if any.
func (s *Store) LastTrade(tokenID string) (Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.tokens[tokenID]
	if !ok || len(log.trades) == 0 {
		return Trade{}, false
	}
	return log.trades[len(log.trades)-1], true
}

// LastSeq returns the latest applied sequence number for a token (0 when
// the token has no trades).
func (s *Store) LastSeq(tokenID string) int64 {
	t, ok := s.LastTrade(tokenID)
	if !ok {
		return 0
	}
	return t.Seq
}

// TradeAt looks up a record by sequence number.
func (s *Store) TradeAt(tokenID string, seq int64) (Trade, bool) {
	trades := s.Trades(tokenID)
	i := sort.Search(len(trades), func(i int) bool { return trades[i].Seq >= seq })
	if i < len(trades) && trades[i].Seq == seq {
		return trades[i], true
	}
	return Trade{}, false
}

// UserTrades returns the chronological subsequence for one user on one
// token.
func (s *Store) UserTrades(tokenID, userID string) []Trade {
	all := s.Trades(tokenID)
	var out []Trade
	for _, t := range all {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// TokensOf returns every token a user has ever traded, sorted for
// deterministic iteration.
func (s *Store) TokensOf(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.userTokens[userID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TokenIDs returns all registered tokens, sorted.
func (s *Store) TokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
