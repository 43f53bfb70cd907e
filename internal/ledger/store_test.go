package ledger_test

import (
	"errors"
	"testing"

	"curveledger/internal/ledger"
	"curveledger/internal/testutil"
)

func newStoreWithToken(t *testing.T) (*ledger.Store, *testutil.Curve) {
	t.Helper()
	store := ledger.NewStore()
	cfg := testutil.DefaultConfig("tok-1", "creator")
	if err := store.CreateToken(cfg); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return store, testutil.NewCurve(cfg)
}

func TestCreateTokenRejectsDuplicate(t *testing.T) {
	store, _ := newStoreWithToken(t)
	err := store.CreateToken(testutil.DefaultConfig("tok-1", "creator"))
	if !errors.Is(err, ledger.ErrTokenExists) {
		t.Errorf("duplicate CreateToken err = %v, want ErrTokenExists", err)
	}
}

func TestCreateTokenValidatesConfig(t *testing.T) {
	store := ledger.NewStore()

	cfg := testutil.DefaultConfig("", "creator")
	if err := store.CreateToken(cfg); err == nil {
		t.Error("empty token_id accepted")
	}

	cfg = testutil.DefaultConfig("tok-bad", "creator")
	cfg.LockedBps = 10_000
	if err := store.CreateToken(cfg); err == nil {
		t.Error("locked_bps at denominator accepted")
	}
}

func TestAppendUnknownToken(t *testing.T) {
	store := ledger.NewStore()
	c := testutil.NewCurve(testutil.DefaultConfig("ghost", "creator"))
	err := store.Append(c.Buy("alice", 1_000))
	if !errors.Is(err, ledger.ErrUnknownToken) {
		t.Errorf("Append err = %v, want ErrUnknownToken", err)
	}
}

func TestAppendSequenceRules(t *testing.T) {
	store, c := newStoreWithToken(t)

	first := c.Buy("alice", 1_000)
	if err := store.Append(first); err != nil {
		t.Fatalf("Append seq 1: %v", err)
	}

	second := c.Buy("bob", 2_000)

	// Replaying an already-applied sequence number is stale.
	stale := second
	stale.Seq = 1
	if err := store.Append(stale); !errors.Is(err, ledger.ErrStaleSequence) {
		t.Errorf("replayed seq err = %v, want ErrStaleSequence", err)
	}

	// Skipping ahead leaves a gap.
	skipped := second
	skipped.Seq = 5
	if err := store.Append(skipped); !errors.Is(err, ledger.ErrSequenceGap) {
		t.Errorf("skipped seq err = %v, want ErrSequenceGap", err)
	}

	// The log was untouched by the rejections.
	if got := store.LastSeq("tok-1"); got != 1 {
		t.Fatalf("LastSeq after rejections = %d, want 1", got)
	}

	if err := store.Append(second); err != nil {
		t.Errorf("Append seq 2: %v", err)
	}
}

func TestAppendNonPositiveSeq(t *testing.T) {
	store, c := newStoreWithToken(t)
	tr := c.Buy("alice", 1_000)
	tr.Seq = 0
	if err := store.Append(tr); !errors.Is(err, ledger.ErrStaleSequence) {
		t.Errorf("seq 0 err = %v, want ErrStaleSequence", err)
	}
}

func TestAppendFirstSeqAnchorsBaseline(t *testing.T) {
	// A token whose early history was pruned upstream may start above 1;
	// the first record anchors the baseline.
	store, c := newStoreWithToken(t)
	tr := c.Buy("alice", 1_000)
	tr.Seq = 7
	if err := store.Append(tr); err != nil {
		t.Fatalf("Append anchoring seq 7: %v", err)
	}

	next := c.Buy("bob", 500)
	next.Seq = 8
	if err := store.Append(next); err != nil {
		t.Errorf("Append seq 8: %v", err)
	}
}

func TestAppendReserveValidation(t *testing.T) {
	store, c := newStoreWithToken(t)
	valid := c.Buy("alice", 1_000)

	tests := []struct {
		name   string
		mutate func(*ledger.Trade)
	}{
		{"tampered base snapshot", func(tr *ledger.Trade) { tr.BaseReservesAfter += 5 }},
		{"tampered token snapshot", func(tr *ledger.Trade) { tr.TokenReservesAfter -= 5 }},
		{"zero base amount", func(tr *ledger.Trade) { tr.BaseAmount = 0 }},
		{"negative token amount", func(tr *ledger.Trade) { tr.TokenAmount = -1 }},
		{
			// Consistent snapshot but an output three past the quote.
			"beyond rounding tolerance",
			func(tr *ledger.Trade) {
				tr.TokenAmount -= 3
				tr.TokenReservesAfter += 3
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := valid
			tt.mutate(&tr)
			if err := store.Append(tr); !errors.Is(err, ledger.ErrReserveMismatch) {
				t.Errorf("Append err = %v, want ErrReserveMismatch", err)
			}
		})
	}

	// Within tolerance: one token of rounding drift is accepted.
	tr := valid
	tr.TokenAmount--
	tr.TokenReservesAfter++
	if err := store.Append(tr); err != nil {
		t.Errorf("Append within tolerance: %v", err)
	}
}

func TestAppendRejectsReserveExhaustion(t *testing.T) {
	store, c := newStoreWithToken(t)
	if err := store.Append(c.Buy("alice", 1_000)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A sell whose gross output would drain the base reserves entirely.
	tr := c.Sell("alice", 50_000)
	tr.BaseAmount = c.Base + tr.BaseAmount + 1
	tr.BaseReservesAfter = -1
	if err := store.Append(tr); !errors.Is(err, ledger.ErrReserveMismatch) {
		t.Errorf("exhausting sell err = %v, want ErrReserveMismatch", err)
	}
}

func TestMarkGraduatedOneWay(t *testing.T) {
	store, _ := newStoreWithToken(t)

	if store.MarkGraduated("ghost") {
		t.Error("unknown token graduated")
	}
	if !store.MarkGraduated("tok-1") {
		t.Error("first flip returned false")
	}
	if store.MarkGraduated("tok-1") {
		t.Error("second flip returned true")
	}
	if !store.IsGraduated("tok-1") {
		t.Error("IsGraduated false after flip")
	}
}

func TestStoreLookups(t *testing.T) {
	store, c := newStoreWithToken(t)
	trades := []ledger.Trade{
		c.Buy("alice", 1_000),
		c.Buy("bob", 2_000),
		c.Sell("alice", 3_000),
	}
	for _, tr := range trades {
		if err := store.Append(tr); err != nil {
			t.Fatalf("Append seq %d: %v", tr.Seq, err)
		}
	}

	if got := len(store.Trades("tok-1")); got != 3 {
		t.Errorf("Trades len = %d, want 3", got)
	}

	last, ok := store.LastTrade("tok-1")
	if !ok || last.Seq != 3 {
		t.Errorf("LastTrade = (%+v, %v), want seq 3", last, ok)
	}

	at, ok := store.TradeAt("tok-1", 2)
	if !ok || at.UserID != "bob" {
		t.Errorf("TradeAt(2) = (%+v, %v), want bob", at, ok)
	}
	if _, ok := store.TradeAt("tok-1", 9); ok {
		t.Error("TradeAt(9) found a record")
	}

	alice := store.UserTrades("tok-1", "alice")
	if len(alice) != 2 || alice[0].Seq != 1 || alice[1].Seq != 3 {
		t.Errorf("UserTrades(alice) = %+v, want seqs [1 3]", alice)
	}

	if got := store.TokensOf("alice"); len(got) != 1 || got[0] != "tok-1" {
		t.Errorf("TokensOf(alice) = %v", got)
	}
	if got := store.TokensOf("nobody"); got != nil {
		t.Errorf("TokensOf(nobody) = %v, want nil", got)
	}
}
